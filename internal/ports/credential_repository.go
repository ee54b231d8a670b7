package ports

import (
	"context"

	"github.com/bnema/forwarder/internal/domain"
)

type CredentialRepository interface {
	List(ctx context.Context) ([]domain.CredentialSlot, error)
	Save(ctx context.Context, slot domain.CredentialSlot) error
	Delete(ctx context.Context, id domain.CredentialID) error
}

// RepositoryLocker is implemented by repositories that other processes may
// write concurrently. Holders must re-read before writing.
type RepositoryLocker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}
