package ports

import (
	"context"

	"github.com/bnema/forwarder/internal/domain"
)

// AccountRepository persists managed accounts. Save and Delete return only
// once the change is durable.
type AccountRepository interface {
	GetByID(ctx context.Context, id domain.AccountID) (domain.ManagedAccount, error)
	List(ctx context.Context) ([]domain.ManagedAccount, error)
	Save(ctx context.Context, account domain.ManagedAccount) error
	Delete(ctx context.Context, id domain.AccountID) error
}
