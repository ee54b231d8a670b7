package ports

import "context"

// SecretStore holds credential secret material outside the TOML state files.
// Get of an unknown key returns an error wrapping domain.ErrSecretNotFound;
// Delete of an unknown key succeeds.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
