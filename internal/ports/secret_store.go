package ports

import "context"

// SecretStore is the durable key-value storage that session tokens live in.
// Get returns an error wrapping domain.ErrSecretNotFound for unknown keys.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
