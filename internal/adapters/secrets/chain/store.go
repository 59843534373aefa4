package chain

import (
	"context"
	"errors"
	"fmt"

	boltstore "github.com/paralyuzov/raven-client/internal/adapters/secrets/bolt"
	filestore "github.com/paralyuzov/raven-client/internal/adapters/secrets/file"
	"github.com/paralyuzov/raven-client/internal/ports"
)

// Store writes to primary and falls back to the secondary backend when the
// primary is unusable. Deletes always hit both so that clearing a session
// cannot leave a token behind in whichever backend last accepted it.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
	closers  []func() error
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore) *Store {
	store, err := NewStoreChecked(primary, fallback)
	if err != nil {
		panic(err)
	}

	return store
}

func NewStoreChecked(primary ports.SecretStore, fallback ports.SecretStore) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}

	return &Store{primary: primary, fallback: fallback}, nil
}

// NewBoltFirstWithFileFallback opens the bolt database at dbPath. When it
// cannot be opened (locked by another client, unwritable) the file store
// serves alone behind the same interface.
func NewBoltFirstWithFileFallback(dbPath string, fileRoot string) (*Store, error) {
	fallback := filestore.NewStore(fileRoot)

	primary, err := boltstore.Open(dbPath)
	if err != nil {
		return &Store{primary: unavailableStore{err: err}, fallback: fallback}, nil
	}

	store, err := NewStoreChecked(primary, fallback)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	store.closers = append(store.closers, primary.Close)

	return store, nil
}

func (s *Store) Close() error {
	var errs error
	for _, closeFn := range s.closers {
		errs = errors.Join(errs, closeFn())
	}
	s.closers = nil
	return errs
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := s.fallback.Put(ctx, key, value)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary backend put failed: %w; fallback backend put failed: %w", err, fallbackErr)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if shouldSkipFallback(err) {
		return "", err
	}

	fallbackValue, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr == nil {
		return fallbackValue, nil
	}

	return "", fmt.Errorf("primary backend get failed: %w; fallback backend get failed: %w", err, fallbackErr)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := s.fallback.Delete(ctx, key)
	switch {
	case err == nil && fallbackErr == nil:
		return nil
	case err == nil:
		return fmt.Errorf("fallback backend delete failed: %w", fallbackErr)
	case fallbackErr == nil:
		return fmt.Errorf("primary backend delete failed: %w", err)
	default:
		return fmt.Errorf("primary backend delete failed: %w; fallback backend delete failed: %w", err, fallbackErr)
	}
}

func shouldSkipFallback(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type unavailableStore struct {
	err error
}

func (u unavailableStore) Get(context.Context, string) (string, error) {
	return "", u.err
}

func (u unavailableStore) Put(context.Context, string, string) error {
	return u.err
}

// Nothing can have been written to an unavailable backend.
func (u unavailableStore) Delete(context.Context, string) error {
	return nil
}
