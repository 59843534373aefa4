// Package bolt provides a BBolt-backed secret store for session tokens.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
	"go.etcd.io/bbolt"
)

const (
	dbFileMode  = 0o600
	dbDirMode   = 0o700
	openTimeout = time.Second
)

var sessionBucket = []byte("session")

// Store implements ports.SecretStore on a single bucket of a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// Open creates the parent directory if needed and opens the database at path.
// A second process holding the file lock makes Open fail after a short timeout
// instead of blocking forever.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bolt store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), dbDirMode); err != nil {
		return nil, fmt.Errorf("create bolt store directory: %w", err)
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %q: %w", path, err)
	}

	return NewStore(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionBucket)
		if err != nil {
			return fmt.Errorf("create session bucket: %w", err)
		}
		if err := b.Put([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("put bolt secret %q: %w", key, err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}

	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if b == nil {
			return fmt.Errorf("bolt secret %q: %w", key, domain.ErrSecretNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("bolt secret %q: %w", key, domain.ErrSecretNotFound)
		}
		// data is only valid for the lifetime of the transaction.
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}

	return value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(key)); err != nil {
			return fmt.Errorf("delete bolt secret %q: %w", key, err)
		}
		return nil
	})
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("secret key is empty")
	}
	return nil
}
