package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "nested", "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorePutGetDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, domain.AccessTokenKey, "access-1"))
	require.NoError(t, store.Put(ctx, domain.RefreshTokenKey, "refresh-1"))

	got, err := store.Get(ctx, domain.AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got)

	require.NoError(t, store.Delete(ctx, domain.AccessTokenKey))
	_, err = store.Get(ctx, domain.AccessTokenKey)
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)

	got, err = store.Get(ctx, domain.RefreshTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", got)
}

func TestStoreGetBeforeAnyWrite(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Get(context.Background(), domain.AccessTokenKey)
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
	assert.NoError(t, store.Delete(context.Background(), domain.AccessTokenKey))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), domain.RefreshTokenKey, "refresh-keep"))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(context.Background(), domain.RefreshTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "refresh-keep", got)
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	assert.ErrorContains(t, store.Put(context.Background(), " ", "v"), "secret key is empty")
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	assert.ErrorContains(t, err, "path is empty")
}
