package chain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paralyuzov/raven-client/internal/domain"
	portmocks "github.com/paralyuzov/raven-client/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStoreGetUsesPrimaryWhenItSucceeds(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Get", mock.Anything, domain.AccessTokenKey).Return("from-bolt", nil).Once()

	value, err := store.Get(context.Background(), domain.AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "from-bolt", value)
}

func TestStoreGetFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Get", mock.Anything, domain.AccessTokenKey).Return("", errors.New("database locked")).Once()
	fallback.On("Get", mock.Anything, domain.AccessTokenKey).Return("from-file", nil).Once()

	value, err := store.Get(context.Background(), domain.AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetMissingEverywhereKeepsNotFound(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Get", mock.Anything, domain.RefreshTokenKey).Return("", domain.ErrSecretNotFound).Once()
	fallback.On("Get", mock.Anything, domain.RefreshTokenKey).Return("", domain.ErrSecretNotFound).Once()

	_, err := store.Get(context.Background(), domain.RefreshTokenKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
	assert.ErrorContains(t, err, "primary backend")
	assert.ErrorContains(t, err, "fallback backend")
}

func TestStorePutSkipsFallbackOnCancellation(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Put", mock.Anything, domain.AccessTokenKey, "v").Return(context.Canceled).Once()

	err := store.Put(context.Background(), domain.AccessTokenKey, "v")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreDeleteClearsBothBackends(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Delete", mock.Anything, domain.AccessTokenKey).Return(nil).Once()
	fallback.On("Delete", mock.Anything, domain.AccessTokenKey).Return(nil).Once()

	require.NoError(t, store.Delete(context.Background(), domain.AccessTokenKey))
}

func TestStoreDeleteReportsFallbackFailure(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Delete", mock.Anything, domain.AccessTokenKey).Return(nil).Once()
	fallback.On("Delete", mock.Anything, domain.AccessTokenKey).Return(errors.New("read-only fs")).Once()

	err := store.Delete(context.Background(), domain.AccessTokenKey)
	assert.ErrorContains(t, err, "fallback backend delete failed")
}

func TestNewStoreCheckedRejectsNilBackends(t *testing.T) {
	t.Parallel()

	_, err := NewStoreChecked(nil, portmocks.NewMockSecretStore(t))
	assert.ErrorIs(t, err, errNilPrimaryStore)

	_, err = NewStoreChecked(portmocks.NewMockSecretStore(t), nil)
	assert.ErrorIs(t, err, errNilFallbackStore)
}

func TestBoltFirstRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewBoltFirstWithFileFallback(filepath.Join(root, "session.db"), filepath.Join(root, "secrets"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, domain.AccessTokenKey, "access-1"))

	got, err := store.Get(ctx, domain.AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got)

	_, err = os.Stat(filepath.Join(root, "secrets", domain.AccessTokenKey))
	assert.True(t, os.IsNotExist(err), "file fallback should stay unused while bolt works")
}

func TestBoltUnavailableFallsBackToFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	blocker := filepath.Join(root, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store, err := NewBoltFirstWithFileFallback(filepath.Join(blocker, "session.db"), filepath.Join(root, "secrets"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, domain.RefreshTokenKey, "refresh-1"))

	got, err := store.Get(ctx, domain.RefreshTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", got)

	require.NoError(t, store.Delete(ctx, domain.RefreshTokenKey))
	_, err = os.Stat(filepath.Join(root, "secrets", domain.RefreshTokenKey))
	assert.True(t, os.IsNotExist(err))
}
