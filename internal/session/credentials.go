package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/rs/zerolog"
)

// Credentials is the process-wide holder of the session tokens. It mirrors
// every mutation into the durable store so a restarted client resumes the
// same session.
type Credentials struct {
	store  ports.SecretStore
	logger zerolog.Logger

	// writeMu orders store writes so a Clear is never followed by a stale
	// write of tokens issued before it.
	writeMu sync.Mutex

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	epoch        uint64

	readyOnce sync.Once
	ready     chan struct{}
}

func NewCredentials(store ports.SecretStore, logger zerolog.Logger) *Credentials {
	return &Credentials{
		store:  store,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Hydrate loads persisted tokens. Missing keys leave the session empty.
func (c *Credentials) Hydrate(ctx context.Context) error {
	access, err := c.load(ctx, domain.AccessTokenKey)
	if err != nil {
		return err
	}
	refresh, err := c.load(ctx, domain.RefreshTokenKey)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.accessToken = access
	c.refreshToken = refresh
	c.mu.Unlock()

	return nil
}

func (c *Credentials) load(ctx context.Context, key string) (string, error) {
	value, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

func (c *Credentials) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Credentials) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshToken
}

func (c *Credentials) IsAuthenticated() bool {
	return c.AccessToken() != ""
}

func (c *Credentials) Snapshot() domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.Session{
		AccessToken:  c.accessToken,
		RefreshToken: c.refreshToken,
		Ready:        c.Ready(),
	}
}

// Epoch identifies the current session. Every Clear starts a new one.
func (c *Credentials) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// SetTokens replaces the session tokens. An empty refresh token keeps the
// current one.
func (c *Credentials) SetTokens(ctx context.Context, pair domain.TokenPair) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.setTokensLocked(ctx, pair)
}

// SetTokensIf stores pair only while the session from epoch is still current.
// It returns ErrSessionCleared when the session was cleared in between.
func (c *Credentials) SetTokensIf(ctx context.Context, epoch uint64, pair domain.TokenPair) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.Epoch() != epoch {
		return domain.ErrSessionCleared
	}
	return c.setTokensLocked(ctx, pair)
}

func (c *Credentials) setTokensLocked(ctx context.Context, pair domain.TokenPair) error {
	if pair.AccessToken == "" {
		return errors.New("access token is empty")
	}

	if err := c.store.Put(ctx, domain.AccessTokenKey, pair.AccessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if pair.RefreshToken != "" {
		if err := c.store.Put(ctx, domain.RefreshTokenKey, pair.RefreshToken); err != nil {
			return fmt.Errorf("persist refresh token: %w", err)
		}
	}

	c.mu.Lock()
	c.accessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		c.refreshToken = pair.RefreshToken
	}
	c.mu.Unlock()

	return nil
}

func (c *Credentials) SetAccessToken(ctx context.Context, token string) error {
	return c.SetTokens(ctx, domain.TokenPair{AccessToken: token})
}

// Clear drops the in-memory session first so no consumer keeps using a token
// that failed to be deleted from disk.
func (c *Credentials) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.accessToken = ""
	c.refreshToken = ""
	c.epoch++
	c.mu.Unlock()

	var errs error
	for _, key := range []string{domain.AccessTokenKey, domain.RefreshTokenKey} {
		if err := c.store.Delete(ctx, key); err != nil {
			errs = errors.Join(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if errs != nil {
		c.logger.Warn().Err(errs).Msg("clear persisted session")
	}

	return errs
}

// MarkReady records that the first authentication check has settled. Only the
// first call has an effect.
func (c *Credentials) MarkReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Credentials) Ready() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until MarkReady was called or ctx is done.
func (c *Credentials) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
