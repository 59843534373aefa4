package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paralyuzov/raven-client/internal/domain"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
	putErr error
}

func newMemoryStore(values map[string]string) *memoryStore {
	if values == nil {
		values = map[string]string{}
	}
	return &memoryStore{values: values}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("memory secret %q: %w", key, domain.ErrSecretNotFound)
	}
	return value, nil
}

func (s *memoryStore) Put(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putErr != nil {
		return s.putErr
	}
	s.values[key] = value
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *memoryStore) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

type refresherFunc func(ctx context.Context, refreshToken string) (domain.TokenPair, error)

func (f refresherFunc) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	return f(ctx, refreshToken)
}

type fakeReconnector struct {
	mu          sync.Mutex
	tokens      []string
	disconnects int
	err         error
}

func (r *fakeReconnector) ReconnectWithToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens = append(r.tokens, token)
	return r.err
}

func (r *fakeReconnector) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnects++
}

func (r *fakeReconnector) state() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.tokens...), r.disconnects
}

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []chan time.Time
	requested chan time.Duration
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now, requested: make(chan time.Duration, 16)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.timers = append(c.timers, ch)
	c.mu.Unlock()
	c.requested <- d
	return ch
}

func (c *fakeClock) fire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.timers) == 0 {
		return
	}
	c.timers[0] <- c.now
	c.timers = c.timers[1:]
}
