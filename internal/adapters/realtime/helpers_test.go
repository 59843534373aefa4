package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/paralyuzov/raven-client/internal/adapters/realtime"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	inbound   chan realtime.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []realtime.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan realtime.Envelope, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case env, ok := <-c.inbound:
		if !ok {
			return io.ErrUnexpectedEOF
		}
		*(v.(*realtime.Envelope)) = env
		return nil
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v.(realtime.Envelope))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// drop simulates a transport failure.
func (c *fakeConn) drop() {
	close(c.inbound)
}

func (c *fakeConn) push(t *testing.T, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	c.inbound <- realtime.Envelope{Event: event, Data: raw}
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.written))
	for _, env := range c.written {
		var payload map[string]any
		_ = json.Unmarshal(env.Data, &payload)
		id, _ := payload["conversationId"].(string)
		if id != "" {
			out = append(out, env.Event+":"+id)
			continue
		}
		out = append(out, env.Event)
	}
	return out
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	tokens   []string
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, token string) (realtime.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.tokens = append(d.tokens, token)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *fakeDialer) dialTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// instantClock fires every timer immediately and records the delays.
type instantClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *instantClock) Now() time.Time {
	return time.Now()
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *instantClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// stuckClock never fires; it reports each requested delay.
type stuckClock struct {
	requested chan time.Duration
}

func (c *stuckClock) Now() time.Time {
	return time.Now()
}

func (c *stuckClock) After(d time.Duration) <-chan time.Time {
	c.requested <- d
	return make(chan time.Time)
}

type staticTokens struct {
	mu    sync.Mutex
	token string
}

func (s *staticTokens) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *staticTokens) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

type fakeAuth struct {
	mu       sync.Mutex
	expired  int
	failures []string
}

func (a *fakeAuth) HandleTokenExpired(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expired++
	return nil
}

func (a *fakeAuth) HandleAuthFailure(_ context.Context, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, reason)
}

func (a *fakeAuth) calls() (int, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expired, append([]string(nil), a.failures...)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(event string) realtime.Handler {
	return func(json.RawMessage) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, event)
	}
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fixture struct {
	channel *realtime.Channel
	dialer  *fakeDialer
	tokens  *staticTokens
	auth    *fakeAuth
}

func newFixture(t *testing.T, clock ports.Clock) *fixture {
	t.Helper()

	f := &fixture{
		dialer: &fakeDialer{},
		tokens: &staticTokens{token: "t1"},
		auth:   &fakeAuth{},
	}
	channel, err := realtime.NewChannel(realtime.Options{
		URL:            "ws://backend.test/chat",
		Dialer:         f.dialer,
		Tokens:         f.tokens,
		Auth:           f.auth,
		ReconnectDelay: time.Second,
		Clock:          clock,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	f.channel = channel
	t.Cleanup(channel.Close)

	return f
}
