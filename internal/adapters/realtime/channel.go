package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/rs/zerolog"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = time.Second
)

var errChannelClosed = errors.New("realtime channel closed")

// AuthErrorHandler reacts to auth_error events pushed by the server.
type AuthErrorHandler interface {
	HandleTokenExpired(ctx context.Context) error
	HandleAuthFailure(ctx context.Context, reason string)
}

type TokenSource interface {
	AccessToken() string
}

type Options struct {
	URL    string
	Dialer Dialer
	Tokens TokenSource
	Auth   AuthErrorHandler
	// MaxReconnectAttempts bounds the dials of one reconnect, the first
	// included.
	MaxReconnectAttempts int
	// ReconnectDelay is multiplied by the attempt number between dials.
	ReconnectDelay time.Duration
	Clock          ports.Clock
	Logger         zerolog.Logger
}

// Channel is the client side of the realtime connection. It keeps the room
// the user is in across reconnects and survives token rotation.
type Channel struct {
	url         string
	dialer      Dialer
	tokens      TokenSource
	auth        AuthErrorHandler
	maxAttempts int
	delay       time.Duration
	clock       ports.Clock
	logger      zerolog.Logger

	// writeMu serializes frames on the wire. Lock order: writeMu, then mu.
	writeMu sync.Mutex
	// reconnectMu serializes dial sequences.
	reconnectMu sync.Mutex

	mu         sync.Mutex
	state      ConnectionState
	conn       Conn
	connToken  string
	token      string
	// room is set only while connected. resume holds it across a reconnect
	// until the dial succeeds or gives up.
	room       string
	resume     string
	active     bool
	done       chan struct{}
	gen        uint64
	autoCancel context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[string]map[uint64]Handler
	nextID     uint64

	wg sync.WaitGroup
}

func NewChannel(opts Options) (*Channel, error) {
	if opts.URL == "" {
		return nil, errors.New("realtime url is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if opts.ReconnectDelay < 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}

	return &Channel{
		url:         opts.URL,
		dialer:      opts.Dialer,
		tokens:      opts.Tokens,
		auth:        opts.Auth,
		maxAttempts: opts.MaxReconnectAttempts,
		delay:       opts.ReconnectDelay,
		clock:       opts.Clock,
		logger:      opts.Logger,
		handlers:    map[string]map[uint64]Handler{},
	}, nil
}

func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Channel) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Connect opens the connection with the current access token. It is a no-op
// when already connected.
func (c *Channel) Connect(ctx context.Context) error {
	c.cancelAutoReconnect()
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	token := c.currentTokenLocked()
	if token == "" {
		c.mu.Unlock()
		return domain.ErrUnauthenticated
	}
	if !c.active {
		c.active = true
		c.done = make(chan struct{})
	}
	done := c.done
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.url, token)
	if err != nil {
		c.emit(domain.EventConnectError, connectErrorPayload{Attempt: 1, Message: err.Error()})
		c.mu.Lock()
		if c.done == done {
			c.deactivateLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("connect realtime channel: %w", err)
	}

	if !c.attach(conn, token, done) {
		return errChannelClosed
	}
	return nil
}

// Disconnect closes the connection on purpose. No automatic reconnect
// follows and the current room is forgotten.
func (c *Channel) Disconnect() {
	c.cancelAutoReconnect()

	c.mu.Lock()
	conn := c.conn
	wasActive := c.active
	c.deactivateLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasActive {
		c.logger.Debug().Msg("realtime channel disconnected")
		c.emit(domain.EventDisconnect, nil)
	}
}

// Close disconnects and waits for background work to finish.
func (c *Channel) Close() {
	c.Disconnect()
	c.wg.Wait()
}

func (c *Channel) deactivateLocked() {
	c.conn = nil
	c.connToken = ""
	c.room = ""
	c.resume = ""
	c.gen++
	if c.active {
		c.active = false
		close(c.done)
	}
	c.setStateLocked(StateDisconnected)
}

// ReconnectWithToken drops the current connection and dials again with
// token, rejoining the room the user was in. Dials are retried with a
// linearly growing delay; when every attempt fails the error wraps
// domain.ErrReconnectExhausted. A channel that was never opened only records
// the token.
func (c *Channel) ReconnectWithToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("reconnect token is empty")
	}

	c.cancelAutoReconnect()
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.mu.Lock()
	c.token = token
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnected && c.connToken == token {
		c.mu.Unlock()
		return nil
	}
	room := c.suspendRoomLocked()
	old := c.conn
	c.conn = nil
	c.connToken = ""
	c.gen++
	done := c.done
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
		c.emit(domain.EventDisconnect, nil)
	}

	conn, err := c.redial(ctx, done, func() string { return token })
	if err != nil {
		if isClosed(done) {
			return nil
		}
		c.mu.Lock()
		if c.done == done && c.conn == nil {
			c.resume = ""
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		return err
	}

	if !c.attach(conn, token, done) {
		return nil
	}
	c.rejoin(room)
	return nil
}

// redial dials until it succeeds, the attempts run out or ctx ends. The
// wait before attempt n+1 is n times the reconnect delay.
func (c *Channel) redial(ctx context.Context, done <-chan struct{}, token func() string) (Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 1; ; attempt++ {
		conn, err := c.dialer.Dial(ctx, c.url, token())
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.Debug().Err(err).Int("attempt", attempt).Msg("realtime dial failed")
		c.emit(domain.EventConnectError, connectErrorPayload{Attempt: attempt, Message: err.Error()})

		if attempt >= c.maxAttempts {
			return nil, fmt.Errorf("%w: %w", domain.ErrReconnectExhausted, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(c.delay * time.Duration(attempt)):
		}
	}
}

// attach installs conn as the live connection unless the channel was
// disconnected while dialing.
func (c *Channel) attach(conn Conn, token string, done chan struct{}) bool {
	c.mu.Lock()
	if c.done != done || !c.active {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.connToken = token
	c.resume = ""
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn, gen)

	c.emit(domain.EventConnect, nil)
	return true
}

// suspendRoomLocked takes the room off the dropped connection and returns
// the room to rejoin once a new one is attached.
func (c *Channel) suspendRoomLocked() string {
	if c.room != "" {
		c.resume = c.room
	}
	c.room = ""
	return c.resume
}

func (c *Channel) rejoin(room string) {
	if room == "" {
		return
	}
	if err := c.JoinConversation(room); err != nil {
		c.logger.Warn().Err(err).Str("room", room).Msg("rejoin conversation")
	}
}

func (c *Channel) readLoop(conn Conn, gen uint64) {
	defer c.wg.Done()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.connectionLost(conn, gen, err)
			return
		}
		c.dispatch(env)
	}
}

// connectionLost starts the automatic reconnect after a transport failure.
// Errors from connections that were closed on purpose are ignored.
func (c *Channel) connectionLost(conn Conn, gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connToken = ""
	room := c.suspendRoomLocked()
	done := c.done
	ctx, cancel := context.WithCancel(context.Background())
	c.autoCancel = cancel
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn().Err(cause).Msg("realtime connection lost, reconnecting")
	c.emit(domain.EventDisconnect, nil)

	c.wg.Add(1)
	go c.autoReconnect(ctx, cancel, done, room)
}

func (c *Channel) autoReconnect(ctx context.Context, cancel context.CancelFunc, done chan struct{}, room string) {
	defer c.wg.Done()
	defer cancel()

	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.mu.Lock()
	stale := ctx.Err() != nil || c.done != done || c.state != StateReconnecting
	c.mu.Unlock()
	if stale {
		return
	}

	var token string
	conn, err := c.redial(ctx, done, func() string {
		c.mu.Lock()
		defer c.mu.Unlock()
		token = c.currentTokenLocked()
		return token
	})
	if err != nil {
		if ctx.Err() != nil || isClosed(done) {
			return
		}
		c.logger.Error().Err(err).Msg("realtime reconnect gave up")
		c.Disconnect()
		return
	}

	if !c.attach(conn, token, done) {
		return
	}
	c.rejoin(room)
}

func (c *Channel) cancelAutoReconnect() {
	c.mu.Lock()
	cancel := c.autoCancel
	c.autoCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Channel) currentTokenLocked() string {
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			return token
		}
	}
	return c.token
}

func (c *Channel) setStateLocked(state ConnectionState) {
	if c.state == state {
		return
	}
	c.logger.Debug().Stringer("from", c.state).Stringer("to", state).Msg("realtime state")
	c.state = state
}

func (c *Channel) dispatch(env Envelope) {
	switch env.Event {
	case domain.EventAuthError:
		c.handleAuthError(env.Data)
	case domain.EventRefreshFriendRequests:
		if notice, err := Decode[domain.FriendRequestNotice](env.Data); err == nil {
			c.logger.Info().Str("from", notice.Sender.Username).Msg("new friend request")
		}
	}

	c.deliver(env.Event, env.Data)
}

// handleAuthError hands the server verdict to the auth handler off the read
// loop, since recovering may replace this very connection.
func (c *Channel) handleAuthError(data json.RawMessage) {
	authErr, err := Decode[domain.AuthError](data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("malformed auth_error")
	}
	if c.auth == nil {
		c.logger.Warn().Str("type", string(authErr.Type)).Msg("auth_error without handler")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := context.Background()

		if authErr.Type == domain.AuthErrorTokenExpired {
			if err := c.auth.HandleTokenExpired(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("recover from expired realtime token")
			}
			return
		}

		reason := authErr.Message
		if reason == "" {
			reason = string(authErr.Type)
		}
		c.auth.HandleAuthFailure(ctx, reason)
	}()
}

func isClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
