package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/rs/zerolog"
)

const (
	defaultRefreshTimeout  = 30 * time.Second
	defaultRefreshInterval = 14 * time.Minute
	defaultRefreshSkew     = time.Minute
	minRefreshDelay        = 10 * time.Second
)

// TokenRefresher exchanges a refresh token for a new token pair. It must not
// go through the 401 interception of the request gateway.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, error)
}

// Reconnector is the part of the realtime channel the coordinator drives.
type Reconnector interface {
	ReconnectWithToken(ctx context.Context, token string) error
	Disconnect()
}

type CoordinatorConfig struct {
	// RefreshTimeout bounds a single refresh call. Defaults to 30s.
	RefreshTimeout time.Duration
	// RefreshInterval is the proactive refresh period used when the access
	// token carries no exp claim. Defaults to 14m.
	RefreshInterval time.Duration
	// RefreshSkew is how long before exp the proactive refresh fires.
	RefreshSkew time.Duration
	Clock       ports.Clock
	Logger      zerolog.Logger
}

// Coordinator owns the single-flight refresh shared by the request gateway and
// the realtime channel, and turns unrecoverable failures into a hard logout.
type Coordinator struct {
	creds     *Credentials
	refresher TokenRefresher
	navigator ports.Navigator
	clock     ports.Clock
	logger    zerolog.Logger

	refreshTimeout  time.Duration
	refreshInterval time.Duration
	refreshSkew     time.Duration

	flight refreshFlight

	mu          sync.Mutex
	reconnector Reconnector
	stop        chan struct{}
	loopDone    chan struct{}
}

func NewCoordinator(creds *Credentials, refresher TokenRefresher, navigator ports.Navigator, cfg CoordinatorConfig) *Coordinator {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.RefreshSkew < 0 {
		cfg.RefreshSkew = defaultRefreshSkew
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if navigator == nil {
		navigator = ports.NavigatorFunc(func(string) {})
	}

	return &Coordinator{
		creds:           creds,
		refresher:       refresher,
		navigator:       navigator,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		refreshTimeout:  cfg.RefreshTimeout,
		refreshInterval: cfg.RefreshInterval,
		refreshSkew:     cfg.RefreshSkew,
	}
}

func (c *Coordinator) Credentials() *Credentials {
	return c.creds
}

// SetReconnector attaches the realtime channel. The channel is built after the
// coordinator because it reports auth errors back to it.
func (c *Coordinator) SetReconnector(r Reconnector) {
	c.mu.Lock()
	c.reconnector = r
	c.mu.Unlock()
}

func (c *Coordinator) currentReconnector() Reconnector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnector
}

// Refreshing reports whether a refresh call is outstanding.
func (c *Coordinator) Refreshing() bool {
	return c.flight.active()
}

// QueuedCallers reports how many callers wait on the outstanding refresh.
func (c *Coordinator) QueuedCallers() int {
	return c.flight.queued()
}

// Refresh returns a fresh access token, issuing at most one refresh call no
// matter how many callers ask concurrently. The caller that starts the call
// runs onSuccess with the new token before queued callers are released.
// Queued callers get the same token or the same error, in arrival order.
//
// A failed refresh clears the session and redirects to login before the
// error is returned. When the session is cleared while the call is out, the
// new tokens are dropped and every caller gets ErrSessionCleared.
func (c *Coordinator) Refresh(ctx context.Context, onSuccess func(ctx context.Context, token string)) (string, error) {
	results := make(chan refreshResult, 1)
	if !c.flight.join(func(res refreshResult) { results <- res }) {
		c.logger.Debug().Msg("waiting for in-flight token refresh")
		select {
		case res := <-results:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	settled := false
	defer func() {
		if settled {
			return
		}
		p := recover()
		c.flight.settle(refreshResult{err: fmt.Errorf("%w: aborted", domain.ErrRefreshFailed)})
		if p != nil {
			panic(p)
		}
	}()

	// The refresh outlives the request that triggered it: other callers
	// depend on its outcome.
	detached := context.WithoutCancel(ctx)

	epoch := c.creds.Epoch()
	refreshToken := c.creds.RefreshToken()
	if refreshToken == "" {
		settled = true
		c.flight.settle(refreshResult{err: domain.ErrNoRefreshToken})
		return "", domain.ErrNoRefreshToken
	}

	token, err := c.exchange(detached, epoch, refreshToken)
	if errors.Is(err, domain.ErrSessionCleared) {
		// A logout won the race; its result stands.
		c.logger.Debug().Msg("session cleared during token refresh, dropping new tokens")
		settled = true
		c.flight.settle(refreshResult{err: err})
		return "", err
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
		c.logger.Warn().Err(err).Msg("token refresh failed, ending session")
		c.clearSession(detached)
		settled = true
		c.flight.settle(refreshResult{err: err})
		c.navigator.RedirectToLogin("session expired")
		return "", err
	}

	if onSuccess != nil {
		onSuccess(detached, token)
	}

	settled = true
	c.flight.settle(refreshResult{token: token})
	c.logger.Debug().Msg("access token refreshed")
	return token, nil
}

func (c *Coordinator) exchange(ctx context.Context, epoch uint64, refreshToken string) (string, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	pair, err := c.refresher.RefreshToken(refreshCtx, refreshToken)
	if err != nil {
		return "", err
	}
	if pair.AccessToken == "" {
		return "", errors.New("refresh response missing access token")
	}
	if err := c.creds.SetTokensIf(refreshCtx, epoch, pair); err != nil {
		return "", err
	}

	return pair.AccessToken, nil
}

// HandleTokenExpired repairs the realtime channel after the server reported an
// expired token on it: refresh through the shared flight, then reconnect
// with the new token. Anything unrecoverable ends the session.
func (c *Coordinator) HandleTokenExpired(ctx context.Context) error {
	token, err := c.Refresh(ctx, nil)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRefreshFailed), errors.Is(err, domain.ErrSessionCleared):
			// The session already ended and the user was redirected.
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		default:
			c.HardLogout(ctx, "session expired")
		}
		return err
	}

	reconnector := c.currentReconnector()
	if reconnector == nil {
		return nil
	}

	if err := reconnector.ReconnectWithToken(ctx, token); err != nil {
		c.logger.Warn().Err(err).Msg("realtime reconnect after refresh failed, ending session")
		c.HardLogout(ctx, "realtime connection lost")
		return fmt.Errorf("reconnect realtime channel: %w", err)
	}

	return nil
}

// HandleAuthFailure ends the session without retry. It is used for
// credentials the server rejected outright.
func (c *Coordinator) HandleAuthFailure(ctx context.Context, reason string) {
	c.logger.Warn().Str("reason", reason).Msg("realtime authentication rejected")
	c.HardLogout(ctx, "authentication rejected")
}

// HardLogout clears the session, drops the realtime connection and sends the
// user back to login.
func (c *Coordinator) HardLogout(ctx context.Context, reason string) {
	c.clearSession(context.WithoutCancel(ctx))
	c.navigator.RedirectToLogin(reason)
}

func (c *Coordinator) clearSession(ctx context.Context) {
	c.signalStop()
	if err := c.creds.Clear(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("clear session")
	}
	if reconnector := c.currentReconnector(); reconnector != nil {
		reconnector.Disconnect()
	}
}

// Start launches the proactive refresh loop. It refreshes shortly before the
// access token's exp, or every RefreshInterval when the token has none.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop = stop
	c.loopDone = done
	c.mu.Unlock()

	go c.refreshLoop(ctx, stop, done)
}

// Stop ends the proactive refresh loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()

	c.signalStop()
	if done != nil {
		<-done
	}
}

func (c *Coordinator) signalStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Coordinator) refreshLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		wait := c.nextRefreshIn(c.clock.Now())
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-c.clock.After(wait):
		}

		if c.creds.RefreshToken() == "" {
			continue
		}
		if _, err := c.Refresh(ctx, c.reconnectAfterRefresh); err != nil {
			c.logger.Warn().Err(err).Msg("scheduled token refresh")
		}
	}
}

// reconnectAfterRefresh moves the realtime channel to a token refreshed ahead
// of expiry. The old token is still valid, so a failure is only logged.
func (c *Coordinator) reconnectAfterRefresh(ctx context.Context, token string) {
	reconnector := c.currentReconnector()
	if reconnector == nil {
		return
	}
	if err := reconnector.ReconnectWithToken(ctx, token); err != nil {
		c.logger.Warn().Err(err).Msg("realtime reconnect after scheduled refresh")
	}
}

func (c *Coordinator) nextRefreshIn(now time.Time) time.Duration {
	exp, ok := AccessTokenExpiry(c.creds.AccessToken())
	if !ok {
		return c.refreshInterval
	}

	wait := exp.Add(-c.refreshSkew).Sub(now)
	if wait < minRefreshDelay {
		return minRefreshDelay
	}
	if wait > c.refreshInterval {
		return c.refreshInterval
	}
	return wait
}
