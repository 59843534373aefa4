package httpapi_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paralyuzov/raven-client/internal/adapters/httpapi"
	"github.com/paralyuzov/raven-client/internal/adapters/realtime"
	"github.com/paralyuzov/raven-client/internal/adapters/secrets/file"
	"github.com/paralyuzov/raven-client/internal/backendtest"
	"github.com/paralyuzov/raven-client/internal/domain"
	portmocks "github.com/paralyuzov/raven-client/internal/ports/mocks"
	"github.com/paralyuzov/raven-client/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv   *backendtest.Server
	creds *session.Credentials
	coord *session.Coordinator
	gw    *httpapi.Gateway
	nav   *portmocks.MockNavigator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	srv := backendtest.New(t)
	srv.AddUser("ana@example.com", "secret", domain.User{ID: "u1", FirstName: "Ana", Email: "ana@example.com"})

	creds := session.NewCredentials(file.NewStore(t.TempDir()), zerolog.Nop())
	client, err := httpapi.NewClient(httpapi.Options{BaseURL: srv.URL()})
	require.NoError(t, err)

	nav := portmocks.NewMockNavigator(t)
	coord := session.NewCoordinator(creds, client, nav, session.CoordinatorConfig{})

	return &harness{
		srv:   srv,
		creds: creds,
		coord: coord,
		gw:    httpapi.NewGateway(client, creds, coord),
		nav:   nav,
	}
}

func (h *harness) signIn(t *testing.T) domain.TokenPair {
	t.Helper()

	pair := h.srv.IssueTokens("u1")
	require.NoError(t, h.creds.SetTokens(context.Background(), pair))
	return pair
}

type fakeChannel struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (c *fakeChannel) ReconnectWithToken(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
	return c.err
}

func (c *fakeChannel) reconnects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

func TestGatewayAttachesBearerAndRequestID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	pair := h.signIn(t)

	_, err := h.gw.Contacts(context.Background())
	require.NoError(t, err)

	reqs := h.srv.RequestsTo("/friends/get-friends")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer "+pair.AccessToken, reqs[0].Authorization)
	_, err = uuid.Parse(reqs[0].RequestID)
	assert.NoError(t, err)
}

func TestGatewayRefreshesOn401AndReplaysOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	pair := h.signIn(t)
	h.srv.ExpireAccessTokens()

	_, err := h.gw.Contacts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.srv.RefreshCalls())
	reqs := h.srv.RequestsTo("/friends/get-friends")
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer "+pair.AccessToken, reqs[0].Authorization)
	assert.Equal(t, "Bearer "+h.creds.AccessToken(), reqs[1].Authorization)
	assert.NotEqual(t, pair.AccessToken, h.creds.AccessToken())
	assert.Equal(t, pair.RefreshToken, h.creds.RefreshToken(), "refresh token kept when not rotated")
}

func TestGatewayStoresRotatedRefreshToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	pair := h.signIn(t)
	h.srv.SetRotateRefresh(true)
	h.srv.ExpireAccessTokens()

	_, err := h.gw.Verify(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, pair.RefreshToken, h.creds.RefreshToken())
	assert.NotEmpty(t, h.creds.RefreshToken())
}

func TestGatewayConcurrent401sShareOneRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.signIn(t)
	h.srv.ExpireAccessTokens()
	release := h.srv.HoldRefresh()
	defer release()

	const callers = 6
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.gw.Contacts(context.Background())
		}()
	}

	require.Eventually(t, func() bool {
		return h.coord.Refreshing() && h.coord.QueuedCallers() == callers-1
	}, 5*time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.srv.RefreshCalls())
	assert.Len(t, h.srv.RequestsTo("/friends/get-friends"), 2*callers)
}

func TestGateway401WithoutRefreshTokenIsUnauthenticated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.creds.SetAccessToken(context.Background(), "stale"))

	_, err := h.gw.Contacts(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	var statusErr *httpapi.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "Unauthorized", statusErr.Message)
	assert.Zero(t, h.srv.RefreshCalls())
}

func TestGatewayRefreshFailureEndsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.signIn(t)
	h.srv.ExpireAccessTokens()
	h.srv.SetRefreshFails(true)
	h.nav.On("RedirectToLogin", "session expired").Return().Once()

	_, err := h.gw.Contacts(context.Background())
	require.ErrorIs(t, err, domain.ErrRefreshFailed)
	assert.Equal(t, "Invalid refresh token", httpapi.Message(err))

	assert.False(t, h.creds.IsAuthenticated())
	assert.Empty(t, h.creds.RefreshToken())
	assert.Len(t, h.srv.RequestsTo("/friends/get-friends"), 1, "no replay after a failed refresh")
}

func TestGatewayReconnectsChannelAfterRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.signIn(t)
	channel := &fakeChannel{err: domain.ErrReconnectExhausted}
	h.gw.SetChannel(channel)
	h.srv.ExpireAccessTokens()

	_, err := h.gw.Contacts(context.Background())
	require.NoError(t, err, "channel failure must not fail the request")

	assert.Equal(t, []string{h.creds.AccessToken()}, channel.reconnects())
}

func TestGatewayAndChannelShareRefreshAndRejoinRoom(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.signIn(t)

	channel, err := realtime.NewChannel(realtime.Options{
		URL:    "ws" + strings.TrimPrefix(h.srv.URL(), "http") + "chat",
		Tokens: h.creds,
		Auth:   h.coord,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(channel.Close)
	h.coord.SetReconnector(channel)
	h.gw.SetChannel(channel)

	require.NoError(t, channel.Connect(context.Background()))
	require.NoError(t, channel.JoinConversation("c1"))
	h.srv.WaitForFrames(t, 1)

	h.srv.ExpireAccessTokens()
	release := h.srv.HoldRefresh()
	defer release()

	requestErr := make(chan error, 1)
	go func() {
		_, err := h.gw.Contacts(context.Background())
		requestErr <- err
	}()
	h.srv.Push(domain.EventAuthError, domain.AuthError{Type: domain.AuthErrorTokenExpired, Message: "jwt expired"})

	require.Eventually(t, func() bool {
		return h.coord.Refreshing() && h.coord.QueuedCallers() == 1
	}, 5*time.Second, 5*time.Millisecond)
	release()

	require.NoError(t, <-requestErr)
	frames := h.srv.WaitForFrames(t, 2)

	assert.Equal(t, 1, h.srv.RefreshCalls())
	dials := h.srv.DialTokens()
	require.Len(t, dials, 2)
	assert.Equal(t, h.creds.AccessToken(), dials[1])
	assert.Equal(t, []string{domain.EventJoinConversation, domain.EventJoinConversation}, h.srv.FrameEvents())
	assert.JSONEq(t, `{"conversationId":"c1"}`, string(frames[1].Data))
	assert.Equal(t, "c1", channel.CurrentRoom())
	assert.True(t, channel.IsConnected())
}

func TestGatewaySecond401IsFinal(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := 0
	r := chi.NewRouter()
	r.Get("/always-401", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token revoked"}`))
	})
	r.Post("/auth/refresh-token", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"access-2"}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	creds := session.NewCredentials(file.NewStore(t.TempDir()), zerolog.Nop())
	require.NoError(t, creds.SetTokens(context.Background(), domain.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}))
	client, err := httpapi.NewClient(httpapi.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	coord := session.NewCoordinator(creds, client, portmocks.NewMockNavigator(t), session.CoordinatorConfig{})
	gw := httpapi.NewGateway(client, creds, coord)

	_, err = gw.Get(context.Background(), "/always-401", nil)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, "Token revoked", httpapi.Message(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hits)
	assert.Equal(t, "access-2", creds.AccessToken())
}

func TestGatewayLoginDoesNotRefreshOnBadCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.signIn(t)

	_, err := h.gw.Login(context.Background(), domain.LoginRequest{Identifier: "ana@example.com", Password: "wrong"})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Equal(t, "Invalid credentials", httpapi.Message(err))
	assert.Zero(t, h.srv.RefreshCalls())
}

func TestGatewayEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	login, err := h.gw.Login(ctx, domain.LoginRequest{Identifier: "ana@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "u1", login.User.ID)
	require.NoError(t, h.creds.SetTokens(ctx, domain.TokenPair{AccessToken: login.AccessToken, RefreshToken: login.RefreshToken}))

	user, err := h.gw.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana", user.FirstName)

	user, err = h.gw.UpdateProfile(ctx, domain.ProfileUpdate{Nickname: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "ana", user.DisplayName())

	h.srv.SetContacts([]domain.Contact{{ID: "u2", FirstName: "Bo", UnreadCount: 3}})
	contacts, err := h.gw.Contacts(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, 3, contacts[0].UnreadCount)

	h.srv.SetPendingRequests([]domain.FriendRequest{{ID: "fr1", Sender: domain.FriendRequestSender{ID: "u3"}, Status: domain.FriendRequestPending}})
	pending, err := h.gw.PendingFriendRequests(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "u3", pending[0].Sender.ID)

	require.NoError(t, h.gw.SendFriendRequest(ctx, "u4"))
	require.NoError(t, h.gw.AcceptFriendRequest(ctx, "u3"))
	require.NoError(t, h.gw.RejectFriendRequest(ctx, "u5"))
	assert.Equal(t, []string{"send:u4", "accept:u3", "reject:u5"}, h.srv.FriendActions())

	h.srv.SetMessages("c1", []domain.Message{{ID: "m1", ConversationID: "c1", Content: "hi", Type: domain.MessageTypeText}})
	messages, err := h.gw.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Content)

	var progressMu sync.Mutex
	var progress []int
	uploaded, err := h.gw.UploadMedia(ctx, "cat.png", bytes.NewReader(bytes.Repeat([]byte{1}, 4096)), func(p int) {
		progressMu.Lock()
		progress = append(progress, p)
		progressMu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "/uploads/cat.png", uploaded.URL)
	assert.Equal(t, "cat.png", uploaded.Filename)

	progressMu.Lock()
	defer progressMu.Unlock()
	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])

	require.NoError(t, h.gw.Logout(ctx))
}

func TestGatewayRegisterSurfacesValidationMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.gw.Register(context.Background(), domain.RegisterRequest{FirstName: "Ana"})
	require.Error(t, err)
	assert.Equal(t, "email should not be empty", httpapi.Message(err))

	resp, err := h.gw.Register(context.Background(), domain.RegisterRequest{Email: "bo@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "bo@example.com", resp.Data.Email)
}

func TestGatewayRejectsOversizedResponses(t *testing.T) {
	t.Parallel()

	srv := backendtest.New(t)
	srv.SetContacts([]domain.Contact{{ID: strings.Repeat("x", 64)}})
	pair := srv.IssueTokens("u1")

	creds := session.NewCredentials(file.NewStore(t.TempDir()), zerolog.Nop())
	require.NoError(t, creds.SetTokens(context.Background(), pair))
	client, err := httpapi.NewClient(httpapi.Options{BaseURL: srv.URL(), MaxBodyBytes: 16})
	require.NoError(t, err)
	gw := httpapi.NewGateway(client, creds, session.NewCoordinator(creds, client, nil, session.CoordinatorConfig{}))

	_, err = gw.Contacts(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "response body exceeds 16 bytes")
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":      "",
		"scheme":     "ftp://example.com",
		"no host":    "http://",
		"unparsable": "http://[::1",
	}

	for name, baseURL := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := httpapi.NewClient(httpapi.Options{BaseURL: baseURL})
			assert.Error(t, err)
		})
	}
}
