package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/paralyuzov/raven-client/internal/adapters/secrets/file"
	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func mockAnyContext() any {
	return mock.MatchedBy(func(context.Context) bool { return true })
}

func newCredentials(t *testing.T, pair domain.TokenPair) *session.Credentials {
	t.Helper()

	creds := session.NewCredentials(file.NewStore(t.TempDir()), zerolog.Nop())
	if pair.AccessToken != "" {
		require.NoError(t, creds.SetTokens(context.Background(), pair))
	}
	return creds
}

// unsignedToken builds a JWT whose exp is set. The signature is irrelevant to
// the client, which never verifies it.
func unsignedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test"))
	require.NoError(t, err)
	return token
}

// fakeRealtime records outgoing calls and lets tests play server events.
type fakeRealtime struct {
	mu       sync.Mutex
	handlers map[string]map[int]func(json.RawMessage)
	nextID   int
	joined   []string
	sent     []domain.OutgoingMessage
	media    []domain.MediaMessage
	statuses []string
	err      error
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{handlers: map[string]map[int]func(json.RawMessage){}}
}

func (r *fakeRealtime) On(event string, handler func(json.RawMessage)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if r.handlers[event] == nil {
		r.handlers[event] = map[int]func(json.RawMessage){}
	}
	r.handlers[event][id] = handler

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[event], id)
	}
}

func (r *fakeRealtime) handlerCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

func (r *fakeRealtime) emit(t *testing.T, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	r.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(r.handlers[event]))
	for _, h := range r.handlers[event] {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}

func (r *fakeRealtime) Connect(context.Context) error { return nil }
func (r *fakeRealtime) Disconnect()                   {}

func (r *fakeRealtime) JoinConversation(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.joined = append(r.joined, conversationID)
	return nil
}

func (r *fakeRealtime) LeaveConversation(string) error { return nil }

func (r *fakeRealtime) SendMessage(conversationID string, content string, messageType domain.MessageType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, domain.OutgoingMessage{ConversationID: conversationID, Content: content, Type: messageType})
	return nil
}

func (r *fakeRealtime) SendMediaMessage(media domain.MediaMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.media = append(r.media, media)
	return nil
}

func (r *fakeRealtime) GetFriendStatus(friendID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.statuses = append(r.statuses, friendID)
	return nil
}

type fakeContactsAPI struct {
	contacts []domain.Contact
	err      error
}

func (a *fakeContactsAPI) Contacts(context.Context) ([]domain.Contact, error) {
	return a.contacts, a.err
}

type fakeFriendsAPI struct {
	mu       sync.Mutex
	pending  []domain.FriendRequest
	fetches  int
	calls    []string
	fetchErr error
	callErr  error
}

func (a *fakeFriendsAPI) PendingFriendRequests(context.Context) ([]domain.FriendRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	out := make([]domain.FriendRequest, len(a.pending))
	copy(out, a.pending)
	return out, nil
}

func (a *fakeFriendsAPI) record(call string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.callErr != nil {
		return a.callErr
	}
	a.calls = append(a.calls, call)
	return nil
}

func (a *fakeFriendsAPI) SendFriendRequest(_ context.Context, receiverID string) error {
	return a.record("send:" + receiverID)
}

func (a *fakeFriendsAPI) AcceptFriendRequest(_ context.Context, friendID string) error {
	return a.record("accept:" + friendID)
}

func (a *fakeFriendsAPI) RejectFriendRequest(_ context.Context, friendID string) error {
	return a.record("reject:" + friendID)
}

func (a *fakeFriendsAPI) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

type fakeMessagesAPI struct {
	messages map[string][]domain.Message
	uploaded []string
	err      error
}

func (a *fakeMessagesAPI) Messages(_ context.Context, conversationID string) ([]domain.Message, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.messages[conversationID], nil
}

func (a *fakeMessagesAPI) UploadMedia(_ context.Context, filename string, content io.Reader, progress func(int)) (domain.UploadedFile, error) {
	if a.err != nil {
		return domain.UploadedFile{}, a.err
	}
	body, err := io.ReadAll(content)
	if err != nil {
		return domain.UploadedFile{}, err
	}
	if len(body) == 0 {
		return domain.UploadedFile{}, errors.New("empty upload")
	}
	if progress != nil {
		progress(100)
	}
	a.uploaded = append(a.uploaded, filename)
	return domain.UploadedFile{URL: "/uploads/" + filename, Filename: filename}, nil
}
