package ports

import (
	"context"
	"encoding/json"
	"io"

	"github.com/paralyuzov/raven-client/internal/domain"
)

type AuthAPI interface {
	Login(ctx context.Context, creds domain.LoginRequest) (domain.LoginResponse, error)
	Register(ctx context.Context, user domain.RegisterRequest) (domain.RegisterResponse, error)
	Logout(ctx context.Context) error
	Verify(ctx context.Context) (domain.User, error)
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error)
}

type ContactsAPI interface {
	Contacts(ctx context.Context) ([]domain.Contact, error)
}

type FriendsAPI interface {
	PendingFriendRequests(ctx context.Context) ([]domain.FriendRequest, error)
	SendFriendRequest(ctx context.Context, receiverID string) error
	AcceptFriendRequest(ctx context.Context, friendID string) error
	RejectFriendRequest(ctx context.Context, friendID string) error
}

type MessagesAPI interface {
	Messages(ctx context.Context, conversationID string) ([]domain.Message, error)
	UploadMedia(ctx context.Context, filename string, content io.Reader, progress func(percent int)) (domain.UploadedFile, error)
}

// Realtime is the live connection as the application services see it.
// On returns the function that removes the handler.
type Realtime interface {
	On(event string, handler func(data json.RawMessage)) (unsubscribe func())
	Connect(ctx context.Context) error
	Disconnect()
	JoinConversation(conversationID string) error
	LeaveConversation(conversationID string) error
	SendMessage(conversationID string, content string, messageType domain.MessageType) error
	SendMediaMessage(media domain.MediaMessage) error
	GetFriendStatus(friendID string) error
}

// SessionStore holds the tokens of the signed-in user.
type SessionStore interface {
	Snapshot() domain.Session
	SetTokens(ctx context.Context, pair domain.TokenPair) error
	Clear(ctx context.Context) error
	IsAuthenticated() bool
	MarkReady()
}
