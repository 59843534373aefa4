package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user User
		want string
	}{
		{name: "nickname wins", user: User{Nickname: "neo", FirstName: "Thomas", Email: "neo@example.com"}, want: "neo"},
		{name: "full name", user: User{FirstName: "Thomas", LastName: "Anderson"}, want: "Thomas Anderson"},
		{name: "last name only", user: User{LastName: "Anderson"}, want: "Anderson"},
		{name: "email fallback", user: User{Email: "neo@example.com"}, want: "neo@example.com"},
		{name: "empty", user: User{}, want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.user.DisplayName())
		})
	}
}

func TestContactDisplayName(t *testing.T) {
	assert.Equal(t, "Trinity", Contact{FirstName: "Trinity"}.DisplayName())
	assert.Equal(t, "tank@example.com", Contact{Email: "tank@example.com"}.DisplayName())
}

func TestMessageTypeIsMedia(t *testing.T) {
	assert.True(t, MessageTypeImage.IsMedia())
	assert.True(t, MessageTypeVideo.IsMedia())
	assert.False(t, MessageTypeText.IsMedia())
	assert.False(t, MessageTypeGIF.IsMedia())
}

func TestSessionAuthenticated(t *testing.T) {
	assert.False(t, Session{RefreshToken: "r"}.Authenticated())
	assert.True(t, Session{AccessToken: "a"}.Authenticated())
}

func TestTokenPairOmitsEmptyRefreshToken(t *testing.T) {
	raw, err := json.Marshal(TokenPair{AccessToken: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"accessToken":"a"}`, string(raw))
}

func TestFriendRequestDecodesPopulatedSender(t *testing.T) {
	var req FriendRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"_id": "r1",
		"userId": {"_id": "u2", "username": "morpheus"},
		"friendId": "u1",
		"status": "pending"
	}`), &req))

	assert.Equal(t, "u2", req.Sender.ID)
	assert.Equal(t, "morpheus", req.Sender.Username)
	assert.Equal(t, FriendRequestPending, req.Status)
}
