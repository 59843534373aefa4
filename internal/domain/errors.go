package domain

import "errors"

var (
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrNoRefreshToken     = errors.New("no refresh token available")
	ErrRefreshFailed      = errors.New("access token refresh failed")
	ErrReconnectExhausted = errors.New("realtime reconnection failed after max attempts")
	ErrNotConnected       = errors.New("realtime channel not connected")
	ErrSessionCleared     = errors.New("session cleared")
	ErrSecretNotFound     = errors.New("secret not found")

	ErrContactNotFound       = errors.New("contact not found")
	ErrFriendRequestNotFound = errors.New("friend request not found")
)
