package domain

// Realtime event names shared with the backend.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
	EventAuthError    = "auth_error"

	EventJoinConversation   = "join_conversation"
	EventLeaveConversation  = "leave_conversation"
	EventJoinedConversation = "joined_conversation"
	EventSendMessage        = "send_message"
	EventSendMediaMessage   = "send_media_message"
	EventNewMessage         = "new_message"
	EventGetFriendStatus    = "get_friend_status"

	EventFriendStatusChange    = "friend_status_change"
	EventFriendStatusResponse  = "friend_status_response"
	EventUnreadCountUpdate     = "unread_count_update"
	EventRefreshFriendRequests = "refresh_friend_requests"
	EventFriendshipUpdated     = "friendship_updated"
)

type AuthErrorType string

const (
	AuthErrorTokenExpired AuthErrorType = "token_expired"
	AuthErrorInvalidToken AuthErrorType = "invalid_token"
)

type AuthError struct {
	Type    AuthErrorType `json:"type"`
	Message string        `json:"message"`
}

type FriendStatusChange struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type FriendStatusResponse struct {
	FriendID string `json:"friendId"`
	IsOnline bool   `json:"isOnline"`
}

type UnreadCountUpdate struct {
	FriendID    string `json:"friendId"`
	UnreadCount int    `json:"unreadCount"`
}

type FriendRequestNotice struct {
	Message string `json:"message"`
	Sender  struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"sender"`
}
