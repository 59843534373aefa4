package domain

type Contact struct {
	ID          string `json:"_id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Avatar      string `json:"avatar"`
	IsOnline    bool   `json:"isOnline,omitempty"`
	UnreadCount int    `json:"unreadCount,omitempty"`
}

func (c Contact) DisplayName() string {
	if name := joinNonEmpty(c.FirstName, c.LastName); name != "" {
		return name
	}
	return c.Email
}

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestRejected FriendRequestStatus = "rejected"
)

type FriendRequestSender struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Avatar    string `json:"avatar"`
}

type FriendRequest struct {
	ID        string              `json:"_id"`
	Sender    FriendRequestSender `json:"userId"`
	FriendID  string              `json:"friendId"`
	Status    FriendRequestStatus `json:"status"`
	CreatedAt string              `json:"createdAt"`
}
