package domain

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeGIF   MessageType = "gif"
)

func (t MessageType) IsMedia() bool {
	return t == MessageTypeImage || t == MessageTypeVideo
}

type Message struct {
	ID               string      `json:"_id"`
	ConversationID   string      `json:"conversationId"`
	SenderID         string      `json:"senderId"`
	Content          string      `json:"content"`
	Read             bool        `json:"read"`
	Type             MessageType `json:"type"`
	CreatedAt        string      `json:"createdAt,omitempty"`
	UpdatedAt        string      `json:"updatedAt,omitempty"`
	OriginalFileName string      `json:"originalFileName,omitempty"`
	FileSize         int64       `json:"fileSize,omitempty"`
	MimeType         string      `json:"mimeType,omitempty"`
}

// MediaMessage describes an already uploaded file announced to a conversation.
type MediaMessage struct {
	ConversationID   string      `json:"conversationId"`
	FileURL          string      `json:"fileUrl"`
	Type             MessageType `json:"type"`
	OriginalFileName string      `json:"originalFileName"`
	FileSize         int64       `json:"fileSize"`
	MimeType         string      `json:"mimeType"`
}

type UploadedFile struct {
	URL      string
	Filename string
}

type OutgoingMessage struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
}
