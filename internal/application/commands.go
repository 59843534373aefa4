package application

import "io"

// SendMediaCommand describes one attachment for MessagesService.SendMedia.
// MimeType is guessed from the file extension when empty.
type SendMediaCommand struct {
	ConversationID string
	Filename       string
	Size           int64
	MimeType       string
	Content        io.Reader
	Progress       func(percent int)
}
