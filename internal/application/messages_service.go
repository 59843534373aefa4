package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/rs/zerolog"
)

// MessagesService holds the history of the open conversation and sends new
// messages over the realtime channel.
type MessagesService struct {
	api      ports.MessagesAPI
	realtime ports.Realtime
	logger   zerolog.Logger

	mu           sync.RWMutex
	conversation string
	messages     []domain.Message
}

func NewMessagesService(api ports.MessagesAPI, realtime ports.Realtime, logger zerolog.Logger) *MessagesService {
	return &MessagesService{api: api, realtime: realtime, logger: logger}
}

// Fetch loads the history of conversationID. A failed fetch leaves it empty.
func (s *MessagesService) Fetch(ctx context.Context, conversationID string) ([]domain.Message, error) {
	messages, err := s.api.Messages(ctx, conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = conversationID
	if err != nil {
		s.messages = nil
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	s.messages = messages
	return slices.Clone(messages), nil
}

// Open joins the conversation room and loads its history.
func (s *MessagesService) Open(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if err := s.realtime.JoinConversation(conversationID); err != nil {
		return nil, fmt.Errorf("join conversation: %w", err)
	}
	return s.Fetch(ctx, conversationID)
}

func (s *MessagesService) Conversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversation
}

func (s *MessagesService) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

func (s *MessagesService) Add(message domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *MessagesService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Watch appends incoming messages of the open conversation to the history
// and passes them to fn. The returned function stops watching.
func (s *MessagesService) Watch(fn func(domain.Message)) (release func()) {
	return s.realtime.On(domain.EventNewMessage, func(data json.RawMessage) {
		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("malformed new_message payload")
			return
		}
		if msg.ConversationID != s.Conversation() {
			return
		}
		s.Add(msg)
		if fn != nil {
			fn(msg)
		}
	})
}

func (s *MessagesService) Send(conversationID string, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("message is empty")
	}
	if err := s.realtime.SendMessage(conversationID, content, domain.MessageTypeText); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendMedia uploads the attachment and announces it to the conversation.
// Only images and videos are accepted.
func (s *MessagesService) SendMedia(ctx context.Context, cmd SendMediaCommand) (domain.MediaMessage, error) {
	mimeType := cmd.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(cmd.Filename))
	}
	messageType, err := mediaType(mimeType)
	if err != nil {
		return domain.MediaMessage{}, err
	}

	uploaded, err := s.api.UploadMedia(ctx, cmd.Filename, cmd.Content, cmd.Progress)
	if err != nil {
		return domain.MediaMessage{}, fmt.Errorf("upload media: %w", err)
	}

	name := uploaded.Filename
	if name == "" {
		name = filepath.Base(cmd.Filename)
	}
	media := domain.MediaMessage{
		ConversationID:   cmd.ConversationID,
		FileURL:          uploaded.URL,
		Type:             messageType,
		OriginalFileName: name,
		FileSize:         cmd.Size,
		MimeType:         mimeType,
	}
	if err := s.realtime.SendMediaMessage(media); err != nil {
		return domain.MediaMessage{}, fmt.Errorf("send media message: %w", err)
	}
	return media, nil
}

func mediaType(mimeType string) (domain.MessageType, error) {
	base, _, _ := strings.Cut(mimeType, ";")
	switch {
	case strings.HasPrefix(base, "image/"):
		return domain.MessageTypeImage, nil
	case strings.HasPrefix(base, "video/"):
		return domain.MessageTypeVideo, nil
	default:
		return "", fmt.Errorf("unsupported media type %q: only images and videos can be sent", mimeType)
	}
}
