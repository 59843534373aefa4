package realtime

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/paralyuzov/raven-client/internal/domain"
)

const writeWait = 10 * time.Second

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// On registers handler for event and returns the function that removes it.
// Registrations outlive reconnects; calling the returned function more than
// once is harmless.
func (c *Channel) On(event string, handler Handler) (unsubscribe func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = map[uint64]Handler{}
	}
	c.handlers[event][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() { c.off(event, id) })
	}
}

func (c *Channel) off(event string, id uint64) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	handlers := c.handlers[event]
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(c.handlers, event)
	}
}

func (c *Channel) deliver(event string, data []byte) {
	c.handlersMu.RLock()
	handlers := make([]orderedHandler, 0, len(c.handlers[event]))
	for id, handler := range c.handlers[event] {
		handlers = append(handlers, orderedHandler{id: id, fn: handler})
	}
	c.handlersMu.RUnlock()

	slices.SortFunc(handlers, func(a, b orderedHandler) int { return cmp.Compare(a.id, b.id) })
	for _, h := range handlers {
		h.fn(data)
	}
}

type orderedHandler struct {
	id uint64
	fn Handler
}

// emit delivers a locally generated lifecycle event to subscribers.
func (c *Channel) emit(event string, data any) {
	env, err := newEnvelope(event, data)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", event).Msg("encode lifecycle event")
		return
	}
	c.deliver(env.Event, env.Data)
}

// JoinConversation switches the user's room. The previous room, if any, is
// left first and both frames go out back to back.
func (c *Channel) JoinConversation(conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	previous := c.room
	if conn != nil {
		c.room = conversationID
	}
	c.mu.Unlock()

	if conn == nil {
		return domain.ErrNotConnected
	}

	if previous != "" && previous != conversationID {
		if err := c.writeLocked(conn, domain.EventLeaveConversation, conversationPayload{ConversationID: previous}); err != nil {
			return err
		}
	}
	return c.writeLocked(conn, domain.EventJoinConversation, conversationPayload{ConversationID: conversationID})
}

// LeaveConversation leaves conversationID, or the current room when empty.
func (c *Channel) LeaveConversation(conversationID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	room := conversationID
	if room == "" {
		room = c.room
	}
	if conn != nil && room != "" && room == c.room {
		c.room = ""
	}
	c.mu.Unlock()

	if conn == nil {
		return domain.ErrNotConnected
	}
	if room == "" {
		return nil
	}
	return c.writeLocked(conn, domain.EventLeaveConversation, conversationPayload{ConversationID: room})
}

func (c *Channel) SendMessage(conversationID string, content string, messageType domain.MessageType) error {
	if messageType == "" {
		messageType = domain.MessageTypeText
	}
	return c.send(domain.EventSendMessage, domain.OutgoingMessage{
		ConversationID: conversationID,
		Content:        content,
		Type:           messageType,
	})
}

func (c *Channel) SendMediaMessage(media domain.MediaMessage) error {
	if !media.Type.IsMedia() {
		return fmt.Errorf("media message type %q is not image or video", media.Type)
	}
	return c.send(domain.EventSendMediaMessage, media)
}

func (c *Channel) GetFriendStatus(friendID string) error {
	return c.send(domain.EventGetFriendStatus, friendStatusRequest{FriendID: friendID})
}

func (c *Channel) send(event string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return domain.ErrNotConnected
	}
	return c.writeLocked(conn, event, data)
}

// writeLocked writes one frame. Callers hold writeMu.
func (c *Channel) writeLocked(conn Conn, event string, data any) error {
	env, err := newEnvelope(event, data)
	if err != nil {
		return err
	}
	if d, ok := conn.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(writeWait))
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}
