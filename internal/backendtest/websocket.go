package backendtest

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/stretchr/testify/require"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	s.dialTokens = append(s.dialTokens, token)
	reject := s.rejectDials > 0
	if reject {
		s.rejectDials--
	}
	_, valid := s.accessTokens[token]
	s.mu.Unlock()

	if reject {
		writeError(w, http.StatusServiceUnavailable, "Try again later")
		return
	}
	if !valid {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{conn: conn}

	s.mu.Lock()
	s.conns[sc] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(sc)
}

func (s *Server) readLoop(sc *serverConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
		_ = sc.conn.Close()
	}()

	for {
		var frame Frame
		if err := sc.conn.ReadJSON(&frame); err != nil {
			return
		}

		s.mu.Lock()
		s.frames = append(s.frames, frame)
		s.mu.Unlock()

		s.reply(sc, frame)
	}
}

func (s *Server) reply(sc *serverConn, frame Frame) {
	switch frame.Event {
	case domain.EventJoinConversation:
		_ = sc.write(newFrame(domain.EventJoinedConversation, json.RawMessage(frame.Data)))
	case domain.EventSendMessage:
		var msg domain.OutgoingMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return
		}
		s.broadcast(newFrame(domain.EventNewMessage, domain.Message{
			ID:             "msg-" + time.Now().Format("150405.000000000"),
			ConversationID: msg.ConversationID,
			Content:        msg.Content,
			Type:           msg.Type,
		}))
	case domain.EventSendMediaMessage:
		var media domain.MediaMessage
		if err := json.Unmarshal(frame.Data, &media); err != nil {
			return
		}
		s.broadcast(newFrame(domain.EventNewMessage, domain.Message{
			ConversationID:   media.ConversationID,
			Content:          media.FileURL,
			Type:             media.Type,
			OriginalFileName: media.OriginalFileName,
			FileSize:         media.FileSize,
			MimeType:         media.MimeType,
		}))
	case domain.EventGetFriendStatus:
		var req struct {
			FriendID string `json:"friendId"`
		}
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return
		}
		_ = sc.write(newFrame(domain.EventFriendStatusResponse, domain.FriendStatusResponse{FriendID: req.FriendID, IsOnline: true}))
	}
}

func newFrame(event string, data any) Frame {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	return Frame{Event: event, Data: raw}
}

func (s *Server) broadcast(frame Frame) {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		_ = sc.write(frame)
	}
}

// Push sends an event to every connected client.
func (s *Server) Push(event string, data any) {
	s.broadcast(newFrame(event, data))
}

// DropConnections closes every websocket without a close handshake, the way
// a network failure would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		_ = sc.conn.Close()
	}
}

// RejectDials makes the next n websocket handshakes fail.
func (s *Server) RejectDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectDials = n
}

// DialTokens lists the bearer token of every handshake attempt.
func (s *Server) DialTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dialTokens...)
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// FrameEvents lists the event names of received frames in order.
func (s *Server) FrameEvents() []string {
	frames := s.Frames()
	events := make([]string, 0, len(frames))
	for _, frame := range frames {
		events = append(events, frame.Event)
	}
	return events
}

// WaitForFrames blocks until at least n frames arrived.
func (s *Server) WaitForFrames(t testing.TB, n int) []Frame {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Frames()) >= n }, 5*time.Second, 5*time.Millisecond)
	return s.Frames()
}

// WaitForConnections blocks until exactly n websockets are open.
func (s *Server) WaitForConnections(t testing.TB, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Connections() == n }, 5*time.Second, 5*time.Millisecond)
}

// CloseConnections closes every websocket with a going-away close frame.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		sc.mu.Lock()
		_ = sc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		sc.mu.Unlock()
		_ = sc.conn.Close()
	}
}
