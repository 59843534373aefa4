// Package backendtest runs an in-process stand-in for the chat backend: the
// REST endpoints the client calls plus the /chat websocket.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/paralyuzov/raven-client/internal/domain"
)

const signingKey = "backendtest-signing-key"

// AccessTTL is the lifetime encoded in issued access tokens.
const AccessTTL = 15 * time.Minute

type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

// Frame is one JSON message on the websocket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type account struct {
	password string
	user     domain.User
}

type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	accounts      map[string]account
	accessTokens  map[string]string
	refreshTokens map[string]string
	refreshCalls  int
	refreshGate   chan struct{}
	failRefresh   bool
	rotateRefresh bool
	contacts      []domain.Contact
	pending       []domain.FriendRequest
	friendActions []string
	messages      map[string][]domain.Message
	requests      []RecordedRequest
	conns         map[*serverConn]struct{}
	frames        []Frame
	dialTokens    []string
	rejectDials   int
}

type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *serverConn) write(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(frame)
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		accounts:      map[string]account{},
		accessTokens:  map[string]string{},
		refreshTokens: map[string]string{},
		messages:      map[string][]domain.Message{},
		conns:         map[*serverConn]struct{}{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)

	return s
}

func (s *Server) URL() string {
	return s.srv.URL + "/"
}

func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/signup", s.handleSignup)
	r.Post("/auth/refresh-token", s.handleRefresh)
	r.Get("/chat", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/verify", s.handleVerify)
		r.Put("/auth/profile", s.handleProfile)
		r.Get("/friends/get-friends", s.handleContacts)
		r.Get("/friends/pending-requests", s.handlePending)
		r.Post("/friends/send-request", s.handleFriendAction("send", "receiverId"))
		r.Post("/friends/accept-request", s.handleFriendAction("accept", "friendId"))
		r.Post("/friends/reject-request", s.handleFriendAction("reject", "friendId"))
		r.Get("/messages/get-messages", s.handleMessages)
		r.Post("/upload/media", s.handleUpload)
	})

	return r
}

// AddUser registers credentials that /auth/login accepts.
func (s *Server) AddUser(identifier string, password string, user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[identifier] = account{password: password, user: user}
}

// IssueTokens mints a valid token pair for userID without a login call.
func (s *Server) IssueTokens(userID string) domain.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(userID)
}

func (s *Server) issueLocked(userID string) domain.TokenPair {
	claims := jwt.MapClaims{
		"sub": userID,
		"jti": uuid.NewString(),
		"exp": time.Now().Add(AccessTTL).Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		panic(fmt.Sprintf("sign access token: %v", err))
	}
	refresh := "refresh-" + uuid.NewString()

	s.accessTokens[access] = userID
	s.refreshTokens[refresh] = userID
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh}
}

// ExpireAccessTokens makes every issued access token answer 401.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = map[string]string{}
}

func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = map[string]string{}
}

func (s *Server) SetRefreshFails(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRotateRefresh makes refresh responses carry a new refresh token.
func (s *Server) SetRotateRefresh(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateRefresh = rotate
}

// HoldRefresh blocks refresh calls until the returned func is called.
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.refreshGate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *Server) SetContacts(contacts []domain.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = contacts
}

func (s *Server) SetPendingRequests(requests []domain.FriendRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = requests
}

// FriendActions lists friend mutations as "action:id".
func (s *Server) FriendActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.friendActions...)
}

func (s *Server) SetMessages(conversationID string, messages []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = messages
}

func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// RequestsTo returns the recorded requests for path.
func (s *Server) RequestsTo(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, req := range s.Requests() {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-Id"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.userFor(r); !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) userFor(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.accessTokens[token]
	return userID, ok
}

func (s *Server) userByID(id string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.user.ID == id {
			return acct.user
		}
	}
	return domain.User{ID: id}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Identifier]
	if !ok || acct.password != req.Password {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	pair := s.issueLocked(acct.user.ID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, domain.LoginResponse{
		User:         acct.user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": []string{"email should not be empty"}})
		return
	}

	user := domain.User{
		ID:        uuid.NewString(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Nickname:  req.Nickname,
		Email:     req.Email,
	}
	s.AddUser(req.Email, req.Password, user)

	var resp domain.RegisterResponse
	resp.Message = "User registered successfully"
	resp.Data.FirstName = req.FirstName
	resp.Data.LastName = req.LastName
	resp.Data.Nickname = req.Nickname
	resp.Data.Email = req.Email
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	s.refreshCalls++
	gate := s.refreshGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refreshTokens[req.RefreshToken]
	if s.failRefresh || !ok {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	pair := s.issueLocked(userID)
	if s.rotateRefresh {
		delete(s.refreshTokens, req.RefreshToken)
	} else {
		delete(s.refreshTokens, pair.RefreshToken)
		pair.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	delete(s.accessTokens, token)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.userFor(r)
	writeJSON(w, http.StatusOK, map[string]any{"user": s.userByID(userID)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var update domain.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	userID, _ := s.userFor(r)

	s.mu.Lock()
	var updated domain.User
	for key, acct := range s.accounts {
		if acct.user.ID != userID {
			continue
		}
		if update.FirstName != "" {
			acct.user.FirstName = update.FirstName
		}
		if update.LastName != "" {
			acct.user.LastName = update.LastName
		}
		if update.Nickname != "" {
			acct.user.Nickname = update.Nickname
		}
		s.accounts[key] = acct
		updated = acct.user
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"user": updated})
}

func (s *Server) handleContacts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	contacts := append([]domain.Contact{}, s.contacts...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	pending := append([]domain.FriendRequest{}, s.pending...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleFriendAction(action string, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body[field] == "" {
			writeError(w, http.StatusBadRequest, field+" is required")
			return
		}

		s.mu.Lock()
		s.friendActions = append(s.friendActions, action+":"+body[field])
		if action != "send" {
			kept := s.pending[:0]
			for _, req := range s.pending {
				if req.Sender.ID != body[field] {
					kept = append(kept, req)
				}
			}
			s.pending = kept
		}
		s.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversationId")
	s.mu.Lock()
	messages := append([]domain.Message{}, s.messages[conversationID]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]string{
			"fileUrl":          "/uploads/" + header.Filename,
			"originalFileName": header.Filename,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"statusCode": status, "message": message})
}
