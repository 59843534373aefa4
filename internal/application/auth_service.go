package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/paralyuzov/raven-client/internal/domain"
	"github.com/paralyuzov/raven-client/internal/ports"
)

// AuthService owns the signed-in user. Tokens live in the session store; the
// service only moves them there after a successful login.
type AuthService struct {
	api     ports.AuthAPI
	session ports.SessionStore

	mu   sync.RWMutex
	user *domain.User
}

func NewAuthService(api ports.AuthAPI, session ports.SessionStore) *AuthService {
	return &AuthService{api: api, session: session}
}

// User returns the signed-in user, if CheckAuth or Login resolved one.
func (s *AuthService) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

func (s *AuthService) setUser(user *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// CheckAuth verifies the stored session against the backend. It reports
// false without a network call when there is no access token. The session is
// marked ready whatever the outcome.
func (s *AuthService) CheckAuth(ctx context.Context) (bool, error) {
	defer s.session.MarkReady()

	if !s.session.IsAuthenticated() {
		return false, nil
	}

	user, err := s.api.Verify(ctx)
	if err != nil {
		s.setUser(nil)
		if clearErr := s.session.Clear(ctx); clearErr != nil {
			return false, fmt.Errorf("verify session and clear: %w", errors.Join(err, clearErr))
		}
		if errors.Is(err, domain.ErrUnauthenticated) {
			return false, nil
		}
		return false, fmt.Errorf("verify session: %w", err)
	}

	s.setUser(&user)
	return true, nil
}

func (s *AuthService) Login(ctx context.Context, identifier string, password string) (domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return domain.User{}, errors.New("identifier and password are required")
	}

	resp, err := s.api.Login(ctx, domain.LoginRequest{Identifier: identifier, Password: password})
	if err != nil {
		return domain.User{}, fmt.Errorf("login: %w", err)
	}

	pair := domain.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := s.session.SetTokens(ctx, pair); err != nil {
		return domain.User{}, fmt.Errorf("store session: %w", err)
	}

	s.setUser(&resp.User)
	return resp.User, nil
}

func (s *AuthService) Register(ctx context.Context, user domain.RegisterRequest) (domain.RegisterResponse, error) {
	resp, err := s.api.Register(ctx, user)
	if err != nil {
		return domain.RegisterResponse{}, fmt.Errorf("register: %w", err)
	}
	return resp, nil
}

// Logout tells the backend and then forgets the local session. The local
// session is cleared even when the backend call fails.
func (s *AuthService) Logout(ctx context.Context) error {
	var apiErr error
	if s.session.IsAuthenticated() {
		apiErr = s.api.Logout(ctx)
	}

	s.setUser(nil)
	if err := s.session.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", errors.Join(apiErr, err))
	}
	if apiErr != nil {
		return fmt.Errorf("logout: %w", apiErr)
	}
	return nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error) {
	user, err := s.api.UpdateProfile(ctx, update)
	if err != nil {
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}

	s.setUser(&user)
	return user, nil
}
