package application

import (
	"context"
	"fmt"

	"github.com/paralyuzov/raven-client/internal/ports"
	"github.com/paralyuzov/raven-client/internal/session"
)

// StatusService reports on the stored session without changing it, unless
// verification against the backend ends it.
type StatusService struct {
	session ports.SessionStore
	api     ports.AuthAPI
}

func NewStatusService(session ports.SessionStore, api ports.AuthAPI) *StatusService {
	return &StatusService{session: session, api: api}
}

// Status describes the local session. With verify set and a token present,
// the backend is asked who the token belongs to.
func (s *StatusService) Status(ctx context.Context, verify bool) (SessionStatus, error) {
	snap := s.session.Snapshot()
	status := SessionStatus{
		Authenticated:   snap.Authenticated(),
		HasRefreshToken: snap.RefreshToken != "",
	}
	if exp, ok := session.AccessTokenExpiry(snap.AccessToken); ok {
		status.AccessExpiresAt = exp
	}

	if !verify || !status.Authenticated {
		return status, nil
	}

	user, err := s.api.Verify(ctx)
	if err != nil {
		status.Authenticated = s.session.IsAuthenticated()
		return status, fmt.Errorf("verify session: %w", err)
	}
	status.User = &user

	// A refresh during Verify may have replaced the access token.
	if exp, ok := session.AccessTokenExpiry(s.session.Snapshot().AccessToken); ok {
		status.AccessExpiresAt = exp
	}
	return status, nil
}
