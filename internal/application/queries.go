package application

import (
	"time"

	"github.com/paralyuzov/raven-client/internal/domain"
)

// SessionStatus is the read model behind `raven session status`.
type SessionStatus struct {
	Authenticated   bool
	HasRefreshToken bool
	AccessExpiresAt time.Time
	User            *domain.User
	ConfigPath      string
	BaseURL         string
	RealtimeURL     string
	Storage         string
}

// ExpiresIn is the time left on the access token, zero when unknown or past.
func (s SessionStatus) ExpiresIn(now time.Time) time.Duration {
	if s.AccessExpiresAt.IsZero() || !s.AccessExpiresAt.After(now) {
		return 0
	}
	return s.AccessExpiresAt.Sub(now)
}
