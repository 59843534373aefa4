package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestAccessTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	got, ok := AccessTokenExpiry(signedToken(t, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()}))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))
}

func TestAccessTokenExpiryWithoutExp(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":     "",
		"opaque":    "not-a-jwt",
		"no claim":  signedToken(t, jwt.MapClaims{"sub": "u1"}),
		"bad claim": signedToken(t, jwt.MapClaims{"exp": "tomorrow"}),
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, ok := AccessTokenExpiry(token)
			assert.False(t, ok)
		})
	}
}
