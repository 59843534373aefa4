package domain

// Keys under which tokens are persisted in the secret store.
const (
	AccessTokenKey  = "token"
	RefreshTokenKey = "refreshToken"
)

type Session struct {
	AccessToken  string
	RefreshToken string
	// Ready flips to true once, after the first authentication check settles.
	Ready bool
}

func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// TokenPair is what the backend hands out on login and refresh. An empty
// RefreshToken on refresh means the current one stays valid.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}
