// internal/auth/credentials.go
package auth

import (
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// expiryLeeway is how long before the recorded exp a token is already
// treated as stale, so a token never expires mid-request.
const expiryLeeway = 60 * time.Second

// CredentialStore holds one session's tokens. It is owned and mutated
// exclusively by its Authenticator; everything else reads the bearer
// token through the Authenticator's accessor. No network I/O here.
type CredentialStore struct {
	mu sync.Mutex

	accessToken  string
	accessExpiry time.Time // zero when the token carries no exp claim
	refreshToken string
	stale        bool
}

// SetTokens records the result of a successful login or refresh.
// Expiries are read from the tokens' exp claims; the client holds no
// key set, so tokens are parsed without signature verification.
func (s *CredentialStore) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	s.accessExpiry = tokenExpiry(access)
	if refresh != "" {
		s.refreshToken = refresh
	}
	s.stale = false
}

// FreshAccessToken returns the access token when one is held and not
// known to be expired or stale.
func (s *CredentialStore) FreshAccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken == "" || s.stale {
		return "", false
	}
	if !s.accessExpiry.IsZero() && time.Now().After(s.accessExpiry.Add(-expiryLeeway)) {
		return "", false
	}
	return s.accessToken, true
}

// RefreshToken returns the held refresh token, if any.
func (s *CredentialStore) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// MarkStale flags the access token so the next BearerToken call goes
// through refresh or login. Used after an observed 401.
func (s *CredentialStore) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

// Clear drops both tokens. Idempotent.
func (s *CredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.accessExpiry = time.Time{}
	s.refreshToken = ""
	s.stale = false
}

// Empty reports whether the store holds no access token at all.
func (s *CredentialStore) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken == ""
}

func tokenExpiry(raw string) time.Time {
	tok, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		// Opaque (non-JWT) token: no local expiry knowledge, rely on
		// the 401 path to detect staleness.
		return time.Time{}
	}
	return tok.Expiration()
}
