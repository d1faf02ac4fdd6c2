package sessions

import (
	"time"

	"github.com/beeunity/beeunity/client/internal/oidc"
)

const (
	// SessionKey is the single store key holding the whole session record.
	SessionKey = "beeunity_session"
	// RefreshBuffer is how long before expiry the proactive refresh fires.
	RefreshBuffer = 90 * time.Second
	// MinRefreshInterval bounds how soon a wake may follow a refresh. A grant
	// without expires_in, or one shorter than RefreshBuffer, would otherwise
	// re-arm at zero.
	MinRefreshInterval = 30 * time.Second
)

// Session is the persisted authentication state. Timestamps are epoch
// seconds. A nil ExpiresAt means the session never expires.
type Session struct {
	AccessToken  string      `json:"accessToken,omitempty"`
	IDToken      string      `json:"idToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	TokenType    string      `json:"tokenType,omitempty"`
	IssuedAt     int64       `json:"issuedAt"`
	ExpiresAt    *int64      `json:"expiresAt"`
	Profile      oidc.Claims `json:"profile"`
}

// IsPresent reports whether the session carries a usable credential.
func (s *Session) IsPresent() bool {
	return s != nil && (s.AccessToken != "" || s.IDToken != "")
}

// IsExpired reports whether now is at or past ExpiresAt.
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return now.Unix() >= *s.ExpiresAt
}

// BearerToken returns the credential sent to the REST API. The ID token
// wins over the access token when both are present.
func (s *Session) BearerToken() string {
	if s == nil {
		return ""
	}
	if s.IDToken != "" {
		return s.IDToken
	}
	return s.AccessToken
}

// sameGrant reports whether o holds the same refresh grant as s. A refresh
// keeps the grant unless the provider rotates the token.
func (s *Session) sameGrant(o *Session) bool {
	if s == nil || o == nil {
		return false
	}
	return s.RefreshToken == o.RefreshToken
}

// Clone returns a deep copy so callers can not mutate the live record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExpiresAt != nil {
		v := *s.ExpiresAt
		c.ExpiresAt = &v
	}
	c.Profile = cloneClaims(s.Profile)
	return &c
}

func cloneClaims(c oidc.Claims) oidc.Claims {
	if c == nil {
		return nil
	}
	out := make(oidc.Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// newSession builds the record for a fresh code exchange.
func newSession(tok *oidc.TokenResponse, now time.Time) *Session {
	issued := now.Unix()
	s := &Session{
		AccessToken:  tok.AccessToken,
		IDToken:      tok.IDToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IssuedAt:     issued,
		Profile:      oidc.DecodeClaims(tok.IDToken),
	}
	if tok.ExpiresIn != nil {
		exp := issued + *tok.ExpiresIn
		s.ExpiresAt = &exp
	}
	return s
}

// merge applies a refresh response on top of s. Fields the response omits
// keep their previous values; s itself is left untouched.
func (s *Session) merge(tok *oidc.TokenResponse, now time.Time) *Session {
	next := s.Clone()
	next.IssuedAt = now.Unix()
	if tok.ExpiresIn != nil {
		exp := next.IssuedAt + *tok.ExpiresIn
		next.ExpiresAt = &exp
	}
	if tok.AccessToken != "" {
		next.AccessToken = tok.AccessToken
	}
	if tok.IDToken != "" {
		next.IDToken = tok.IDToken
		if claims := oidc.DecodeClaims(tok.IDToken); claims != nil {
			next.Profile = claims
		}
	}
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		next.TokenType = tok.TokenType
	}
	return next
}
