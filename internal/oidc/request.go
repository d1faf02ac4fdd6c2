package oidc

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

var (
	ErrNoPendingRequest = errors.New("no pending authorization request")
	ErrStateMismatch    = errors.New("authorization response state does not match the pending request")
	ErrMissingCode      = errors.New("authorization response carries no code")
)

// AuthRequest is a pending authorization-code request. The verifier never
// leaves the process; only its S256 challenge is sent to the provider.
type AuthRequest struct {
	State        string
	CodeVerifier string
	RedirectURI  string
	URL          string
	CreatedAt    time.Time
}

// AuthError is an error result returned to the redirect URI by the provider.
type AuthError struct {
	Code        string
	Description string
}

func (e *AuthError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return "authorization failed: " + e.Code
}

// NewAuthRequest builds a PKCE authorization request for the redirect URI.
func (c *Client) NewAuthRequest(redirectURI string) (*AuthRequest, error) {
	if c == nil || c.endpoint.AuthURL == "" {
		return nil, ErrDiscoveryNotLoaded
	}
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	authURL := c.oauth2Config(redirectURI).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return &AuthRequest{
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		URL:          authURL,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// ParseCallback validates the redirect query against the pending request and
// returns the authorization code.
func ParseCallback(req *AuthRequest, q url.Values) (string, error) {
	if req == nil {
		return "", ErrNoPendingRequest
	}
	if e := q.Get("error"); e != "" {
		return "", &AuthError{Code: e, Description: q.Get("error_description")}
	}
	if q.Get("state") != req.State {
		return "", ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return "", ErrMissingCode
	}
	return code, nil
}

func (r *AuthRequest) String() string {
	return fmt.Sprintf("AuthRequest{state=%s redirect_uri=%s}", r.State, r.RedirectURI)
}

// urlValues is shared by the token grants.
func urlValues(m map[string]string) url.Values {
	v := url.Values{}
	for k, vv := range m {
		if vv != "" {
			v.Set(k, vv)
		}
	}
	return v
}
