package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/beeunity/beeunity/client/pkg/logger"
)

// TokenResponse is the token endpoint result. Providers (and some SDKs in
// between) emit either snake_case or camelCase keys; both are accepted.
type TokenResponse struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	// ExpiresIn is nil when the response carries no positive lifetime.
	ExpiresIn *int64
}

// TokenError is a non-2xx answer from the token endpoint.
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Code != "" {
		if e.Description != "" {
			return fmt.Sprintf("token endpoint returned %d: %s: %s", e.StatusCode, e.Code, e.Description)
		}
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
}

func (t *TokenResponse) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	pick := func(keys ...string) string {
		for _, k := range keys {
			v, ok := raw[k]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s != "" {
				return s
			}
		}
		return ""
	}
	t.AccessToken = pick("access_token", "accessToken")
	t.IDToken = pick("id_token", "idToken")
	t.RefreshToken = pick("refresh_token", "refreshToken")
	t.TokenType = pick("token_type", "tokenType")
	t.ExpiresIn = nil
	for _, k := range []string{"expires_in", "expiresIn"} {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if n, ok := parseLifetime(v); ok {
			t.ExpiresIn = &n
			break
		}
	}
	return nil
}

// parseLifetime accepts a JSON number or a numeric string.
func parseLifetime(v json.RawMessage) (int64, bool) {
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var val interface{}
	if err := dec.Decode(&val); err != nil {
		return 0, false
	}
	switch vv := val.(type) {
	case json.Number:
		num = vv
	case string:
		num = json.Number(strings.TrimSpace(vv))
	default:
		return 0, false
	}
	if i, err := num.Int64(); err == nil {
		return i, i > 0
	}
	f, err := strconv.ParseFloat(num.String(), 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int64(f), int64(f) > 0
}

// Exchange redeems an authorization code bound to the PKCE verifier.
func (c *Client) Exchange(ctx context.Context, code, redirectURI, verifier string) (*TokenResponse, error) {
	logger.Debugf("Exchange: code length=%d redirect_uri=%s verifier_set=%t", len(code), redirectURI, verifier != "")
	tr, err := c.postToken(ctx, map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     c.cfg.ClientID,
		"code":          code,
		"redirect_uri":  redirectURI,
		"code_verifier": verifier,
	})
	if err != nil {
		return nil, err
	}
	if tr.AccessToken == "" && tr.IDToken == "" {
		return nil, fmt.Errorf("token response carries neither access_token nor id_token")
	}
	return tr, nil
}

// Refresh mints new tokens from a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	logger.Debugf("Refresh: refresh_token length=%d", len(refreshToken))
	return c.postToken(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     c.cfg.ClientID,
		"refresh_token": refreshToken,
	})
}

func (c *Client) postToken(ctx context.Context, form map[string]string) (*TokenResponse, error) {
	if c == nil {
		return nil, ErrDiscoveryNotLoaded
	}
	tokenURL := c.TokenEndpoint()
	if tokenURL == "" {
		return nil, ErrNoTokenEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(urlValues(form).Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &TokenError{StatusCode: resp.StatusCode}
		var e struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &e) == nil {
			te.Code = e.Error
			te.Description = e.ErrorDescription
		}
		logger.Warnf("token endpoint %s grant=%s: %v", tokenURL, form["grant_type"], te)
		return nil, te
	}
	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tr, nil
}
