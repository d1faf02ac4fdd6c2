package oidc

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Claims is the loosely typed identity mapping carried by an ID token or
// returned by the userinfo endpoint. Providers disagree on key casing, so
// lookups accept alternatives.
type Claims map[string]interface{}

// DecodeClaims extracts the payload of a compact JWS without verifying its
// signature. The result is for display and form prefill only and must never
// back an authorization decision. Malformed input yields nil.
func DecodeClaims(raw string) Claims {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return nil
	}
	payload := strings.NewReplacer("-", "+", "_", "/").Replace(parts[1])
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return nil
	}
	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil
	}
	if claims == nil {
		return nil
	}
	return claims
}

// String returns the first non-blank string value among keys.
func (c Claims) String(keys ...string) string {
	for _, k := range keys {
		if s, ok := c[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func (c Claims) Subject() string { return c.String("sub") }

func (c Claims) Email() string { return c.String("email") }

func (c Claims) PreferredUsername() string {
	return c.String("preferred_username", "preferredUsername")
}

// DisplayName resolves a human readable name: explicit name, then given and
// family name, then preferred username, then email.
func (c Claims) DisplayName() string {
	if c == nil {
		return ""
	}
	if n := c.String("name"); n != "" {
		return n
	}
	given := c.String("given_name", "givenName")
	family := c.String("family_name", "familyName")
	if full := strings.TrimSpace(given + " " + family); full != "" {
		return full
	}
	if u := c.PreferredUsername(); u != "" {
		return u
	}
	return c.Email()
}

// HasIdentity reports whether the claims carry something usable as a display
// identity. When false the userinfo endpoint is consulted.
func (c Claims) HasIdentity() bool {
	return c.String("email", "name", "preferred_username") != ""
}
