package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/beeunity/beeunity/client/pkg/logger"
)

var (
	ErrDiscoveryNotLoaded = errors.New("oidc discovery not loaded")
	ErrNoTokenEndpoint    = errors.New("discovery document has no token endpoint")
)

// ClientConfig describes the public OIDC client used by the app.
type ClientConfig struct {
	Issuer     string
	ClientID   string
	Scopes     []string
	HTTPClient *http.Client
}

// Client wraps the discovered provider and performs token endpoint calls on
// behalf of a public (PKCE) client.
type Client struct {
	cfg         ClientConfig
	provider    *gooidc.Provider
	endpoint    oauth2.Endpoint
	userInfoURL string
}

// Discover loads the provider's discovery document from the issuer.
func Discover(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}
	provider, err := gooidc.NewProvider(gooidc.ClientContext(ctx, cfg.HTTPClient), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return &Client{
		cfg:         cfg,
		provider:    provider,
		endpoint:    provider.Endpoint(),
		userInfoURL: provider.UserInfoEndpoint(),
	}, nil
}

// DiscoverWithRetry retries discovery with exponential backoff so the agent
// tolerates an identity provider that is still starting.
func DiscoverWithRetry(ctx context.Context, cfg ClientConfig, attempts int, backoff time.Duration) (*Client, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c, err := Discover(ctx, cfg)
		if err == nil {
			return c, nil
		}
		lastErr = err
		logger.Warnf("attempt %d/%d: OIDC discovery for %s failed: %v", attempt, attempts, cfg.Issuer, err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("discovery failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) Issuer() string                { return c.cfg.Issuer }
func (c *Client) ClientID() string              { return c.cfg.ClientID }
func (c *Client) TokenEndpoint() string         { return c.endpoint.TokenURL }
func (c *Client) AuthorizationEndpoint() string { return c.endpoint.AuthURL }
func (c *Client) UserInfoEndpoint() string      { return c.userInfoURL }

func (c *Client) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		Endpoint:    c.endpoint,
		RedirectURL: redirectURI,
		Scopes:      c.cfg.Scopes,
	}
}

// UserInfo fetches the claims of the token's subject from the userinfo endpoint.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (Claims, error) {
	if c.userInfoURL == "" {
		return nil, errors.New("discovery document has no userinfo endpoint")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := c.provider.UserInfo(gooidc.ClientContext(ctx, c.cfg.HTTPClient), ts)
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	var claims Claims
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("userinfo claims: %w", err)
	}
	return claims, nil
}
