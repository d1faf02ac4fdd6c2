// Package api is the client for the beekeeping REST backend. Every request
// carries the live session's Authorization header; an authorization-denied
// answer from any endpoint signs the session out.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/beeunity/beeunity/client/internal/config"
	"github.com/beeunity/beeunity/client/pkg/logger"
	"github.com/beeunity/beeunity/client/pkg/metrics"
)

var (
	// ErrUnauthorized means the backend answered 401 or 403. The session has
	// already been torn down when it is returned.
	ErrUnauthorized = errors.New("backend rejected the session")
	ErrNotFound     = errors.New("not found")
)

const maxErrorBody = 64 << 10

// Session is the slice of the session manager the client depends on.
type Session interface {
	AuthHeader() map[string]string
	AuthFailure(ctx context.Context)
	SetNeedsOnboarding(bool)
}

// StatusError is a non-2xx answer other than 401, 403 and 404.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.StatusCode)
}

type Client struct {
	baseURL string
	http    *http.Client
	session Session
	limiter *rate.Limiter
}

// New builds a client from the API section of the configuration.
func New(cfg config.APIConfig, session Session) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		session: session,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	for k, v := range c.session.AuthHeader() {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	metrics.APIResponses.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		logger.Warnf("api: %s %s denied with %d, signing out", method, path, resp.StatusCode)
		c.session.AuthFailure(ctx)
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return statusError(method, path, resp)
	}

	if out == nil || !isJSON(resp.Header.Get("Content-Type")) {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		// unreadable bodies are treated like empty ones
		logger.Debugf("api: %s %s: discarding undecodable body: %v", method, path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if isJSON(resp.Header.Get("Content-Type")) {
		var body struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if json.Unmarshal(raw, &body) == nil {
			se.Detail = body.Detail
			if se.Detail == "" {
				se.Detail = body.Error
			}
		}
	}
	if se.Detail == "" {
		se.Detail = strings.TrimSpace(string(raw))
	}
	return se
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
