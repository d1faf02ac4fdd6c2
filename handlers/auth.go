package handlers

import (
	"context"
	"errors"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/beeunity/beeunity/client/internal/oidc"
	"github.com/beeunity/beeunity/client/internal/sessions"
	"github.com/beeunity/beeunity/client/pkg/logger"
)

// SessionManager is what the handlers need from *sessions.Manager.
type SessionManager interface {
	Begin(ctx context.Context) (*oidc.AuthRequest, error)
	Complete(ctx context.Context, q url.Values) (*sessions.Session, error)
	Refresh(ctx context.Context, s *sessions.Session) (*sessions.Session, error)
	Session() *sessions.Session
	SignOut(ctx context.Context) error
	State() sessions.State
	Ready() <-chan struct{}
}

// AuthHandler drives the browser side of sign-in for the local agent.
type AuthHandler struct {
	mgr       SessionManager
	signupURL string
}

func NewAuthHandler(mgr SessionManager, signupURL string) *AuthHandler {
	return &AuthHandler{mgr: mgr, signupURL: signupURL}
}

// Register routes for sign-in, sign-up, the OAuth callback and session control.
func (h *AuthHandler) Register(r gin.IRouter) {
	a := r.Group("/auth")
	a.GET("/login", h.Login)
	a.GET("/signup", h.Signup)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
	r.GET("/oauth/callback", h.Callback)
}

// Login starts an authorization request. Browsers are redirected to the
// provider; JSON clients get the URL back.
func (h *AuthHandler) Login(c *gin.Context) {
	req, err := h.mgr.Begin(c.Request.Context())
	if err != nil {
		if errors.Is(err, oidc.ErrDiscoveryNotLoaded) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Auth unavailable", "details": "OIDC discovery not ready yet."})
			return
		}
		logger.Errorf("failed to start authorization request: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start sign-in", "details": err.Error()})
		return
	}
	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"authorization_url": req.URL, "state": req.State, "redirect_uri": req.RedirectURI})
		return
	}
	c.Redirect(http.StatusFound, req.URL)
}

// Signup sends the user to the provider's account creation page.
func (h *AuthHandler) Signup(c *gin.Context) {
	if h.signupURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "sign-up not configured"})
		return
	}
	c.Redirect(http.StatusFound, h.signupURL)
}

// Callback receives the authorization response and exchanges the code.
func (h *AuthHandler) Callback(c *gin.Context) {
	s, err := h.mgr.Complete(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		logger.Warnf("sign-in failed: %v", err)
		status := http.StatusBadGateway
		var ae *oidc.AuthError
		switch {
		case errors.As(err, &ae), errors.Is(err, oidc.ErrStateMismatch), errors.Is(err, oidc.ErrMissingCode), errors.Is(err, oidc.ErrNoPendingRequest):
			status = http.StatusBadRequest
		case errors.Is(err, oidc.ErrDiscoveryNotLoaded):
			status = http.StatusServiceUnavailable
		}
		if wantsJSON(c) {
			c.JSON(status, gin.H{"error": "Sign-in failed", "details": err.Error()})
			return
		}
		c.Data(status, "text/html; charset=utf-8", []byte(page("Sign-in failed", err.Error())))
		return
	}
	st := h.mgr.State()
	if wantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"status": st.Status, "displayName": st.DisplayName, "expiresAt": s.ExpiresAt})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page("Signed in", "Your session is now active. You can close this window.")))
}

// Refresh forces a refresh grant for the live session.
func (h *AuthHandler) Refresh(c *gin.Context) {
	cur := h.mgr.Session()
	if cur == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	next, err := h.mgr.Refresh(c.Request.Context(), cur)
	if errors.Is(err, sessions.ErrNoSession) {
		c.JSON(http.StatusConflict, gin.H{"error": "session changed during refresh", "details": err.Error()})
		return
	}
	if err != nil || next == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh failed, session ended", "details": errString(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": next != cur, "issuedAt": next.IssuedAt, "expiresAt": next.ExpiresAt})
}

// Logout deletes the stored session. Idempotent.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.mgr.SignOut(c.Request.Context()); err != nil {
		logger.Errorf("sign-out: failed to delete session record: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete stored session", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

func wantsJSON(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "application/json") || c.Query("format") == "json"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func page(title, msg string) string {
	return "<!doctype html><html><head><meta charset=\"utf-8\"><title>BeeUnity</title></head><body><h1>" +
		html.EscapeString(title) + "</h1><p>" + html.EscapeString(msg) + "</p></body></html>"
}
