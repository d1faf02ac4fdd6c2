package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beeunity/beeunity/client/internal/api"
	"github.com/beeunity/beeunity/client/internal/models"
	"github.com/beeunity/beeunity/client/internal/sessions"
	"github.com/beeunity/beeunity/client/pkg/logger"
	"github.com/beeunity/beeunity/client/pkg/middleware"
)

// Backend is the REST surface the agent proxies.
type Backend interface {
	SyncProfile(ctx context.Context) (*api.ProfileStatus, error)
	Wards(ctx context.Context) ([]models.Ward, error)
	Hives(ctx context.Context) ([]models.Hive, error)
	LoadWardOverview(ctx context.Context, wardID string) (*api.WardOverview, error)
	LoadHiveHealth(ctx context.Context, hiveID string) (*api.HiveHealth, error)
}

// APIHandler serves session state and the aggregated backend views.
type APIHandler struct {
	mgr     SessionManager
	backend Backend
	guards  []gin.HandlerFunc
}

// NewAPIHandler builds the handler. guards run after the session check, so
// a rate limiter passed here is keyed by the signed-in subject.
func NewAPIHandler(mgr SessionManager, backend Backend, guards ...gin.HandlerFunc) *APIHandler {
	return &APIHandler{mgr: mgr, backend: backend, guards: guards}
}

// Register mounts the handlers on rg. Everything except /session needs a
// restored, signed-in session.
func (h *APIHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/session", h.Session)

	chain := append([]gin.HandlerFunc{middleware.RequireSession(h.mgr)}, h.guards...)
	authed := rg.Group("/", chain...)
	authed.GET("/me", h.Me)
	authed.GET("/wards", h.Wards)
	authed.GET("/hives", h.Hives)
	authed.GET("/hives/:id/health", h.HiveHealth)
	authed.GET("/overview", h.Overview)
}

// Session reports the session state, including while restoring.
func (h *APIHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.mgr.State())
}

// Me returns the identity claims and the onboarding status.
func (h *APIHandler) Me(c *gin.Context) {
	st := c.MustGet("session").(sessions.State)
	ps, err := h.backend.SyncProfile(c.Request.Context())
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"claims":          st.Profile,
		"displayName":     st.DisplayName,
		"needsOnboarding": ps.NeedsOnboarding,
		"missing":         ps.Missing,
		"profile":         ps.Profile,
	})
}

func (h *APIHandler) Wards(c *gin.Context) {
	wards, err := h.backend.Wards(c.Request.Context())
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, wards)
}

func (h *APIHandler) Hives(c *gin.Context) {
	hives, err := h.backend.Hives(c.Request.Context())
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, hives)
}

func (h *APIHandler) HiveHealth(c *gin.Context) {
	hh, err := h.backend.LoadHiveHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, hh)
}

// Overview loads the dashboard for ?ward_id, defaulting to the profile's
// ward and then to the first known ward.
func (h *APIHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	ward := c.Query("ward_id")
	if ward == "" {
		ps, err := h.backend.SyncProfile(ctx)
		if err != nil {
			backendError(c, err)
			return
		}
		if ps.Profile != nil && ps.Profile.WardID != nil {
			ward = *ps.Profile.WardID
		}
	}
	if ward == "" {
		wards, err := h.backend.Wards(ctx)
		if err != nil {
			backendError(c, err)
			return
		}
		if len(wards) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no ward available"})
			return
		}
		ward = wards[0].ID
	}
	ov, err := h.backend.LoadWardOverview(ctx, ward)
	if err != nil {
		backendError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func backendError(c *gin.Context, err error) {
	var se *api.StatusError
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired", "details": "Please sign in again to continue."})
	case errors.Is(err, api.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "backend request cancelled"})
	case errors.As(err, &se):
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend error", "status": se.StatusCode, "details": se.Detail})
	default:
		logger.Errorf("backend request failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend unreachable", "details": err.Error()})
	}
}
