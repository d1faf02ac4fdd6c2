package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// RegisterHealth mounts /health and /ready. Readiness needs discovery loaded
// and the stored session restored.
func RegisterHealth(r gin.IRouter, mgr SessionManager) {
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{}
		select {
		case <-mgr.Ready():
			deps["session"] = true
		default:
			deps["session"] = false
		}
		deps["oidc"] = mgr.State().DiscoveryLoaded

		ready := true
		for _, ok := range deps {
			ready = ready && ok
		}
		uptime := time.Since(startTime).Round(time.Second).String()
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": uptime})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": uptime})
	})
}
