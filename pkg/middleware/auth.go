package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beeunity/beeunity/client/internal/sessions"
)

// SessionReader is the minimal view of the session manager the middleware
// depends on.
type SessionReader interface {
	State() sessions.State
	Ready() <-chan struct{}
}

// AgentToken returns a Gin middleware that requires "Bearer <token>" when a
// token is configured. An empty token disables the check.
func AgentToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		var got string
		if n, _ := fmt.Sscanf(auth, "Bearer %s", &got); n != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid agent token"})
			return
		}
		c.Next()
	}
}

// RequireSession rejects requests until the stored session has been
// restored (503) and when nobody is signed in (401). On success the
// decoded profile is available under "claims" and the snapshot under
// "session".
func RequireSession(reader SessionReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		case <-reader.Ready():
		default:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session restore in progress"})
			return
		}

		st := reader.State()
		if st.Status != sessions.StatusSignedIn {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
			return
		}
		if st.Expired {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		claims := map[string]interface{}{}
		for k, v := range st.Profile {
			claims[k] = v
		}
		c.Set("claims", claims)
		c.Set("session", st)
		c.Next()
	}
}
