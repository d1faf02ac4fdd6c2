package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/beeunity/beeunity/client/internal/oidc"
	"github.com/beeunity/beeunity/client/internal/sessions"
)

// fakeReader implements SessionReader
type fakeReader struct {
	st    sessions.State
	ready chan struct{}
}

func newFakeReader(st sessions.State, ready bool) *fakeReader {
	r := &fakeReader{st: st, ready: make(chan struct{})}
	if ready {
		close(r.ready)
	}
	return r
}

func (f *fakeReader) State() sessions.State   { return f.st }
func (f *fakeReader) Ready() <-chan struct{} { return f.ready }

func serve(g *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw
}

func TestRequireSession_Restoring(t *testing.T) {
	g := gin.New()
	g.GET("/", RequireSession(newFakeReader(sessions.State{Status: sessions.StatusRestoring}, false)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rw := serve(g, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rw.Code)
	require.Equal(t, "1", rw.Header().Get("Retry-After"))
}

func TestRequireSession_SignedOut(t *testing.T) {
	g := gin.New()
	g.GET("/", RequireSession(newFakeReader(sessions.State{Status: sessions.StatusSignedOut}, true)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rw := serve(g, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestRequireSession_Expired(t *testing.T) {
	g := gin.New()
	g.GET("/", RequireSession(newFakeReader(sessions.State{Status: sessions.StatusSignedIn, Expired: true}, true)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rw := serve(g, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.Contains(t, rw.Body.String(), "session expired")
}

func TestRequireSession_SetsClaims(t *testing.T) {
	st := sessions.State{Status: sessions.StatusSignedIn, Profile: oidc.Claims{"sub": "user1", "email": "test@example.com"}}
	g := gin.New()
	g.GET("/", RequireSession(newFakeReader(st, true)), func(c *gin.Context) {
		v, _ := c.Get("claims")
		c.JSON(http.StatusOK, gin.H{"claims": v})
	})

	rw := serve(g, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rw.Code)
	var resp map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	require.Equal(t, "user1", resp["claims"]["sub"])
}

func TestAgentToken(t *testing.T) {
	g := gin.New()
	g.GET("/", AgentToken("s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	require.Equal(t, http.StatusUnauthorized, serve(g, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "BadHeader")
	require.Equal(t, http.StatusUnauthorized, serve(g, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	require.Equal(t, http.StatusUnauthorized, serve(g, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, serve(g, req).Code)
}

func TestAgentToken_DisabledWhenEmpty(t *testing.T) {
	g := gin.New()
	g.GET("/", AgentToken(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	require.Equal(t, http.StatusOK, serve(g, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}
