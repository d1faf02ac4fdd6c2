package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beeunity/beeunity/client/internal/api"
	"github.com/beeunity/beeunity/client/internal/models"
	"github.com/beeunity/beeunity/client/internal/oidc"
	"github.com/beeunity/beeunity/client/internal/securestore"
	"github.com/beeunity/beeunity/client/internal/sessions"
	"github.com/beeunity/beeunity/client/pkg/middleware"
)

// fakeIDP implements sessions.IdentityProvider
type fakeIDP struct {
	refreshErr error
}

func (f *fakeIDP) TokenEndpoint() string    { return "https://idp.test/token" }
func (f *fakeIDP) UserInfoEndpoint() string { return "" }

func (f *fakeIDP) NewAuthRequest(redirectURI string) (*oidc.AuthRequest, error) {
	return &oidc.AuthRequest{State: "st-1", CodeVerifier: "v", RedirectURI: redirectURI, URL: "https://idp.test/auth?state=st-1"}, nil
}

func (f *fakeIDP) Exchange(ctx context.Context, code, redirectURI, verifier string) (*oidc.TokenResponse, error) {
	if code != "good" {
		return nil, &oidc.TokenError{StatusCode: 400, Code: "invalid_grant"}
	}
	exp := int64(3600)
	return &oidc.TokenResponse{AccessToken: "AT1", RefreshToken: "RT1", ExpiresIn: &exp}, nil
}

func (f *fakeIDP) Refresh(ctx context.Context, refreshToken string) (*oidc.TokenResponse, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &oidc.TokenResponse{AccessToken: "AT2"}, nil
}

func (f *fakeIDP) UserInfo(ctx context.Context, accessToken string) (oidc.Claims, error) {
	return nil, nil
}

type noTimer struct{}

func (noTimer) Stop() bool { return true }

func newTestManager(t *testing.T, idp sessions.IdentityProvider) (*sessions.Manager, securestore.Store) {
	t.Helper()
	store := securestore.NewMemoryStore()
	opts := []sessions.Option{
		sessions.WithRedirectURI("http://127.0.0.1:8765/oauth/callback"),
		sessions.WithAfterFunc(func(time.Duration, func()) sessions.Timer { return noTimer{} }),
		sessions.WithNotifier(sessions.NotifierFunc(func(sessions.Event) {})),
	}
	if idp != nil {
		opts = append(opts, sessions.WithProvider(idp))
	}
	m := sessions.NewManager(store, opts...)
	t.Cleanup(m.Close)
	return m, store
}

func newRouter(mgr *sessions.Manager, backend Backend) *gin.Engine {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	RegisterHealth(g, mgr)
	NewAuthHandler(mgr, "https://idp.test/signup").Register(g)
	NewAPIHandler(mgr, backend).Register(g.Group("/api/v1"))
	return g
}

func do(g *gin.Engine, method, target string, jsonAccept bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if jsonAccept {
		req.Header.Set("Accept", "application/json")
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func TestLogin_DiscoveryNotLoaded(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	g := newRouter(mgr, &fakeBackend{})

	w := do(g, http.MethodGet, "/auth/login", false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "OIDC discovery not ready yet.")
}

func TestLogin_RedirectsAndReturnsJSON(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeIDP{})
	g := newRouter(mgr, &fakeBackend{})

	w := do(g, http.MethodGet, "/auth/login", false)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "https://idp.test/auth?state=st-1", w.Header().Get("Location"))

	w = do(g, http.MethodGet, "/auth/login", true)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "st-1", body["state"])
	require.Equal(t, "http://127.0.0.1:8765/oauth/callback", body["redirect_uri"])
}

func TestSignupRedirect(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeIDP{})
	w := do(newRouter(mgr, &fakeBackend{}), http.MethodGet, "/auth/signup", false)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "https://idp.test/signup", w.Header().Get("Location"))
}

func TestCallback_SignsIn(t *testing.T) {
	mgr, store := newTestManager(t, &fakeIDP{})
	mgr.Restore(context.Background())
	g := newRouter(mgr, &fakeBackend{})
	do(g, http.MethodGet, "/auth/login", true)

	q := url.Values{"state": {"st-1"}, "code": {"good"}}
	w := do(g, http.MethodGet, "/oauth/callback?"+q.Encode(), false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Signed in")

	require.Equal(t, sessions.StatusSignedIn, mgr.State().Status)
	b, err := store.Get(context.Background(), sessions.SessionKey)
	require.NoError(t, err)
	require.Contains(t, string(b), "AT1")
}

func TestCallback_Failures(t *testing.T) {
	mgr, store := newTestManager(t, &fakeIDP{})
	g := newRouter(mgr, &fakeBackend{})

	// no pending request
	w := do(g, http.MethodGet, "/oauth/callback?state=st-1&code=good", true)
	require.Equal(t, http.StatusBadRequest, w.Code)

	do(g, http.MethodGet, "/auth/login", true)
	w = do(g, http.MethodGet, "/oauth/callback?state=other&code=good", true)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(g, http.MethodGet, "/oauth/callback?error=access_denied&error_description=%3Cb%3Edenied%3C%2Fb%3E", false)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "&lt;b&gt;denied")

	w = do(g, http.MethodGet, "/oauth/callback?state=st-1&code=bad", true)
	require.Equal(t, http.StatusBadGateway, w.Code)

	b, err := store.Get(context.Background(), sessions.SessionKey)
	require.NoError(t, err)
	require.Nil(t, b)
}

func seedSession(t *testing.T, store securestore.Store, s sessions.Session) {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), sessions.SessionKey, b))
}

func TestRefreshAndLogout(t *testing.T) {
	idp := &fakeIDP{}
	mgr, store := newTestManager(t, idp)
	g := newRouter(mgr, &fakeBackend{})

	w := do(g, http.MethodPost, "/auth/refresh", true)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	seedSession(t, store, sessions.Session{AccessToken: "AT1", RefreshToken: "RT1"})
	mgr.Restore(context.Background())

	w = do(g, http.MethodPost, "/auth/refresh", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"refreshed":true`)
	require.Equal(t, "AT2", mgr.Session().AccessToken)

	w = do(g, http.MethodPost, "/auth/logout", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, mgr.Session())

	// idempotent
	w = do(g, http.MethodPost, "/auth/logout", true)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRefresh_FailureEndsSession(t *testing.T) {
	mgr, store := newTestManager(t, &fakeIDP{refreshErr: errors.New("network down")})
	seedSession(t, store, sessions.Session{AccessToken: "AT1", RefreshToken: "RT1"})
	mgr.Restore(context.Background())
	g := newRouter(mgr, &fakeBackend{})

	w := do(g, http.MethodPost, "/auth/refresh", true)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Nil(t, mgr.Session())
}

func TestRefresh_WithoutRefreshTokenIsUnchanged(t *testing.T) {
	mgr, store := newTestManager(t, &fakeIDP{})
	seedSession(t, store, sessions.Session{AccessToken: "AT1"})
	mgr.Restore(context.Background())

	w := do(newRouter(mgr, &fakeBackend{}), http.MethodPost, "/auth/refresh", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"refreshed":false`)
}

func TestHealthAndReady(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	g := newRouter(mgr, &fakeBackend{})

	require.Equal(t, http.StatusOK, do(g, http.MethodGet, "/health", false).Code)
	require.Equal(t, http.StatusServiceUnavailable, do(g, http.MethodGet, "/ready", false).Code)

	mgr.Restore(context.Background())
	mgr.SetProvider(&fakeIDP{})
	w := do(g, http.MethodGet, "/ready", false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ready"`)
}

// fakeBackend implements Backend
type fakeBackend struct {
	err       error
	wardAsked string
}

func (f *fakeBackend) SyncProfile(ctx context.Context) (*api.ProfileStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	ward := "w-profile"
	return &api.ProfileStatus{Profile: &models.BeekeeperProfile{WardID: &ward}, NeedsOnboarding: true, Missing: []string{"phone number"}}, nil
}

func (f *fakeBackend) Wards(ctx context.Context) ([]models.Ward, error) {
	return []models.Ward{{ID: "w1", Name: "Kangundo"}}, f.err
}

func (f *fakeBackend) Hives(ctx context.Context) ([]models.Hive, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.Hive{{ID: "h1", Name: "North", WardID: "w1"}}, nil
}

func (f *fakeBackend) LoadWardOverview(ctx context.Context, wardID string) (*api.WardOverview, error) {
	f.wardAsked = wardID
	return &api.WardOverview{WardID: wardID, ClimateStatus: api.StatusEmpty}, f.err
}

func (f *fakeBackend) LoadHiveHealth(ctx context.Context, hiveID string) (*api.HiveHealth, error) {
	return &api.HiveHealth{HiveID: hiveID}, f.err
}

func TestAPI_RestoringAndSignedOut(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeIDP{})
	g := newRouter(mgr, &fakeBackend{})

	require.Equal(t, http.StatusServiceUnavailable, do(g, http.MethodGet, "/api/v1/hives", true).Code)
	w := do(g, http.MethodGet, "/api/v1/session", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"restoring"`)

	mgr.Restore(context.Background())
	require.Equal(t, http.StatusUnauthorized, do(g, http.MethodGet, "/api/v1/hives", true).Code)
}

func TestAPI_SignedIn(t *testing.T) {
	mgr, store := newTestManager(t, &fakeIDP{})
	seedSession(t, store, sessions.Session{AccessToken: "AT1", Profile: oidc.Claims{"given_name": "Ada", "family_name": "L"}})
	mgr.Restore(context.Background())
	backend := &fakeBackend{}
	g := newRouter(mgr, backend)

	w := do(g, http.MethodGet, "/api/v1/me", true)
	require.Equal(t, http.StatusOK, w.Code)
	var me map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.Equal(t, "Ada L", me["displayName"])
	require.Equal(t, true, me["needsOnboarding"])

	w = do(g, http.MethodGet, "/api/v1/hives", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"id":"h1"`)

	w = do(g, http.MethodGet, "/api/v1/overview", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "w-profile", backend.wardAsked)

	w = do(g, http.MethodGet, "/api/v1/overview?ward_id=w9", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "w9", backend.wardAsked)

	w = do(g, http.MethodGet, "/api/v1/hives/h1/health", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"hiveId":"h1"`)
}

func TestAPI_BackendErrors(t *testing.T) {
	mgr, store := newTestManager(t, &fakeIDP{})
	seedSession(t, store, sessions.Session{AccessToken: "AT1"})
	mgr.Restore(context.Background())
	backend := &fakeBackend{err: api.ErrUnauthorized}
	g := newRouter(mgr, backend)

	w := do(g, http.MethodGet, "/api/v1/hives", true)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "Session expired")

	backend.err = &api.StatusError{Method: "GET", Path: "/hives", StatusCode: 500, Detail: "boom"}
	w = do(g, http.MethodGet, "/api/v1/hives", true)
	require.Equal(t, http.StatusBadGateway, w.Code)

	backend.err = api.ErrNotFound
	w = do(g, http.MethodGet, "/api/v1/hives/h9/health", true)
	require.Equal(t, http.StatusNotFound, w.Code)
}

// supersededMgr reports that a newer sign-in replaced the session mid-refresh.
type supersededMgr struct{ *sessions.Manager }

func (supersededMgr) Refresh(ctx context.Context, s *sessions.Session) (*sessions.Session, error) {
	return nil, sessions.ErrNoSession
}

func TestRefresh_SupersededSessionConflicts(t *testing.T) {
	mgr, store := newTestManager(t, &fakeIDP{})
	seedSession(t, store, sessions.Session{AccessToken: "AT1", RefreshToken: "RT1"})
	mgr.Restore(context.Background())

	gin.SetMode(gin.TestMode)
	g := gin.New()
	NewAuthHandler(supersededMgr{mgr}, "").Register(g)

	w := do(g, http.MethodPost, "/auth/refresh", true)
	require.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, mgr.Session())
}

func TestAPI_RateLimitKeyedBySubject(t *testing.T) {
	mgr, store := newTestManager(t, &fakeIDP{})
	seedSession(t, store, sessions.Session{AccessToken: "AT1", Profile: oidc.Claims{"sub": "u1"}})
	mgr.Restore(context.Background())

	gin.SetMode(gin.TestMode)
	g := gin.New()
	NewAPIHandler(mgr, &fakeBackend{}, middleware.RateLimitMiddleware(0.001, 1)).Register(g.Group("/api/v1"))

	get := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/hives", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		g.ServeHTTP(w, req)
		return w.Code
	}
	require.Equal(t, http.StatusOK, get("10.0.0.1:1111"))
	// same subject from another address shares the bucket
	require.Equal(t, http.StatusTooManyRequests, get("10.0.0.2:2222"))

	// /session is not behind the limiter
	require.Equal(t, http.StatusOK, do(g, http.MethodGet, "/api/v1/session", true).Code)
}
