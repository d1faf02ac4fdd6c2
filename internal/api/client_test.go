package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beeunity/beeunity/client/internal/config"
	"github.com/beeunity/beeunity/client/internal/models"
	"github.com/beeunity/beeunity/client/internal/securestore"
	"github.com/beeunity/beeunity/client/internal/sessions"
)

type fakeSession struct {
	mu              sync.Mutex
	header          map[string]string
	failures        int
	needsOnboarding *bool
}

func (f *fakeSession) AuthHeader() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.header == nil {
		return map[string]string{}
	}
	return f.header
}

func (f *fakeSession) AuthFailure(ctx context.Context) {
	f.mu.Lock()
	f.failures++
	f.header = nil
	f.mu.Unlock()
}

func (f *fakeSession) SetNeedsOnboarding(v bool) {
	f.mu.Lock()
	f.needsOnboarding = &v
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler, s Session) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.APIConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, s)
}

func TestClient_AttachesAuthHeader(t *testing.T) {
	var got, reqID string
	mux := http.NewServeMux()
	mux.HandleFunc("/hives", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		reqID = r.Header.Get("X-Request-ID")
		writeJSON(w, 200, []models.Hive{{ID: "h1", Name: "North", WardID: "w1"}})
	})
	c := newTestClient(t, mux, &fakeSession{header: map[string]string{"Authorization": "Bearer ID1"}})

	hives, err := c.Hives(context.Background())
	require.NoError(t, err)
	require.Len(t, hives, 1)
	require.Equal(t, "Bearer ID1", got)
	require.NotEmpty(t, reqID)
}

func TestClient_NoSessionSendsNoHeader(t *testing.T) {
	var present bool
	mux := http.NewServeMux()
	mux.HandleFunc("/locations/wards", func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header["Authorization"]
		writeJSON(w, 200, []models.Ward{})
	})
	c := newTestClient(t, mux, &fakeSession{})
	_, err := c.Wards(context.Background())
	require.NoError(t, err)
	require.False(t, present)
}

func TestClient_UnauthorizedSignsOut(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		s := &fakeSession{header: map[string]string{"Authorization": "Bearer x"}}
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}), s)

		_, err := c.Hives(context.Background())
		require.ErrorIs(t, err, ErrUnauthorized)
		require.Equal(t, 1, s.failures)
		require.Empty(t, s.AuthHeader())
	}
}

// A 401 from any endpoint tears down the real session manager.
func TestClient_UnauthorizedClearsManagerSession(t *testing.T) {
	store := securestore.NewMemoryStore()
	ctx := context.Background()
	rec, _ := json.Marshal(sessions.Session{AccessToken: "AT", Profile: map[string]interface{}{"email": "a@b.com"}})
	require.NoError(t, store.Set(ctx, sessions.SessionKey, rec))

	mgr := sessions.NewManager(store, sessions.WithNotifier(sessions.NotifierFunc(func(sessions.Event) {})))
	defer mgr.Close()
	mgr.Restore(ctx)
	require.NotNil(t, mgr.Session())

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer AT", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}), mgr)

	_, err := c.LatestClimate(ctx, "w1")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Nil(t, mgr.Session())
	require.Nil(t, mgr.Profile())
	b, err := store.Get(ctx, sessions.SessionKey)
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestClient_NotFoundAndStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/hives/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/hives", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "name required"})
	})
	mux.HandleFunc("/hives/h1/alerts/a1/resolve", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "db down\n")
	})
	c := newTestClient(t, mux, &fakeSession{})
	ctx := context.Background()

	err := c.DeleteHive(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.CreateHive(ctx, models.HiveInput{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 422, se.StatusCode)
	require.Equal(t, "name required", se.Detail)

	err = c.ResolveAlert(ctx, "h1", "a1")
	require.True(t, errors.As(err, &se))
	require.Equal(t, "db down", se.Detail)
}

func TestClient_NonJSONBodyIsIgnored(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>proxy</html>")
	}), &fakeSession{})

	hives, err := c.Hives(context.Background())
	require.NoError(t, err)
	require.Empty(t, hives)
}

func TestClient_WardsAcceptsWrappedList(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"wards": []models.Ward{{ID: "w1", Name: "Kangundo"}}})
	}), &fakeSession{})

	wards, err := c.Wards(context.Background())
	require.NoError(t, err)
	require.Equal(t, []models.Ward{{ID: "w1", Name: "Kangundo"}}, wards)
}

func TestClient_CreateYieldDefaultsSource(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/hives/h1/yields", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, 201, body)
	}), &fakeSession{})

	kg := 12.5
	y, err := c.CreateYield(context.Background(), "h1", models.Yield{YieldKG: &kg})
	require.NoError(t, err)
	require.Equal(t, "manual", body["source"])
	require.Equal(t, 12.5, *y.YieldKG)
}

func TestClient_QueryParameters(t *testing.T) {
	seen := map[string]string{}
	var mu sync.Mutex
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = r.URL.RawQuery
		mu.Unlock()
		writeJSON(w, 200, []interface{}{})
	}), &fakeSession{})
	ctx := context.Background()

	_, _ = c.Inspections(ctx, "h1", 10)
	_, _ = c.Alerts(ctx, "h1", "")
	_, _ = c.LatestClimate(ctx, "w 1")

	require.Equal(t, "limit=10", seen["/hives/h1/inspections"])
	require.Equal(t, "status=active", seen["/hives/h1/alerts"])
	require.Equal(t, "limit=1&ward_id=w+1", seen["/climate/daily"])
}

func TestSyncProfile(t *testing.T) {
	ctx := context.Background()

	s := &fakeSession{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), s)
	st, err := c.SyncProfile(ctx)
	require.NoError(t, err)
	require.True(t, st.NeedsOnboarding)
	require.True(t, *s.needsOnboarding)
	require.Len(t, st.Missing, 8)

	s = &fakeSession{}
	c = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"full_name":"W","phone_number":"1","ward_id":"w1","hive_count":2,"beekeeping_years":1,"hive_type":"KTB","farm_size_acres":0.5,"primary_goal":"honey"}`)
	}), s)
	// no JSON content type: the body is not trusted
	st, err = c.SyncProfile(ctx)
	require.NoError(t, err)
	require.True(t, st.NeedsOnboarding)

	s = &fakeSession{}
	c = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"full_name":"W","phone_number":"1","ward_id":"w1","hive_count":2,"beekeeping_years":1,"hive_type":"KTB","farm_size_acres":0.5,"primary_goal":"honey"}`)
	}), s)
	st, err = c.SyncProfile(ctx)
	require.NoError(t, err)
	require.False(t, st.NeedsOnboarding)
	require.False(t, *s.needsOnboarding)
	require.Equal(t, "W", *st.Profile.FullName)
}

func TestSubmitOnboardingUpdatesFlag(t *testing.T) {
	s := &fakeSession{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/profile/onboarding", r.URL.Path)
		writeJSON(w, 200, map[string]interface{}{"full_name": "W"})
	}), s)

	name := "W"
	p, err := c.SubmitOnboarding(context.Background(), models.BeekeeperProfile{FullName: &name})
	require.NoError(t, err)
	require.Equal(t, "W", *p.FullName)
	require.True(t, *s.needsOnboarding)
}
