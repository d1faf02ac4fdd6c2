package sessions

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/beeunity/beeunity/client/internal/oidc"
	"github.com/beeunity/beeunity/client/internal/securestore"
	"github.com/beeunity/beeunity/client/pkg/logger"
	"github.com/beeunity/beeunity/client/pkg/metrics"
)

// ErrNoSession is returned when an operation needs a live session.
var ErrNoSession = errors.New("no active session")

// IdentityProvider is what the manager needs from the OIDC client.
type IdentityProvider interface {
	TokenEndpoint() string
	UserInfoEndpoint() string
	NewAuthRequest(redirectURI string) (*oidc.AuthRequest, error)
	Exchange(ctx context.Context, code, redirectURI, verifier string) (*oidc.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*oidc.TokenResponse, error)
	UserInfo(ctx context.Context, accessToken string) (oidc.Claims, error)
}

type Status string

const (
	StatusRestoring Status = "restoring"
	StatusSignedOut Status = "signed_out"
	StatusSignedIn  Status = "signed_in"
)

// State is a read-only snapshot handed to readers and subscribers.
type State struct {
	Status          Status      `json:"status"`
	Session         *Session    `json:"-"`
	Profile         oidc.Claims `json:"profile"`
	DisplayName     string      `json:"displayName,omitempty"`
	NeedsOnboarding bool        `json:"needsOnboarding"`
	ExpiresAt       *int64      `json:"expiresAt,omitempty"`
	Expired         bool        `json:"expired"`
	DiscoveryLoaded bool        `json:"discoveryLoaded"`
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithAfterFunc replaces time.AfterFunc for the refresh scheduler.
func WithAfterFunc(f AfterFunc) Option { return func(m *Manager) { m.afterFunc = f } }

func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

func WithProvider(p IdentityProvider) Option { return func(m *Manager) { m.provider = p } }

func WithRedirectURI(uri string) Option { return func(m *Manager) { m.redirectURI = uri } }

// Manager owns the live session. Every mutation of the session, the stored
// record or the derived profile goes through its methods.
type Manager struct {
	repo        *Repository
	now         func() time.Time
	afterFunc   AfterFunc
	notifier    Notifier
	redirectURI string

	// writeMu serialises refresh grants, sign-outs and record writes.
	writeMu sync.Mutex

	mu              sync.Mutex
	provider        IdentityProvider
	session         *Session
	profile         oidc.Claims
	needsOnboarding bool
	pending         *oidc.AuthRequest
	timer           Timer
	gen             uint64 // bumped whenever the scheduled refresh is replaced
	epoch           uint64 // bumped on every teardown
	afterRefresh    bool   // next arm applies MinRefreshInterval
	subs            map[int]func(State)
	nextSub         int
	restored        bool
	closed          bool

	restoreOnce sync.Once
	ready       chan struct{}
	bgCtx       context.Context
	bgCancel    context.CancelFunc
}

func NewManager(store securestore.Store, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		repo:      NewRepository(store),
		now:       time.Now,
		afterFunc: realAfterFunc,
		notifier:  LogNotifier{},
		subs:      make(map[int]func(State)),
		ready:     make(chan struct{}),
		bgCtx:     ctx,
		bgCancel:  cancel,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetProvider installs the identity provider once discovery has loaded and
// re-arms the refresh schedule against it.
func (m *Manager) SetProvider(p IdentityProvider) {
	m.mu.Lock()
	m.provider = p
	m.scheduleLocked()
	st := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(st)
}

func (m *Manager) identityProvider() IdentityProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

// Begin starts a PKCE authorization request and remembers it as pending.
func (m *Manager) Begin(ctx context.Context) (*oidc.AuthRequest, error) {
	p := m.identityProvider()
	if p == nil {
		return nil, oidc.ErrDiscoveryNotLoaded
	}
	req, err := p.NewAuthRequest(m.redirectURI)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.pending = req
	m.mu.Unlock()
	logger.Debugf("sessions: authorization request started: %s", req)
	return req, nil
}

// Pending returns the outstanding authorization request, if any.
func (m *Manager) Pending() *oidc.AuthRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Complete handles the redirect back from the authorization server.
func (m *Manager) Complete(ctx context.Context, q url.Values) (*Session, error) {
	code, err := oidc.ParseCallback(m.Pending(), q)
	if err != nil {
		return nil, m.signInFailed(err)
	}
	return m.Exchange(ctx, code)
}

// Exchange trades an authorization code for tokens using the pending
// request's verifier. On success the record is persisted once and adopted;
// on failure nothing is written.
func (m *Manager) Exchange(ctx context.Context, code string) (*Session, error) {
	m.mu.Lock()
	p, req := m.provider, m.pending
	m.mu.Unlock()
	if p == nil {
		return nil, m.signInFailed(oidc.ErrDiscoveryNotLoaded)
	}
	if req == nil {
		return nil, m.signInFailed(oidc.ErrNoPendingRequest)
	}

	tok, err := p.Exchange(ctx, code, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		return nil, m.signInFailed(err)
	}
	s := newSession(tok, m.now())

	m.writeMu.Lock()
	if err := m.repo.Save(ctx, s); err != nil {
		m.writeMu.Unlock()
		return nil, m.signInFailed(err)
	}
	m.mu.Lock()
	if m.pending == req {
		m.pending = nil
	}
	m.adoptLocked(s)
	st := m.snapshotLocked()
	m.mu.Unlock()
	m.writeMu.Unlock()

	m.publish(st)
	metrics.SignIns.WithLabelValues("success").Inc()
	m.notify(Event{Kind: EventSignedIn, Title: "Signed in", Message: "Your session is now active."})

	if !s.Profile.HasIdentity() {
		if _, err := m.LoadUserInfo(ctx); err != nil {
			logger.Debugf("sessions: userinfo lookup failed: %v", err)
		}
	}
	return s.Clone(), nil
}

func (m *Manager) signInFailed(err error) error {
	metrics.SignIns.WithLabelValues("failure").Inc()
	msg := err.Error()
	var ae *oidc.AuthError
	if errors.As(err, &ae) && ae.Description == "" {
		msg = "Auth error"
	}
	m.notify(Event{Kind: EventSignInFailed, Title: "Sign-in failed", Message: msg})
	return err
}

// Refresh runs the refresh grant for s. Without a refresh token or a token
// endpoint it returns s unchanged. When s is no longer the live session it
// returns ErrNoSession without contacting the provider. Any other failure
// tears the session down and returns a nil session with the cause.
func (m *Manager) Refresh(ctx context.Context, s *Session) (*Session, error) {
	if s == nil || s.RefreshToken == "" {
		return s, nil
	}
	m.mu.Lock()
	p, epoch := m.provider, m.epoch
	m.mu.Unlock()
	if p == nil || p.TokenEndpoint() == "" {
		return s, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// a sign-out or a newer sign-in that won the race invalidates this refresh
	m.mu.Lock()
	stale := m.epoch != epoch || (m.session != nil && !m.session.sameGrant(s))
	m.mu.Unlock()
	if stale {
		return nil, ErrNoSession
	}

	tok, err := p.Refresh(ctx, s.RefreshToken)
	if err != nil {
		m.refreshFailed(ctx, err)
		return nil, err
	}
	next := s.merge(tok, m.now())
	if err := m.repo.Save(ctx, next); err != nil {
		m.refreshFailed(ctx, err)
		return nil, err
	}

	m.mu.Lock()
	m.afterRefresh = true
	m.adoptLocked(next)
	st := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(st)

	metrics.Refreshes.WithLabelValues("success").Inc()
	logger.Debugf("sessions: refreshed, issued at %d", next.IssuedAt)
	return next.Clone(), nil
}

// refreshFailed must be called with writeMu held.
func (m *Manager) refreshFailed(ctx context.Context, cause error) {
	metrics.Refreshes.WithLabelValues("failure").Inc()
	logger.Warnf("sessions: refresh failed, signing out: %v", cause)
	if err := m.teardown(ctx, "refresh_failed"); err != nil {
		logger.Errorf("sessions: failed to delete session record: %v", err)
	}
}

// Restore loads the persisted record once per process. Ready is closed when
// it returns, whatever the outcome.
func (m *Manager) Restore(ctx context.Context) {
	m.restoreOnce.Do(func() {
		m.restore(ctx)
		m.mu.Lock()
		m.restored = true
		st := m.snapshotLocked()
		m.mu.Unlock()
		close(m.ready)
		m.publish(st)
	})
}

func (m *Manager) restore(ctx context.Context) {
	rec, err := m.repo.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			logger.Warnf("sessions: discarding unreadable session record: %v", err)
			m.discardRecord(ctx)
			return
		}
		logger.Errorf("sessions: failed to read session record: %v", err)
		return
	}
	if rec == nil {
		return
	}
	if !rec.IsPresent() {
		logger.Warnf("sessions: discarding session record without credentials")
		m.discardRecord(ctx)
		return
	}

	if rec.Profile == nil {
		rec.Profile = oidc.DecodeClaims(rec.IDToken)
	}
	if !rec.IsExpired(m.now()) {
		m.mu.Lock()
		m.adoptLocked(rec)
		m.mu.Unlock()
		logger.Infof("sessions: restored session for %q", rec.Profile.DisplayName())
		return
	}

	m.mu.Lock()
	if rec.Profile != nil {
		m.profile = rec.Profile
	}
	m.mu.Unlock()

	refreshed, err := m.Refresh(ctx, rec)
	if errors.Is(err, ErrNoSession) {
		// superseded by a sign-in or sign-out while restoring
		return
	}
	if refreshed == nil {
		if err != nil {
			logger.Infof("sessions: stored session expired and could not be refreshed: %v", err)
		}
		if err := m.repo.Delete(ctx); err != nil {
			logger.Errorf("sessions: failed to delete session record: %v", err)
		}
	}
}

func (m *Manager) discardRecord(ctx context.Context) {
	if err := m.repo.Delete(ctx); err != nil {
		logger.Errorf("sessions: failed to delete session record: %v", err)
	}
	m.mu.Lock()
	m.profile = nil
	m.mu.Unlock()
}

// Ready is closed once Restore has finished.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// adoptLocked makes s the live session and re-arms the refresh schedule.
func (m *Manager) adoptLocked(s *Session) {
	m.session = s
	if s.Profile != nil {
		m.profile = s.Profile
	}
	m.scheduleLocked()
}

// scheduleLocked cancels any pending wake and, when the live session can be
// refreshed, arms a single new one at expiresAt minus RefreshBuffer. Right
// after a refresh the wake is held back to at least MinRefreshInterval.
func (m *Manager) scheduleLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	floor := m.afterRefresh
	m.afterRefresh = false
	s := m.session
	if m.closed || s == nil || s.ExpiresAt == nil || s.RefreshToken == "" {
		return
	}
	gen := m.gen
	delay := refreshDelay(*s.ExpiresAt, m.now())
	if floor && delay < MinRefreshInterval {
		delay = MinRefreshInterval
	}
	logger.Debugf("sessions: refresh scheduled in %s", delay)
	m.timer = m.afterFunc(delay, func() { m.wake(gen) })
}

func (m *Manager) wake(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	s, ctx := m.session, m.bgCtx
	m.mu.Unlock()

	if _, err := m.Refresh(ctx, s); err != nil && !errors.Is(err, ErrNoSession) {
		m.notify(Event{Kind: EventSessionExpired, Title: "Session expired", Message: "Please sign in again to continue."})
	}
}

// SignOut deletes the record and clears every piece of session state. It
// is safe to call without a session.
func (m *Manager) SignOut(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.teardown(ctx, "user")
}

// AuthFailure is called by REST callers that got an authorization-denied
// answer. It signs out and tells the user.
func (m *Manager) AuthFailure(ctx context.Context) {
	m.writeMu.Lock()
	err := m.teardown(ctx, "auth_failure")
	m.writeMu.Unlock()
	if err != nil {
		logger.Errorf("sessions: failed to delete session record: %v", err)
	}
	m.notify(Event{Kind: EventSessionExpired, Title: "Session expired", Message: "Please sign in again to continue."})
}

// teardown must be called with writeMu held.
func (m *Manager) teardown(ctx context.Context, reason string) error {
	err := m.repo.Delete(ctx)
	m.mu.Lock()
	m.epoch++
	m.session = nil
	m.profile = nil
	m.needsOnboarding = false
	m.scheduleLocked()
	st := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(st)
	metrics.SignOuts.WithLabelValues(reason).Inc()
	logger.Infof("sessions: signed out (%s)", reason)
	return err
}

// LoadUserInfo fills in the profile from the userinfo endpoint when the ID
// token claims carry no usable identity. The fetched claims are persisted
// with the session.
func (m *Manager) LoadUserInfo(ctx context.Context) (oidc.Claims, error) {
	m.mu.Lock()
	s, p, prof, epoch := m.session, m.provider, m.profile, m.epoch
	m.mu.Unlock()
	if s == nil || s.AccessToken == "" || p == nil || p.UserInfoEndpoint() == "" {
		return prof, nil
	}
	if prof.HasIdentity() {
		return prof, nil
	}
	claims, err := p.UserInfo(ctx, s.AccessToken)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return prof, nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	current := m.session == s && m.epoch == epoch
	m.mu.Unlock()
	if !current {
		return claims, nil
	}
	next := s.Clone()
	next.Profile = claims
	if err := m.repo.Save(ctx, next); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.adoptLocked(next)
	st := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(st)
	return cloneClaims(claims), nil
}

// SetNeedsOnboarding records whether the backend profile is incomplete.
func (m *Manager) SetNeedsOnboarding(v bool) {
	m.mu.Lock()
	if m.session == nil {
		v = false
	}
	m.needsOnboarding = v
	st := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(st)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Session returns a copy of the live session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

func (m *Manager) Profile() oidc.Claims {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneClaims(m.profile)
}

func (m *Manager) snapshotLocked() State {
	st := State{
		Status:          StatusSignedOut,
		Profile:         cloneClaims(m.profile),
		DisplayName:     m.profile.DisplayName(),
		NeedsOnboarding: m.needsOnboarding,
		DiscoveryLoaded: m.provider != nil,
	}
	switch {
	case !m.restored:
		st.Status = StatusRestoring
	case m.session.IsPresent():
		st.Status = StatusSignedIn
	}
	if m.session != nil {
		st.Session = m.session.Clone()
		st.ExpiresAt = st.Session.ExpiresAt
		st.Expired = m.session.IsExpired(m.now())
	}
	return st
}

// Subscribe registers fn for state changes and returns its cancel func.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) publish(st State) {
	m.mu.Lock()
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (m *Manager) notify(e Event) {
	if m.notifier != nil {
		m.notifier.Notify(e)
	}
}

// AuthHeader returns the Authorization header for REST calls, or an empty
// map without a session.
func (m *Manager) AuthHeader() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.IsPresent() {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + m.session.BearerToken()}
}

// Close cancels the scheduled refresh. The manager must not be used after.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	m.bgCancel()
}
