package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopportal/accessgw/internal/config"
	"github.com/coopportal/accessgw/internal/routes"
	"github.com/coopportal/accessgw/internal/session"
	"github.com/coopportal/accessgw/internal/userstore"
)

const (
	testCookie  = "coop_session"
	testBaseURL = "https://portal.coop.example"
)

// stubUsers is a user store with canned responses.
type stubUsers struct {
	users map[int64]userstore.User
	err   error
}

func (s *stubUsers) ByID(_ context.Context, id int64) (*userstore.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, userstore.ErrNotFound
	}
	return &u, nil
}

func (s *stubUsers) Authenticate(context.Context, string, string) (*userstore.User, error) {
	return nil, userstore.ErrInvalidCredentials
}

func (s *stubUsers) Close() error { return nil }

// gateRig wires a gate with a memory store and a fixed clock.
type gateRig struct {
	engine  *gin.Engine
	store   session.Store
	manager *session.Manager
	users   *stubUsers
	now     time.Time
}

func newGateRig(t *testing.T) *gateRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := session.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	manager := session.NewManager(session.ManagerConfig{
		Store:      store,
		CookieName: testCookie,
	})

	table, err := routes.NewTable([]routes.Rule{
		{Match: routes.MatchExact, Path: "/healthz", Tier: routes.TierBypass},
		{Match: routes.MatchExact, Path: "/", Tier: routes.TierPublic},
		{Match: routes.MatchExact, Path: "/about/", Tier: routes.TierPublic},
		{Match: routes.MatchPrefix, Path: "/login/", Tier: routes.TierPublicPrefix},
		{Match: routes.MatchPrefix, Path: "/static/", Tier: routes.TierPublicPrefix},
		{Match: routes.MatchPrefix, Path: "/verify/", Tier: routes.TierPendingVerification},
		{Match: routes.MatchPrefix, Path: "/members/api/", Tier: routes.TierAPI},
		{Match: routes.MatchPrefix, Path: "/members/api/photo/", Tier: routes.TierFile},
		{Match: routes.MatchPrefix, Path: "/databank/api/convert/", Tier: routes.TierConversion},
	})
	require.NoError(t, err)

	rig := &gateRig{
		store:   store,
		manager: manager,
		users: &stubUsers{users: map[int64]userstore.User{
			7: {ID: 7, Email: "chair@coop.example", Role: "board", IsActive: true},
		}},
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	engine := gin.New()
	engine.Use(AccessGate(GateConfig{
		Sessions:    manager,
		Users:       rig.users,
		Routes:      table,
		Paths:       config.DefaultConfig().Paths,
		BaseURL:     testBaseURL,
		IdleTimeout: 900 * time.Second,
		Now:         func() time.Time { return rig.now },
	}))
	engine.NoRoute(func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	rig.engine = engine
	return rig
}

// seed writes a session record directly into the store.
func (r *gateRig) seed(t *testing.T, id string, st session.State) {
	t.Helper()
	require.NoError(t, r.store.Save(context.Background(), id, st, time.Hour))
}

// get performs a GET request, optionally carrying a session cookie and headers.
func (r *gateRig) get(path, sessionID string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: sessionID})
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.engine.ServeHTTP(w, req)
	return w
}

// freshState returns an authenticated state last active at the rig's clock.
func (r *gateRig) freshState() session.State {
	return session.State{UserID: 7, Role: "board", LastActivity: r.now.Unix()}
}

func TestGate_BypassSkipsEverything(t *testing.T) {
	rig := newGateRig(t)
	rig.users.err = userstore.ErrUnavailable

	w := rig.get("/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGate_PublicPathsOpenToAnonymous(t *testing.T) {
	rig := newGateRig(t)

	for _, path := range []string{"/", "/about/", "/login/", "/static/css/site.css"} {
		w := rig.get(path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestGate_AnonymousDirectAccessDenied(t *testing.T) {
	rig := newGateRig(t)

	// No session, no referer: a typed-in URL.
	w := rig.get("/members/", "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/access-denied/", w.Header().Get("Location"))
}

func TestGate_AnonymousSameOriginRefererDenied(t *testing.T) {
	rig := newGateRig(t)

	w := rig.get("/members/", "", map[string]string{
		"Referer": testBaseURL + "/about/",
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/access-denied/", w.Header().Get("Location"))
}

func TestGate_AnonymousExternalRefererSentToLogin(t *testing.T) {
	rig := newGateRig(t)

	w := rig.get("/members/", "", map[string]string{
		"Referer": "https://www.example.org/links",
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login/", w.Header().Get("Location"))
}

func TestGate_AnonymousAPIGetsJSONForbidden(t *testing.T) {
	rig := newGateRig(t)

	for _, path := range []string{"/members/api/list/", "/databank/api/convert/42/"} {
		w := rig.get(path, "", nil)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.JSONEq(t, `{"status":"error","message":"Authentication required"}`, w.Body.String(), path)
	}
}

func TestGate_AuthenticatedAllowedAndTouched(t *testing.T) {
	rig := newGateRig(t)
	st := rig.freshState()
	st.LastActivity = rig.now.Add(-5 * time.Minute).Unix()
	rig.seed(t, "sid-1", st)

	w := rig.get("/members/", "sid-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := rig.store.Get(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.Equal(t, rig.now.Unix(), got.LastActivity, "activity marker must be refreshed")
	assert.Equal(t, "/members/", got.CurrentPage)
}

func TestGate_AuthenticatedResponsesGetNoStoreHeaders(t *testing.T) {
	rig := newGateRig(t)

	// Every non-public tier, including API and file responses served to an
	// authenticated session, must carry the no-store headers.
	tests := []struct {
		name    string
		path    string
		headers map[string]string
	}{
		{"protected page", "/members/", nil},
		{"api call", "/members/api/list/", map[string]string{"X-Requested-With": "XMLHttpRequest"}},
		{"file download", "/members/api/photo/7/", nil},
		{"conversion", "/databank/api/convert/42/", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig.seed(t, "sid-1", rig.freshState())

			w := rig.get(tt.path, "sid-1", tt.headers)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
			assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
			assert.Equal(t, "0", w.Header().Get("Expires"))
		})
	}

	// Public destinations stay cacheable.
	rig.seed(t, "sid-pub", rig.freshState())
	w := rig.get("/about/", "sid-pub", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestGate_IdleExpiryFlushesAndRedirects(t *testing.T) {
	rig := newGateRig(t)
	st := rig.freshState()
	st.LastActivity = rig.now.Add(-901 * time.Second).Unix()
	rig.seed(t, "sid-1", st)

	w := rig.get("/members/", "sid-1", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login/", w.Header().Get("Location"))

	_, err := rig.store.Get(context.Background(), "sid-1")
	assert.ErrorIs(t, err, session.ErrNotFound, "record must be deleted on expiry")
}

func TestGate_IdleExpiryExactBoundaryStillFresh(t *testing.T) {
	rig := newGateRig(t)
	st := rig.freshState()
	st.LastActivity = rig.now.Add(-900 * time.Second).Unix()
	rig.seed(t, "sid-1", st)

	w := rig.get("/members/", "sid-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGate_IdleExpiryOnExemptPathContinuesAnonymous(t *testing.T) {
	rig := newGateRig(t)
	st := rig.freshState()
	st.LastActivity = rig.now.Add(-2 * time.Hour).Unix()
	rig.seed(t, "sid-1", st)

	w := rig.get("/", "sid-1", nil)
	assert.Equal(t, http.StatusOK, w.Code, "exempt destinations render anonymously, no redirect")

	_, err := rig.store.Get(context.Background(), "sid-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestGate_IdleExpiryAppliesOnPublicPrefix(t *testing.T) {
	rig := newGateRig(t)
	st := rig.freshState()
	st.LastActivity = rig.now.Add(-2 * time.Hour).Unix()
	rig.seed(t, "sid-1", st)

	// Asset paths are not in the exempt set, so the first request after the
	// idle window flushes and redirects like any other non-exempt path.
	w := rig.get("/static/css/site.css", "sid-1", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login/", w.Header().Get("Location"))

	_, err := rig.store.Get(context.Background(), "sid-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestGate_MissingActivityMarkerTreatedAsStale(t *testing.T) {
	rig := newGateRig(t)
	rig.seed(t, "sid-1", session.State{UserID: 7, Role: "board"})

	w := rig.get("/members/", "sid-1", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login/", w.Header().Get("Location"))
}

func TestGate_DeactivatedAccountFlushed(t *testing.T) {
	rig := newGateRig(t)
	rig.users.users[7] = userstore.User{ID: 7, Role: "board", IsActive: false}
	rig.seed(t, "sid-1", rig.freshState())

	w := rig.get("/members/", "sid-1", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/access-denied/", w.Header().Get("Location"))

	_, err := rig.store.Get(context.Background(), "sid-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestGate_DeletedAccountFlushed(t *testing.T) {
	rig := newGateRig(t)
	delete(rig.users.users, 7)
	rig.seed(t, "sid-1", rig.freshState())

	w := rig.get("/members/", "sid-1", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login/", w.Header().Get("Location"))
}

func TestGate_UserStoreOutageFailsOpen(t *testing.T) {
	rig := newGateRig(t)
	rig.users.err = userstore.ErrUnavailable
	rig.seed(t, "sid-1", rig.freshState())

	w := rig.get("/members/", "sid-1", nil)
	assert.Equal(t, http.StatusOK, w.Code, "lookup outage must not lock members out")
}

func TestGate_ExpiredSessionRefreshRedirectsToLogin(t *testing.T) {
	rig := newGateRig(t)
	// Anonymous record carrying navigation state: the session was flushed but
	// the browser kept the cookie and the user hit refresh on the same page.
	rig.seed(t, "sid-1", session.State{CurrentPage: "/members/"})

	w := rig.get("/members/", "sid-1", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login/", w.Header().Get("Location"))
}

func TestGate_ManipulatedURLSteeredBack(t *testing.T) {
	rig := newGateRig(t)
	rig.seed(t, "sid-1", session.State{CurrentPage: "/members/"})

	w := rig.get("/finances/reports/", "sid-1", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/members/", w.Header().Get("Location"))

	got, err := rig.store.Get(context.Background(), "sid-1")
	require.NoError(t, err)
	require.True(t, got.HasFlashes())
	assert.Equal(t, noticeUseNavigation, got.Flashes[0].Message)
}

func TestGate_PendingVerificationRouting(t *testing.T) {
	rig := newGateRig(t)

	rig.seed(t, "sid-pending", session.State{PendingUserID: 12})
	rig.seed(t, "sid-auth", rig.freshState())

	tests := []struct {
		name      string
		sessionID string
		wantCode  int
		wantLoc   string
	}{
		{"pending allowed", "sid-pending", http.StatusOK, ""},
		{"authenticated sent to dashboard", "sid-auth", http.StatusFound, "/dashboard/"},
		{"anonymous sent to login", "", http.StatusFound, "/login/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := rig.get("/verify/code/", tt.sessionID, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantLoc != "" {
				assert.Equal(t, tt.wantLoc, w.Header().Get("Location"))
			}
		})
	}
}

func TestGate_ProgrammaticAPIRequestsAllowed(t *testing.T) {
	rig := newGateRig(t)

	headerSets := []map[string]string{
		{"X-Requested-With": "XMLHttpRequest"},
		{"Sec-Fetch-Mode": "cors"},
		{"Sec-Fetch-Dest": "empty"},
		{"Accept": "application/json, text/plain"},
	}

	for i, headers := range headerSets {
		id := "sid-api-" + string(rune('a'+i))
		st := rig.freshState()
		st.CurrentPage = "/members/"
		rig.seed(t, id, st)

		w := rig.get("/members/api/list/", id, headers)
		assert.Equal(t, http.StatusOK, w.Code, "headers %v", headers)
	}
}

func TestGate_AddressBarAPIVisitSteeredBack(t *testing.T) {
	rig := newGateRig(t)
	st := rig.freshState()
	st.CurrentPage = "/members/"
	rig.seed(t, "sid-1", st)

	// Browser navigation: Accept text/html, no XHR markers.
	w := rig.get("/members/api/list/", "sid-1", map[string]string{
		"Accept":         "text/html,application/xhtml+xml",
		"Sec-Fetch-Mode": "navigate",
		"Sec-Fetch-Dest": "document",
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/members/", w.Header().Get("Location"))
}

func TestGate_APIVisitWithoutNavigationStateAllowed(t *testing.T) {
	rig := newGateRig(t)
	rig.seed(t, "sid-1", rig.freshState())

	w := rig.get("/members/api/list/", "sid-1", map[string]string{
		"Accept": "text/html",
	})
	assert.Equal(t, http.StatusOK, w.Code, "no recorded page to steer back to")
}

func TestGate_FileAndConversionBypassNavigationChecks(t *testing.T) {
	rig := newGateRig(t)
	rig.seed(t, "sid-1", rig.freshState())

	for _, path := range []string{"/members/api/photo/7/", "/databank/api/convert/42/"} {
		w := rig.get(path, "sid-1", map[string]string{"Accept": "image/webp"})
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestGate_FlashSurvivesDenialRedirect(t *testing.T) {
	rig := newGateRig(t)
	rig.seed(t, "sid-1", session.State{CurrentPage: "/members/"})

	w := rig.get("/members/", "sid-1", nil)
	require.Equal(t, http.StatusFound, w.Code)

	got, err := rig.store.Get(context.Background(), "sid-1")
	require.NoError(t, err)
	require.True(t, got.HasFlashes())
	assert.Equal(t, session.FlashWarning, got.Flashes[0].Level)
}

func TestGate_PublicPathLeavesNavigationStateAlone(t *testing.T) {
	rig := newGateRig(t)
	st := rig.freshState()
	st.CurrentPage = "/members/"
	rig.seed(t, "sid-1", st)

	w := rig.get("/about/", "sid-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := rig.store.Get(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "/members/", got.CurrentPage, "public pages must not move the recorded position")
}

func TestIsProgrammatic(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"xhr header", map[string]string{"X-Requested-With": "XMLHttpRequest"}, true},
		{"cors fetch", map[string]string{"Sec-Fetch-Mode": "cors"}, true},
		{"empty dest", map[string]string{"Sec-Fetch-Dest": "empty"}, true},
		{"json accept", map[string]string{"Accept": "application/json"}, true},
		{"plain navigation", map[string]string{"Accept": "text/html", "Sec-Fetch-Dest": "document"}, false},
		{"no headers at all", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/members/api/list/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, isProgrammatic(req))
		})
	}
}
