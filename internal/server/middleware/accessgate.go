package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coopportal/accessgw/internal/config"
	"github.com/coopportal/accessgw/internal/routes"
	"github.com/coopportal/accessgw/internal/session"
	"github.com/coopportal/accessgw/internal/userstore"
)

// Context keys set by the gate for downstream handlers.
const (
	// UserIDKey holds the authenticated user id (int64).
	UserIDKey = "userID"
	// UserRoleKey holds the coarse role tag (string). The gate forwards it
	// untouched; only downstream handlers interpret it.
	UserRoleKey = "userRole"
)

// User-visible notices attached to denial redirects.
const (
	noticeIdleExpired    = "Your session has expired due to inactivity. Please log in again."
	noticeSessionExpired = "Your session has expired. Please log in again."
	noticeDeactivated    = "Your account has been deactivated. Please contact the cooperative board."
	noticeAccessDenied   = "Access denied."
	noticePleaseLogIn    = "Please log in to continue."
	noticeUseNavigation  = "Please use the navigation menu."
	noticeUseInterface   = "Please use the application interface."
)

// Classifier resolves a request path to an access tier.
type Classifier interface {
	Classify(path string) routes.Tier
}

// GateConfig holds configuration for the access gate.
type GateConfig struct {
	// Sessions manages session records and the cookie transport (required).
	Sessions *session.Manager

	// Users resolves account status. May be nil; the account-status check is
	// then skipped entirely (fail-open by design, not a bug).
	Users userstore.Store

	// Routes classifies request paths into tiers (required).
	Routes Classifier

	// Paths names the routes the gate redirects to.
	Paths config.PathsConfig

	// BaseURL is the portal's external origin, used by the referer heuristic.
	BaseURL string

	// IdleTimeout is the maximum gap between requests before a session is
	// flushed. Defaults to 900 seconds.
	IdleTimeout time.Duration

	// Logger for structured logging.
	Logger *zap.Logger

	// Now returns the current time. Overridable in tests.
	Now func() time.Time
}

// gate is the compiled middleware state.
type gate struct {
	cfg    GateConfig
	exempt map[string]struct{}
}

// AccessGate returns the middleware that gates every request before it
// reaches a handler. It enforces, in order: session freshness, account
// status, pending-verification routing, the fail-closed default for
// unauthenticated requests, file/conversion bypass, programmatic-request
// screening on API paths, and navigation bookkeeping for page requests.
func AccessGate(cfg GateConfig) gin.HandlerFunc {
	if cfg.Sessions == nil {
		panic("access gate: session manager is required")
	}
	if cfg.Routes == nil {
		panic("access gate: route classifier is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 900 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	// Freshness expiry on these paths flushes silently: the destination is
	// public anyway and a notice would only be confusing.
	g := &gate{cfg: cfg, exempt: make(map[string]struct{})}
	for _, p := range []string{cfg.Paths.Login, cfg.Paths.Home, cfg.Paths.About, cfg.Paths.Download} {
		if p != "" {
			g.exempt[normalizePath(p)] = struct{}{}
		}
	}

	return g.handle
}

// handle runs the gate for one request.
func (g *gate) handle(c *gin.Context) {
	start := g.cfg.Now()
	path := c.Request.URL.Path
	tier := g.cfg.Routes.Classify(path)

	defer func() {
		gateRequestDuration.WithLabelValues(tier.String()).Observe(g.cfg.Now().Sub(start).Seconds())
	}()

	// Escape hatch for routes that must never be gated.
	if tier == routes.TierBypass {
		g.allow(c, tier)
		return
	}

	st := g.cfg.Sessions.Load(c)

	if st.IsAuthenticated() {
		var done bool
		st, done = g.checkFreshness(c, st, path, tier)
		if done {
			return
		}
	}

	if st.IsAuthenticated() {
		var done bool
		st, done = g.checkAccountStatus(c, st, tier)
		if done {
			return
		}
	}

	// Pending-verification routes are terminal regardless of tier precedence
	// below: they are usable mid-verification only.
	if tier == routes.TierPendingVerification {
		g.routePendingVerification(c, st, tier)
		return
	}

	public := tier == routes.TierPublicPrefix || tier == routes.TierPublic

	if !public && !st.IsAuthenticated() {
		g.denyUnauthenticated(c, st, path, tier)
		return
	}

	if st.IsAuthenticated() {
		// Authenticated non-public responses must never be served from
		// cache, whatever the tier: the back button would otherwise
		// resurrect flushed sessions.
		if !public {
			setNoStoreHeaders(c)
		}

		switch tier {
		case routes.TierFile, routes.TierConversion:
			// Inline <img> and download requests cannot carry a meaningful
			// Referer; they bypass navigation-integrity checks entirely.
			g.allow(c, tier)
			return
		case routes.TierAPI:
			g.screenAPIRequest(c, st, tier)
			return
		}

		if !public {
			// Record the navigation position. This is what the next
			// request's manipulation check compares against.
			st.CurrentPage = path
			g.save(c, st)
		}
	}

	g.allow(c, tier)
}

// checkFreshness enforces the idle window and refreshes the activity marker.
// Returns the (possibly flushed) state and whether the request was terminated.
func (g *gate) checkFreshness(c *gin.Context, st session.State, path string, tier routes.Tier) (session.State, bool) {
	now := g.cfg.Now()

	idle, marked := st.IdleFor(now)
	switch {
	case marked && idle > g.cfg.IdleTimeout:
		st = g.flush(c, flushReasonIdle)
		if !g.isExempt(path) {
			st.PushFlash(session.FlashWarning, noticeIdleExpired)
			g.redirect(c, st, g.cfg.Paths.Login, tier, outcomeRedirectLogin)
			return st, true
		}
		return st, false

	case !marked:
		// A user id without a freshness marker means a stale or restored
		// session; it cannot be trusted.
		st = g.flush(c, flushReasonStale)
		if !g.isExempt(path) {
			st.PushFlash(session.FlashWarning, noticeSessionExpired)
			g.redirect(c, st, g.cfg.Paths.Login, tier, outcomeRedirectLogin)
			return st, true
		}
		return st, false

	default:
		st.Touch(now)
		g.save(c, st)
		return st, false
	}
}

// checkAccountStatus confirms the account behind the session still exists and
// is active. An unreachable user store skips the check (fail-open by design).
func (g *gate) checkAccountStatus(c *gin.Context, st session.State, tier routes.Tier) (session.State, bool) {
	if g.cfg.Users == nil {
		return st, false
	}

	user, err := g.cfg.Users.ByID(c.Request.Context(), st.UserID)
	switch {
	case err == nil && !user.IsActive:
		st = g.flush(c, flushReasonDeactivated)
		st.PushFlash(session.FlashError, noticeDeactivated)
		g.redirect(c, st, g.cfg.Paths.AccessDenied, tier, outcomeRedirectDenied)
		return st, true

	case err == nil:
		return st, false

	case errors.Is(err, userstore.ErrNotFound):
		st = g.flush(c, flushReasonNotFound)
		g.redirect(c, st, g.cfg.Paths.Login, tier, outcomeRedirectLogin)
		return st, true

	default:
		// Any other lookup failure is swallowed and the check skipped.
		g.cfg.Logger.Warn("account status check skipped, user store unavailable",
			zap.Int64("user_id", st.UserID),
			zap.Error(err),
		)
		return st, false
	}
}

// routePendingVerification handles routes usable only mid-verification.
func (g *gate) routePendingVerification(c *gin.Context, st session.State, tier routes.Tier) {
	switch {
	case st.PendingUserID != 0:
		g.allow(c, tier)
	case st.IsAuthenticated():
		g.redirect(c, st, g.cfg.Paths.Dashboard, tier, outcomeRedirectDashboard)
	default:
		g.redirect(c, st, g.cfg.Paths.Login, tier, outcomeRedirectLogin)
	}
}

// denyUnauthenticated terminates requests to non-public paths without a live
// user id. API paths get a structured 403; page paths are steered by the
// navigation state and the referer heuristic.
func (g *gate) denyUnauthenticated(c *gin.Context, st session.State, path string, tier routes.Tier) {
	if tier == routes.TierAPI || tier == routes.TierConversion {
		gateDecisionsTotal.WithLabelValues(tier.String(), outcomeForbiddenAPI).Inc()
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"status":  "error",
			"message": "Authentication required",
		})
		return
	}

	lastPage := st.CurrentPage
	switch {
	case lastPage != "" && normalizePath(lastPage) == normalizePath(path):
		// A refresh of the page an expired session was last on.
		st.PushFlash(session.FlashWarning, noticeSessionExpired)
		g.redirect(c, st, g.cfg.Paths.Login, tier, outcomeRedirectLogin)

	case lastPage == "":
		// Never-authenticated direct access. Same-origin or absent referers
		// indicate a typed URL; external referers get a gentler login nudge.
		referer := c.Request.Referer()
		if referer == "" || strings.HasPrefix(referer, g.cfg.BaseURL) {
			if !st.HasFlashes() {
				st.PushFlash(session.FlashError, noticeAccessDenied)
			}
			g.redirect(c, st, g.cfg.Paths.AccessDenied, tier, outcomeRedirectDenied)
		} else {
			st.PushFlash(session.FlashInfo, noticePleaseLogIn)
			g.redirect(c, st, g.cfg.Paths.Login, tier, outcomeRedirectLogin)
		}

	default:
		// Authenticated-looking navigation state without a live user id:
		// URL manipulation. Steer back to the recorded position.
		st.PushFlash(session.FlashWarning, noticeUseNavigation)
		g.redirect(c, st, lastPage, tier, outcomeRedirectBack)
	}
}

// screenAPIRequest lets programmatic API calls through and steers browser
// address-bar visits to API URLs back to the recorded page.
func (g *gate) screenAPIRequest(c *gin.Context, st session.State, tier routes.Tier) {
	if !isProgrammatic(c.Request) && st.CurrentPage != "" {
		st.PushFlash(session.FlashWarning, noticeUseInterface)
		g.redirect(c, st, st.CurrentPage, tier, outcomeRedirectBack)
		return
	}
	g.allow(c, tier)
}

// isProgrammatic reports whether the request looks like an XHR/fetch call
// rather than an address-bar navigation.
func isProgrammatic(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	if r.Header.Get("Sec-Fetch-Mode") == "cors" {
		return true
	}
	switch r.Header.Get("Sec-Fetch-Dest") {
	case "empty", "fetch":
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// allow forwards the request to the next handler.
func (g *gate) allow(c *gin.Context, tier routes.Tier) {
	gateDecisionsTotal.WithLabelValues(tier.String(), outcomeAllowed).Inc()
	c.Next()
}

// redirect persists pending state mutations and terminates with a 302.
func (g *gate) redirect(c *gin.Context, st session.State, location string, tier routes.Tier, outcome string) {
	g.save(c, st)
	gateDecisionsTotal.WithLabelValues(tier.String(), outcome).Inc()
	c.Redirect(http.StatusFound, location)
	c.Abort()
}

// flush destroys the server-side session record and returns a zero state.
func (g *gate) flush(c *gin.Context, reason string) session.State {
	if err := g.cfg.Sessions.Flush(c); err != nil {
		g.cfg.Logger.Warn("session flush failed", zap.Error(err))
	}
	gateSessionFlushesTotal.WithLabelValues(reason).Inc()
	return session.State{}
}

// save persists session state; failures are logged, never fatal.
func (g *gate) save(c *gin.Context, st session.State) {
	if st.IsZero() {
		return
	}
	if err := g.cfg.Sessions.Save(c, st); err != nil {
		g.cfg.Logger.Error("session save failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}

	if st.IsAuthenticated() {
		c.Set(UserIDKey, st.UserID)
		c.Set(UserRoleKey, st.Role)
	}
}

// isExempt reports whether freshness expiry on this path flushes silently.
func (g *gate) isExempt(path string) bool {
	_, ok := g.exempt[normalizePath(path)]
	return ok
}

// setNoStoreHeaders forbids caching of authenticated page responses.
func setNoStoreHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate, private, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// normalizePath strips a trailing slash so "/login" and "/login/" compare equal.
func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}

// GetUserID returns the authenticated user id set by the gate, or zero.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// GetUserRole returns the role tag set by the gate, or an empty string.
func GetUserRole(c *gin.Context) string {
	if v, exists := c.Get(UserRoleKey); exists {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}
