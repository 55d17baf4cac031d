package session

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// idContextKey is the gin context key holding the resolved session id.
const idContextKey = "sessionID"

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	// Store is the persistence backend (required).
	Store Store

	// CookieName is the session cookie name.
	CookieName string

	// TTL is the server-side record lifetime. Idle expiry is enforced
	// separately by the access gate; this bound only garbage-collects
	// abandoned records.
	TTL time.Duration

	// Secure marks the session cookie as HTTPS-only.
	Secure bool

	// Logger for structured logging.
	Logger *zap.Logger
}

// Manager owns the cookie transport for session records. Tokens are opaque
// 32-byte identifiers issued lazily on the first save.
type Manager struct {
	store      Store
	cookieName string
	ttl        time.Duration
	secure     bool
	logger     *zap.Logger
}

// NewManager creates a session manager.
func NewManager(config ManagerConfig) *Manager {
	if config.Store == nil {
		panic("session manager: store is required")
	}
	if config.CookieName == "" {
		config.CookieName = "coop_session"
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Manager{
		store:      config.Store,
		cookieName: config.CookieName,
		ttl:        config.TTL,
		secure:     config.Secure,
		logger:     config.Logger,
	}
}

// Load resolves the session record for the request. A missing cookie, an
// unknown id or a store error all yield the zero State: requests always fail
// toward anonymous, never toward authenticated.
func (m *Manager) Load(c *gin.Context) State {
	id, err := c.Cookie(m.cookieName)
	if err != nil || id == "" {
		return State{}
	}

	state, err := m.store.Get(c.Request.Context(), id)
	if err != nil {
		if err != ErrNotFound {
			m.logger.Warn("session load failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
		}
		// The presented id is only trusted once it resolves to a record;
		// a fresh id is issued on the next save.
		return State{}
	}

	c.Set(idContextKey, id)
	return state
}

// Save persists the record, issuing a new id and cookie when the request does
// not yet carry a trusted one.
func (m *Manager) Save(c *gin.Context, state State) error {
	id := m.currentID(c)
	if id == "" {
		newID, err := generateToken()
		if err != nil {
			return err
		}
		id = newID
		c.Set(idContextKey, id)
		m.setCookie(c, id)
	}

	return m.store.Save(c.Request.Context(), id, state, m.ttl)
}

// Flush deletes the server-side record. The cookie is left in place; a stale
// id resolves to an anonymous session on subsequent requests, which keeps
// repeated requests after a flush idempotent.
func (m *Manager) Flush(c *gin.Context) error {
	id := m.currentID(c)
	if id == "" {
		return nil
	}

	c.Set(idContextKey, "")
	return m.store.Delete(c.Request.Context(), id)
}

// Rotate issues a fresh session id for the current record, deleting the old
// one. Login handlers call this after authentication to prevent fixation.
func (m *Manager) Rotate(c *gin.Context, state State) error {
	if old := m.currentID(c); old != "" {
		if err := m.store.Delete(c.Request.Context(), old); err != nil {
			m.logger.Warn("failed to delete rotated session", zap.Error(err))
		}
	}

	newID, err := generateToken()
	if err != nil {
		return err
	}

	c.Set(idContextKey, newID)
	m.setCookie(c, newID)
	return m.store.Save(c.Request.Context(), newID, state, m.ttl)
}

// TTL returns the server-side record lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// currentID returns the trusted session id resolved earlier in the request.
func (m *Manager) currentID(c *gin.Context) string {
	if id, exists := c.Get(idContextKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// setCookie writes the session cookie on the response.
func (m *Manager) setCookie(c *gin.Context, id string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, id, int(m.ttl.Seconds()), "/", "", m.secure, true)
}

// generateToken creates a cryptographically secure 32-byte identifier encoded
// as a base64 URL-safe string without padding.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
