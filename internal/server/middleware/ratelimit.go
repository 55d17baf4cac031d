package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// clientTTL bounds how long an idle client's limiter is kept.
const clientTTL = 10 * time.Minute

// clientEntry holds one client's limiter and its last access time.
type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LoginLimiter throttles login attempts per client IP. Credential stuffing is
// the threat model here, so the bucket is keyed by source address rather than
// by account.
type LoginLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	rps     rate.Limit
	burst   int
	logger  *zap.Logger
	stopCh  chan struct{}
	once    sync.Once
}

// NewLoginLimiter creates a login limiter allowing rps attempts per second
// with the given burst, per client IP.
func NewLoginLimiter(rps float64, burst int, logger *zap.Logger) *LoginLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &LoginLimiter{
		clients: make(map[string]*clientEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether the client may attempt another login.
func (l *LoginLimiter) Allow(clientIP string) bool {
	now := time.Now()

	l.mu.Lock()
	entry, ok := l.clients[clientIP]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[clientIP] = entry
	}
	entry.lastAccess = now
	l.mu.Unlock()

	return entry.limiter.Allow()
}

// Middleware returns the gin handler enforcing the limit.
func (l *LoginLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.Allow(ip) {
			l.logger.Warn("login attempt rate limited",
				zap.String("client_ip", ip),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "Too many login attempts. Please try again later.",
			})
			return
		}
		c.Next()
	}
}

// Stop terminates the background cleanup goroutine.
func (l *LoginLimiter) Stop() {
	l.once.Do(func() { close(l.stopCh) })
}

// cleanupLoop evicts limiters idle longer than clientTTL.
func (l *LoginLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, entry := range l.clients {
				if now.Sub(entry.lastAccess) > clientTTL {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}
