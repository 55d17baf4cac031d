package config

import (
	"fmt"
	"time"

	"github.com/coopportal/accessgw/internal/routes"
)

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Users     UsersConfig     `yaml:"users"`
	Paths     PathsConfig     `yaml:"paths"`
	LoginRate LoginRateConfig `yaml:"login_rate"`
	Log       LogConfig       `yaml:"log"`
	Routes    []RouteRule     `yaml:"routes"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// BaseURL is the externally visible origin of the portal. The gate's
	// referer heuristic compares against it.
	BaseURL string `yaml:"base_url"`

	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// SessionConfig holds session store and cookie settings.
type SessionConfig struct {
	// IdleTimeout is the maximum allowed gap between requests before the
	// session is flushed.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// StoreTTL bounds the server-side record lifetime regardless of activity.
	StoreTTL Duration `yaml:"store_ttl"`

	CookieName   string `yaml:"cookie_name"`
	SecureCookie bool   `yaml:"secure_cookie"`

	// Store selects the backend: "memory" or "redis".
	Store string `yaml:"store"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the session store.
type RedisConfig struct {
	Address  string   `yaml:"address"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	PoolSize int      `yaml:"pool_size"`
	Timeout  Duration `yaml:"timeout"`
}

// UsersConfig holds the account database settings.
type UsersConfig struct {
	Database         string   `yaml:"database"`
	BreakerThreshold uint32   `yaml:"breaker_threshold"`
	BreakerTimeout   Duration `yaml:"breaker_timeout"`
}

// PathsConfig names the routes the gate redirects to.
type PathsConfig struct {
	Login        string `yaml:"login"`
	Home         string `yaml:"home"`
	About        string `yaml:"about"`
	Download     string `yaml:"download"`
	Logout       string `yaml:"logout"`
	AccessDenied string `yaml:"access_denied"`
	Dashboard    string `yaml:"dashboard"`
}

// LoginRateConfig throttles credential attempts per client IP.
type LoginRateConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RouteRule is one entry of the URL classification table.
type RouteRule struct {
	Match string `yaml:"match"`
	Path  string `yaml:"path"`
	Tier  string `yaml:"tier"`
}

// DefaultConfig returns a configuration with the portal's default values,
// including the stock classification table.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Session: SessionConfig{
			IdleTimeout:  Duration(900 * time.Second),
			StoreTTL:     Duration(24 * time.Hour),
			CookieName:   "coop_session",
			SecureCookie: false,
			Store:        "memory",
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "session:",
			},
		},
		Users: UsersConfig{
			Database:         "coop.db",
			BreakerThreshold: 5,
			BreakerTimeout:   Duration(30 * time.Second),
		},
		Paths: PathsConfig{
			Login:        "/login/",
			Home:         "/",
			About:        "/about/",
			Download:     "/download/",
			Logout:       "/logout/",
			AccessDenied: "/access-denied/",
			Dashboard:    "/dashboard/",
		},
		LoginRate: LoginRateConfig{
			PerSecond: 1,
			Burst:     5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Routes: DefaultRoutes(),
	}
}

// DefaultRoutes returns the stock classification table.
func DefaultRoutes() []RouteRule {
	return []RouteRule{
		{Match: "prefix", Path: "/static/", Tier: "public_prefix"},
		{Match: "prefix", Path: "/admin-assets/", Tier: "public_prefix"},
		{Match: "exact", Path: "/", Tier: "public"},
		{Match: "exact", Path: "/login/", Tier: "public"},
		{Match: "exact", Path: "/logout/", Tier: "public"},
		{Match: "exact", Path: "/about/", Tier: "public"},
		{Match: "exact", Path: "/download/", Tier: "public"},
		{Match: "exact", Path: "/access-denied/", Tier: "public"},
		{Match: "prefix", Path: "/password-reset/", Tier: "public"},
		{Match: "exact", Path: "/healthz", Tier: "public"},
		{Match: "exact", Path: "/metrics", Tier: "public"},
		{Match: "exact", Path: "/verify/", Tier: "pending_verification"},
		{Match: "exact", Path: "/verify/confirm/", Tier: "pending_verification"},
		{Match: "prefix", Path: "/communications/api/", Tier: "api"},
		{Match: "prefix", Path: "/databank/api/", Tier: "api"},
		{Match: "prefix", Path: "/account_management/api/", Tier: "api"},
		{Match: "prefix", Path: "/communications/api/message/attachment/", Tier: "file"},
		{Match: "prefix", Path: "/databank/stream/", Tier: "file"},
		{Match: "prefix", Path: "/databank/api/convert/", Tier: "conversion"},
		{Match: "prefix", Path: "/events/calendar/", Tier: "bypass"},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Session.IdleTimeout.Duration() <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Session.StoreTTL.Duration() < c.Session.IdleTimeout.Duration() {
		return fmt.Errorf("session.store_ttl must not be shorter than session.idle_timeout")
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.store must be \"memory\" or \"redis\", got %q", c.Session.Store)
	}
	if c.Session.Store == "redis" && c.Session.Redis.Address == "" {
		return fmt.Errorf("session.redis.address is required for the redis store")
	}
	if c.Users.Database == "" {
		return fmt.Errorf("users.database is required")
	}

	paths := map[string]string{
		"paths.login":         c.Paths.Login,
		"paths.home":          c.Paths.Home,
		"paths.access_denied": c.Paths.AccessDenied,
		"paths.dashboard":     c.Paths.Dashboard,
	}
	for name, p := range paths {
		if p == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if _, err := c.RouteTable(); err != nil {
		return err
	}

	return nil
}

// RouteTable compiles the classification rules into a lookup table.
func (c *Config) RouteTable() (*routes.Table, error) {
	rules := make([]routes.Rule, 0, len(c.Routes))
	for i, r := range c.Routes {
		tier, err := routes.ParseTier(r.Tier)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		rules = append(rules, routes.Rule{Match: r.Match, Path: r.Path, Tier: tier})
	}

	table, err := routes.NewTable(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid classification table: %w", err)
	}
	return table, nil
}
