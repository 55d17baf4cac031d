// Package main is the entry point for the portal access gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coopportal/accessgw/internal/config"
	"github.com/coopportal/accessgw/internal/server"
	"github.com/coopportal/accessgw/internal/session"
	"github.com/coopportal/accessgw/internal/userstore"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags win over the config file for log settings.
	level := cfg.Log.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	format := cfg.Log.Format
	if flags.logFormat != "" {
		format = flags.logFormat
	}

	logger, err := initLogger(level, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting accessgw",
		zap.String("version", version),
		zap.String("config", flags.configPath),
	)

	if err := run(cfg, flags.configPath, logger); err != nil {
		logger.Fatal("gateway failed", zap.Error(err))
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("ACCESSGW_CONFIG_PATH", "configs/accessgw.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	logFormat := flag.String("log-format", "", "Log format (json, console); overrides the config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("accessgw version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger builds the zap logger from level and format settings.
func initLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	return zcfg.Build()
}

// run wires the stores, the server and the config watcher, then blocks until
// shutdown.
func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	store, err := buildSessionStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sessions := session.NewManager(session.ManagerConfig{
		Store:      store,
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.StoreTTL.Duration(),
		Secure:     cfg.Session.SecureCookie,
		Logger:     logger,
	})

	sqlite, err := userstore.NewSQLiteStore(cfg.Users.Database, logger)
	if err != nil {
		return err
	}
	users := userstore.NewBreakerStore(sqlite, userstore.BreakerConfig{
		Threshold: cfg.Users.BreakerThreshold,
		Timeout:   cfg.Users.BreakerTimeout.Duration(),
		Logger:    logger,
	})
	defer func() { _ = users.Close() }()

	srv, err := server.New(cfg, sessions, users, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, func(reloaded *config.Config) {
		if err := srv.ApplyConfig(reloaded); err != nil {
			logger.Error("config reload failed", zap.Error(err))
		}
	}, config.WithErrorCallback(func(err error) {
		logger.Error("config watcher error", zap.Error(err))
	}))
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	return srv.Stop(shutdownCtx)
}

// getEnvOrDefault returns the environment value or a fallback.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildSessionStore selects the session backend from configuration.
func buildSessionStore(cfg *config.Config, logger *zap.Logger) (session.Store, error) {
	if cfg.Session.Store == "redis" {
		rc := session.DefaultRedisConfig()
		rc.Address = cfg.Session.Redis.Address
		rc.Password = cfg.Session.Redis.Password
		rc.DB = cfg.Session.Redis.DB
		if cfg.Session.Redis.Prefix != "" {
			rc.Prefix = cfg.Session.Redis.Prefix
		}
		if cfg.Session.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Session.Redis.PoolSize
		}
		if d := cfg.Session.Redis.Timeout.Duration(); d > 0 {
			rc.DialTimeout = d
			rc.ReadTimeout = d
			rc.WriteTimeout = d
		}
		rc.Logger = logger
		return session.NewRedisStore(rc)
	}

	return session.NewMemoryStore(), nil
}
