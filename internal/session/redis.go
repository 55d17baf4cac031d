package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Prometheus metrics for Redis session store operations.
var (
	sessionStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_store_operations_total",
			Help: "Total number of session store operations",
		},
		[]string{"operation", "status"},
	)

	sessionStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_store_operation_duration_seconds",
			Help:    "Duration of session store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RedisConfig holds configuration for the Redis session store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	// Connection pool settings
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger for the Redis store.
	Logger *zap.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		Password:     "",
		DB:           0,
		Prefix:       "session:",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStore implements Store using Redis. Records are stored as JSON with a
// server-side TTL so abandoned sessions disappear without a sweep.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	closed bool
	mu     sync.Mutex
}

// NewRedisStore creates a new Redis session store and verifies connectivity.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Address, err)
	}

	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		logger: logger,
	}, nil
}

// prefixKey adds the prefix to the session id.
func (s *RedisStore) prefixKey(id string) string {
	return s.prefix + id
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (State, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return State{}, fmt.Errorf("context error before redis get: %w", err)
	}

	data, err := s.client.Get(ctx, s.prefixKey(id)).Bytes()

	sessionStoreOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if errors.Is(err, redis.Nil) {
		sessionStoreOperationsTotal.WithLabelValues("get", "not_found").Inc()
		return State{}, ErrNotFound
	}
	if err != nil {
		sessionStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return State{}, fmt.Errorf("redis get error: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupt records surface as absent so callers fail toward anonymous.
		sessionStoreOperationsTotal.WithLabelValues("get", "corrupt").Inc()
		s.logger.Warn("discarding corrupt session record",
			zap.String("id", id),
			zap.Error(err),
		)
		_ = s.client.Del(ctx, s.prefixKey(id)).Err()
		return State{}, ErrNotFound
	}

	sessionStoreOperationsTotal.WithLabelValues("get", "success").Inc()
	return state, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, id string, state State, ttl time.Duration) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis set: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		sessionStoreOperationsTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	err = s.client.Set(ctx, s.prefixKey(id), data, ttl).Err()

	sessionStoreOperationDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())

	if err != nil {
		sessionStoreOperationsTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("redis set error: %w", err)
	}

	sessionStoreOperationsTotal.WithLabelValues("save", "success").Inc()
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis del: %w", err)
	}

	err := s.client.Del(ctx, s.prefixKey(id)).Err()

	sessionStoreOperationDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	if err != nil {
		sessionStoreOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis del error: %w", err)
	}

	sessionStoreOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// Close implements Store. Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
