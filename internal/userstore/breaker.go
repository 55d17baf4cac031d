package userstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// userstoreBreakerTransitions counts circuit breaker state changes.
var userstoreBreakerTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "userstore_breaker_transitions_total",
		Help: "Total number of user store circuit breaker state transitions",
	},
	[]string{"from", "to"},
)

// BreakerConfig holds configuration for the circuit breaker wrapper.
type BreakerConfig struct {
	// Threshold is the minimum number of requests before the failure ratio
	// can trip the breaker.
	Threshold uint32

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultBreakerConfig returns a BreakerConfig with default values.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Timeout:   30 * time.Second,
	}
}

// BreakerStore wraps a Store with a circuit breaker. While the breaker is
// open, lookups return ErrUnavailable immediately instead of hammering a
// failing backend. Domain outcomes (not found, bad credentials) never count
// as failures.
type BreakerStore struct {
	inner  Store
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewBreakerStore wraps the given store with a circuit breaker.
func NewBreakerStore(inner Store, config BreakerConfig) *BreakerStore {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Threshold == 0 {
		config.Threshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "userstore",
		MaxRequests: config.Threshold,
		Interval:    config.Timeout,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= config.Threshold && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrInvalidCredentials)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("user store circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			userstoreBreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
	}

	return &BreakerStore{
		inner:  inner,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// ByID implements Store.
func (b *BreakerStore) ByID(ctx context.Context, id int64) (*User, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.inner.ByID(ctx, id)
	})
	if err != nil {
		return nil, b.mapError(err)
	}
	return result.(*User), nil
}

// Authenticate implements Store.
func (b *BreakerStore) Authenticate(ctx context.Context, email, password string) (*User, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.inner.Authenticate(ctx, email, password)
	})
	if err != nil {
		return nil, b.mapError(err)
	}
	return result.(*User), nil
}

// Close implements Store.
func (b *BreakerStore) Close() error {
	return b.inner.Close()
}

// State returns the current breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

// mapError converts breaker rejections into ErrUnavailable while passing
// domain errors through untouched.
func (b *BreakerStore) mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidCredentials) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
