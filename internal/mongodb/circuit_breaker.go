package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
)

// ErrCircuitOpen is returned without touching the database while the breaker is open.
var ErrCircuitOpen = errors.New("mongodb circuit breaker is open")

// CircuitBreakerConfig defines circuit breaker configuration for MongoDB
type CircuitBreakerConfig struct {
	MaxRequests   uint32        // Max requests allowed in half-open state
	Interval      time.Duration // Window for counting failures
	Timeout       time.Duration // Duration circuit stays open before trying recovery
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig opens after maxFailures consecutive failures.
func DefaultCircuitBreakerConfig(maxFailures uint32, timeout time.Duration, logger *observability.Logger) CircuitBreakerConfig {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
}

// BreakerStore wraps a Store with circuit breaker protection
type BreakerStore struct {
	store   Store
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore creates a new circuit breaker wrapped Store
func NewBreakerStore(store Store, name string, config CircuitBreakerConfig) *BreakerStore {
	settings := gobreaker.Settings{
		Name:          name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   config.ReadyToTrip,
		OnStateChange: config.OnStateChange,
		IsSuccessful:  healthyOutcome,
	}

	return &BreakerStore{
		store:   store,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// healthyOutcome counts anything the server answered as success: a rejected
// query says nothing about database health, neither does a cancelled caller.
func healthyOutcome(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNoDocuments) {
		return true
	}
	var serverErr mongo.ServerError
	return errors.As(err, &serverErr)
}

func execute[T any](cb *BreakerStore, call func() (T, error)) (T, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return zero, err
	}
	return result.(T), nil
}

func (cb *BreakerStore) Find(ctx context.Context, collection string, filter, projection bson.D, limit int64) ([]bson.M, error) {
	return execute(cb, func() ([]bson.M, error) {
		return cb.store.Find(ctx, collection, filter, projection, limit)
	})
}

func (cb *BreakerStore) Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error) {
	return execute(cb, func() ([]bson.M, error) {
		return cb.store.Aggregate(ctx, collection, pipeline)
	})
}

func (cb *BreakerStore) Distinct(ctx context.Context, collection, field string, filter bson.D) ([]interface{}, error) {
	return execute(cb, func() ([]interface{}, error) {
		return cb.store.Distinct(ctx, collection, field, filter)
	})
}

func (cb *BreakerStore) CountDocuments(ctx context.Context, collection string, filter bson.D) (int64, error) {
	return execute(cb, func() (int64, error) {
		return cb.store.CountDocuments(ctx, collection, filter)
	})
}

func (cb *BreakerStore) SampleDocument(ctx context.Context, collection string) (bson.M, error) {
	return execute(cb, func() (bson.M, error) {
		return cb.store.SampleDocument(ctx, collection)
	})
}

func (cb *BreakerStore) ListCollections(ctx context.Context) ([]string, error) {
	return execute(cb, func() ([]string, error) {
		return cb.store.ListCollections(ctx)
	})
}

// Ping goes through the breaker so a health probe can close it again.
func (cb *BreakerStore) Ping(ctx context.Context) error {
	_, err := execute(cb, func() (struct{}, error) {
		return struct{}{}, cb.store.Ping(ctx)
	})
	return err
}

// State returns the current state of the circuit breaker
func (cb *BreakerStore) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the current failure counts
func (cb *BreakerStore) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
