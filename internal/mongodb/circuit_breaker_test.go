package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func testBreakerConfig(failures uint32, timeout time.Duration) CircuitBreakerConfig {
	return DefaultCircuitBreakerConfig(failures, timeout, nil)
}

func TestBreakerStore_Success(t *testing.T) {
	store := newFakeStore()
	store.docs = manyDocs(2)

	cb := NewBreakerStore(store, "test-mongo", testBreakerConfig(3, time.Second))
	docs, err := cb.Find(context.Background(), "milk_collections", nil, nil, 10)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerStore_OpensAfterFailures(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("server selection error: connection refused")

	cb := NewBreakerStore(store, "test-mongo", testBreakerConfig(3, time.Minute))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cb.CountDocuments(ctx, "milk_collections", nil)
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Find(ctx, "milk_collections", nil, nil, 10)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, store.callCount("find"), "open breaker does not reach the store")
}

func TestBreakerStore_ServerErrorsDoNotTrip(t *testing.T) {
	store := newFakeStore()
	store.err = mongo.CommandError{Code: 2, Name: "BadValue", Message: "unknown operator: $foo"}

	cb := NewBreakerStore(store, "test-mongo", testBreakerConfig(2, time.Minute))
	for i := 0; i < 5; i++ {
		_, err := cb.Aggregate(context.Background(), "milk_collections", nil)
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerStore_EmptyCollectionDoesNotTrip(t *testing.T) {
	cb := NewBreakerStore(newFakeStore(), "test-mongo", testBreakerConfig(1, time.Minute))

	_, err := cb.SampleDocument(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNoDocuments)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerStore_HalfOpenRecovery(t *testing.T) {
	store := newFakeStore()
	store.pingErr = errors.New("connection reset")

	cb := NewBreakerStore(store, "test-mongo", testBreakerConfig(1, 50*time.Millisecond))
	require.Error(t, cb.Ping(context.Background()))
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	store.pingErr = nil
	require.NoError(t, cb.Ping(context.Background()))
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerStore_Passthrough(t *testing.T) {
	store := newFakeStore()
	store.values = []interface{}{"a", "b"}
	store.names = []string{"milk_collections"}

	cb := NewBreakerStore(store, "test-mongo", testBreakerConfig(3, time.Minute))
	ctx := context.Background()

	values, err := cb.Distinct(ctx, "milk_collections", "memberCode", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, values)

	names, err := cb.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"milk_collections"}, names)

	assert.Equal(t, uint32(2), cb.Counts().TotalSuccesses)
}
