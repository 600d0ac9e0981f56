package mongodb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/goleak"

	"github.com/seanankenbruck/mongo-query-bot/internal/semantic"
)

// recordingMapper counts upserts on top of the in-memory mapper.
type recordingMapper struct {
	*semantic.MemoryMapper
	mu      sync.Mutex
	upserts int
	fail    map[string]bool
}

func newRecordingMapper() *recordingMapper {
	return &recordingMapper{MemoryMapper: semantic.NewMemoryMapper(), fail: map[string]bool{}}
}

func (m *recordingMapper) UpsertCollection(ctx context.Context, name string, fields map[string]string) (*semantic.Collection, error) {
	m.mu.Lock()
	m.upserts++
	fail := m.fail[name]
	m.mu.Unlock()
	if fail {
		return nil, errors.New("write failed")
	}
	return m.MemoryMapper.UpsertCollection(ctx, name, fields)
}

func (m *recordingMapper) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func milkDoc() bson.M {
	return bson.M{
		"_id":                  primitive.NewObjectID(),
		"memberCode":           "0010000019930016",
		"qty":                  12.5,
		"fat":                  4.2,
		"shift":                int32(1),
		"dateTimeOfCollection": primitive.NewDateTimeFromTime(time.Date(2024, 11, 9, 6, 0, 0, 0, time.UTC)),
		"tags":                 bson.A{"am"},
		"meta":                 bson.M{"device": "x"},
	}
}

func TestInferSchema(t *testing.T) {
	fields := InferSchema(milkDoc())

	assert.Equal(t, map[string]string{
		"memberCode":           "string",
		"qty":                  "double",
		"fat":                  "double",
		"shift":                "int",
		"dateTimeOfCollection": "date",
		"tags":                 "array",
		"meta":                 "object",
	}, fields)
	assert.Equal(t, []string{"dateTimeOfCollection", "fat", "memberCode", "meta", "qty", "shift", "tags"}, FieldNames(fields))
}

func TestDiscoveryService_RunDiscovery(t *testing.T) {
	t.Run("configured collections", func(t *testing.T) {
		store := newFakeStore()
		store.samples["milk_collections"] = milkDoc()
		mapper := newRecordingMapper()

		ds := NewDiscoveryService(store, DiscoveryConfig{Collections: []string{"milk_collections", "empty"}}, mapper, nil)
		found, err := ds.RunDiscovery(context.Background())
		require.NoError(t, err)

		require.Len(t, found, 1)
		assert.Equal(t, "milk_collections", found[0].Name)
		assert.Equal(t, 0, store.callCount("list"))

		c, err := mapper.GetCollection(context.Background(), "milk_collections")
		require.NoError(t, err)
		assert.Equal(t, "double", c.Fields["qty"])
	})

	t.Run("lists collections when none configured", func(t *testing.T) {
		store := newFakeStore()
		store.names = []string{"a", "b"}
		store.samples["a"] = bson.M{"x": "y"}
		store.samples["b"] = bson.M{"n": int64(3)}
		mapper := newRecordingMapper()
		mapper.fail["b"] = true

		ds := NewDiscoveryService(store, DiscoveryConfig{}, mapper, nil)
		found, err := ds.RunDiscovery(context.Background())
		require.NoError(t, err)

		assert.Len(t, found, 2)
		assert.Equal(t, 2, mapper.upsertCount())
		_, err = mapper.GetCollection(context.Background(), "b")
		assert.ErrorIs(t, err, semantic.ErrNotFound)
	})

	t.Run("list failure", func(t *testing.T) {
		store := newFakeStore()
		store.err = errors.New("not authorized")

		ds := NewDiscoveryService(store, DiscoveryConfig{}, newRecordingMapper(), nil)
		_, err := ds.RunDiscovery(context.Background())
		assert.ErrorContains(t, err, "failed to list collections")
	})
}

func TestDiscoveryService_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := newFakeStore()
	store.samples["milk_collections"] = milkDoc()
	mapper := newRecordingMapper()

	ds := NewDiscoveryService(store, DiscoveryConfig{
		Enabled:     true,
		Interval:    10 * time.Millisecond,
		Collections: []string{"milk_collections"},
	}, mapper, nil)

	require.NoError(t, ds.Start(context.Background()))
	assert.Error(t, ds.Start(context.Background()), "second start is rejected")

	assert.Eventually(t, func() bool { return mapper.upsertCount() >= 2 }, time.Second, 5*time.Millisecond)

	ds.Stop()
	ds.Stop()
}

func TestDiscoveryService_Disabled(t *testing.T) {
	store := newFakeStore()
	ds := NewDiscoveryService(store, DiscoveryConfig{Enabled: false}, newRecordingMapper(), nil)

	require.NoError(t, ds.Start(context.Background()))
	assert.Equal(t, 0, store.callCount("ping"))
	ds.Stop()
}

func TestDiscoveryService_StartFailsWhenUnreachable(t *testing.T) {
	store := newFakeStore()
	store.pingErr = errors.New("connection refused")

	ds := NewDiscoveryService(store, DiscoveryConfig{Enabled: true}, newRecordingMapper(), nil)
	assert.ErrorContains(t, ds.Start(context.Background()), "failed to connect to MongoDB")
}
