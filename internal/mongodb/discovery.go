// internal/mongodb/discovery.go
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/semantic"
)

// DiscoveryConfig holds configuration for schema discovery
type DiscoveryConfig struct {
	Enabled  bool
	Interval time.Duration
	// Collections to sample. Empty means every collection in the database.
	Collections []string
}

// DiscoveredCollection is one sampled collection.
type DiscoveredCollection struct {
	Name   string
	Fields map[string]string
}

// DiscoveryService periodically samples collections and records their
// field types in the semantic store.
type DiscoveryService struct {
	store    Store
	config   DiscoveryConfig
	mapper   semantic.Mapper
	logger   *observability.Logger
	stopChan chan struct{}
	ticker   *time.Ticker
	running  bool
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(store Store, config DiscoveryConfig, mapper semantic.Mapper, logger *observability.Logger) *DiscoveryService {
	if config.Interval == 0 {
		config.Interval = 10 * time.Minute
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &DiscoveryService{
		store:    store,
		config:   config,
		mapper:   mapper,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs one discovery cycle in the background and then one per interval.
func (ds *DiscoveryService) Start(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.running {
		return fmt.Errorf("discovery service already running")
	}

	if !ds.config.Enabled {
		ds.logger.Info(ctx, "Schema discovery is disabled", nil)
		return nil
	}

	if err := ds.store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ds.ticker = time.NewTicker(ds.config.Interval)
	ds.running = true

	ds.wg.Add(1)
	go ds.discoveryLoop(ctx)

	ds.logger.Info(ctx, "Schema discovery started", map[string]interface{}{
		"interval": ds.config.Interval.String(),
	})
	return nil
}

// Stop stops the loop and waits for an in-flight cycle to finish.
func (ds *DiscoveryService) Stop() {
	ds.mu.Lock()
	if !ds.running {
		ds.mu.Unlock()
		return
	}
	close(ds.stopChan)
	ds.ticker.Stop()
	ds.running = false
	ds.mu.Unlock()

	ds.wg.Wait()
	ds.logger.Info(context.Background(), "Schema discovery stopped", nil)
}

func (ds *DiscoveryService) discoveryLoop(ctx context.Context) {
	defer ds.wg.Done()

	ds.runAndLog(ctx)
	for {
		select {
		case <-ds.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ds.ticker.C:
			ds.runAndLog(ctx)
		}
	}
}

func (ds *DiscoveryService) runAndLog(ctx context.Context) {
	if _, err := ds.RunDiscovery(ctx); err != nil {
		ds.logger.Error(ctx, "Discovery cycle failed", err, nil)
	}
}

// RunDiscovery performs a single discovery cycle and returns what it saw.
// A collection that cannot be sampled is skipped.
func (ds *DiscoveryService) RunDiscovery(ctx context.Context) ([]DiscoveredCollection, error) {
	start := time.Now()

	names := ds.config.Collections
	if len(names) == 0 {
		var err error
		names, err = ds.store.ListCollections(ctx)
		if err != nil {
			observability.RecordDiscoveryMetrics(time.Since(start), 0, err)
			return nil, fmt.Errorf("failed to list collections: %w", err)
		}
	}

	discovered := make([]DiscoveredCollection, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			doc, err := ds.store.SampleDocument(gctx, name)
			if err != nil {
				if !errors.Is(err, ErrNoDocuments) {
					ds.logger.Warn(gctx, "Failed to sample collection", map[string]interface{}{
						"collection": name,
						"error":      err.Error(),
					})
				}
				return nil
			}
			discovered[i] = DiscoveredCollection{Name: name, Fields: InferSchema(doc)}
			return nil
		})
	}
	_ = g.Wait()

	found := discovered[:0]
	for _, d := range discovered {
		if d.Name != "" {
			found = append(found, d)
		}
	}

	updates := 0
	for _, d := range found {
		if _, err := ds.mapper.UpsertCollection(ctx, d.Name, d.Fields); err != nil {
			ds.logger.Warn(ctx, "Failed to record collection schema", map[string]interface{}{
				"collection": d.Name,
				"error":      err.Error(),
			})
			continue
		}
		ds.logger.Debug(ctx, "Recorded collection schema", map[string]interface{}{
			"collection": d.Name,
			"fields":     FieldNames(d.Fields),
		})
		updates++
	}

	duration := time.Since(start)
	observability.RecordDiscoveryMetrics(duration, len(found), nil)
	ds.logger.Info(ctx, "Discovery cycle completed", map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"collections": len(found),
		"updates":     updates,
	})

	return found, nil
}

// InferSchema maps each top-level field of doc to a BSON type name. _id is
// left out.
func InferSchema(doc bson.M) map[string]string {
	fields := make(map[string]string, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		fields[k] = bsonTypeName(v)
	}
	return fields
}

func bsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil, primitive.Null:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case primitive.Decimal128:
		return "decimal"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.ObjectID:
		return "objectId"
	case bson.M, bson.D:
		return "object"
	case bson.A:
		return "array"
	case primitive.Binary:
		return "binData"
	case primitive.Regex:
		return "regex"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FieldNames lists a schema's fields in order.
func FieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
