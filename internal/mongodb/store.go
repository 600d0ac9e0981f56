// internal/mongodb/store.go
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
)

// Store is the read-only surface of the document database the bot queries.
type Store interface {
	Find(ctx context.Context, collection string, filter, projection bson.D, limit int64) ([]bson.M, error)
	Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error)
	Distinct(ctx context.Context, collection, field string, filter bson.D) ([]interface{}, error)
	CountDocuments(ctx context.Context, collection string, filter bson.D) (int64, error)
	SampleDocument(ctx context.Context, collection string) (bson.M, error)
	ListCollections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// ErrNoDocuments is returned by SampleDocument on an empty collection.
var ErrNoDocuments = errors.New("collection has no documents")

// MongoStore implements Store with the official driver.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetAppName("mongo-query-bot")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	store := NewMongoStore(client, cfg.Database, timeout)
	if err := store.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return store, nil
}

// NewMongoStore wraps a connected client.
func NewMongoStore(client *mongo.Client, database string, timeout time.Duration) *MongoStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MongoStore{client: client, db: client.Database(database), timeout: timeout}
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) Find(ctx context.Context, collection string, filter, projection bson.D, limit int64) ([]bson.M, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, orEmpty(filter), opts)
	if err != nil {
		observability.RecordDBMetrics("mongodb", "find", time.Since(start), err)
		return nil, fmt.Errorf("find on %s: %w", collection, err)
	}

	var docs []bson.M
	err = cursor.All(ctx, &docs)
	observability.RecordDBMetrics("mongodb", "find", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("reading find results: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		observability.RecordDBMetrics("mongodb", "aggregate", time.Since(start), err)
		return nil, fmt.Errorf("aggregate on %s: %w", collection, err)
	}

	var docs []bson.M
	err = cursor.All(ctx, &docs)
	observability.RecordDBMetrics("mongodb", "aggregate", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("reading aggregate results: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) Distinct(ctx context.Context, collection, field string, filter bson.D) ([]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	values, err := s.db.Collection(collection).Distinct(ctx, field, orEmpty(filter))
	observability.RecordDBMetrics("mongodb", "distinct", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("distinct %s on %s: %w", field, collection, err)
	}
	return values, nil
}

func (s *MongoStore) CountDocuments(ctx context.Context, collection string, filter bson.D) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	n, err := s.db.Collection(collection).CountDocuments(ctx, orEmpty(filter))
	observability.RecordDBMetrics("mongodb", "count", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("count on %s: %w", collection, err)
	}
	return n, nil
}

func (s *MongoStore) SampleDocument(ctx context.Context, collection string) (bson.M, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := s.db.Collection(collection).Aggregate(ctx, bson.A{
		bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("sampling %s: %w", collection, err)
		}
		return nil, ErrNoDocuments
	}
	var doc bson.M
	if err := cursor.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding sample from %s: %w", collection, err)
	}
	return doc, nil
}

func (s *MongoStore) ListCollections(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return names, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func orEmpty(filter bson.D) bson.D {
	if filter == nil {
		return bson.D{}
	}
	return filter
}
