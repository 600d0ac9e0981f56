package mongodb

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// fakeStore is a programmable Store for tests.
type fakeStore struct {
	mu sync.Mutex

	docs         []bson.M
	values       []interface{}
	count        int64
	samples      map[string]bson.M
	names        []string
	err          error
	countErr     error
	pingErr      error
	lastLimit    int64
	lastPipeline bson.A
	calls        map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{samples: map[string]bson.M{}, calls: map[string]int{}}
}

func (f *fakeStore) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeStore) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeStore) Find(ctx context.Context, collection string, filter, projection bson.D, limit int64) ([]bson.M, error) {
	f.record("find")
	f.mu.Lock()
	f.lastLimit = limit
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	docs := f.docs
	if limit > 0 && int64(len(docs)) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (f *fakeStore) Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error) {
	f.record("aggregate")
	f.mu.Lock()
	f.lastPipeline = pipeline
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	docs := f.docs
	if n := len(pipeline); n > 0 {
		if stage, ok := pipeline[n-1].(bson.D); ok && len(stage) == 1 && stage[0].Key == "$limit" {
			if limit, ok := stage[0].Value.(int64); ok && int64(len(docs)) > limit {
				docs = docs[:limit]
			}
		}
	}
	return docs, nil
}

func (f *fakeStore) Distinct(ctx context.Context, collection, field string, filter bson.D) ([]interface{}, error) {
	f.record("distinct")
	return f.values, f.err
}

func (f *fakeStore) CountDocuments(ctx context.Context, collection string, filter bson.D) (int64, error) {
	f.record("count")
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, f.err
}

func (f *fakeStore) SampleDocument(ctx context.Context, collection string) (bson.M, error) {
	f.record("sample")
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.samples[collection]
	if !ok {
		return nil, ErrNoDocuments
	}
	return doc, nil
}

func (f *fakeStore) ListCollections(ctx context.Context) ([]string, error) {
	f.record("list")
	return f.names, f.err
}

func (f *fakeStore) Ping(ctx context.Context) error {
	f.record("ping")
	return f.pingErr
}
