package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

// ExecutorConfig bounds what a single query may return.
type ExecutorConfig struct {
	MaxLimit    int64 // upper bound on find limits and aggregate output
	DistinctCap int   // distinct values returned before truncating
	// HiddenFields are patterns for field names removed from every returned
	// document, at any depth.
	HiddenFields []string
}

// Result is what a query returned.
type Result struct {
	Verb      querytext.Verb `json:"verb"`
	Documents []bson.M       `json:"documents,omitempty"`
	Values    []interface{}  `json:"values,omitempty"`
	Count     int64          `json:"count"`
	// TrueCount is the number of documents matching the query's filter,
	// regardless of limits. Zero with HasTrueCount false when unknown.
	TrueCount    int64         `json:"true_count"`
	HasTrueCount bool          `json:"has_true_count"`
	Truncated    bool          `json:"truncated"`
	Limit        int64         `json:"limit,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Len is the number of documents or values returned.
func (r *Result) Len() int {
	switch r.Verb {
	case querytext.VerbDistinct:
		return len(r.Values)
	case querytext.VerbCount:
		return 1
	default:
		return len(r.Documents)
	}
}

// Executor runs parsed queries against a Store.
type Executor struct {
	store  Store
	config ExecutorConfig
	hidden []*regexp.Regexp
	logger *observability.Logger
}

// NewExecutor creates an executor. Zero config fields take the defaults.
func NewExecutor(store Store, config ExecutorConfig, logger *observability.Logger) *Executor {
	if config.MaxLimit <= 0 {
		config.MaxLimit = 1000
	}
	if config.DistinctCap <= 0 {
		config.DistinctCap = 50
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	e := &Executor{store: store, config: config, logger: logger}
	for _, pattern := range config.HiddenFields {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn(context.Background(), "Ignoring invalid hidden field pattern", map[string]interface{}{
				"pattern": pattern,
				"error":   err.Error(),
			})
			continue
		}
		e.hidden = append(e.hidden, re)
	}
	return e
}

// Execute runs q against collection. The matching-document count runs
// alongside the main query; its failure only leaves HasTrueCount unset.
func (e *Executor) Execute(ctx context.Context, collection string, q *querytext.Query) (*Result, error) {
	start := time.Now()
	result := &Result{Verb: q.Verb}

	var g errgroup.Group

	switch q.Verb {
	case querytext.VerbFind:
		limit := q.Limit
		if limit <= 0 {
			limit = querytext.DefaultFindLimit
		}
		if limit > e.config.MaxLimit {
			limit = e.config.MaxLimit
		}
		result.Limit = limit
		g.Go(func() error {
			docs, err := e.store.Find(ctx, collection, q.Filter, q.Projection, limit)
			result.Documents = docs
			return err
		})

	case querytext.VerbAggregate:
		// One extra row tells a full page apart from a cut one.
		pipeline := make(bson.A, 0, len(q.Pipeline)+1)
		pipeline = append(pipeline, q.Pipeline...)
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: e.config.MaxLimit + 1}})
		result.Limit = e.config.MaxLimit
		g.Go(func() error {
			docs, err := e.store.Aggregate(ctx, collection, pipeline)
			if int64(len(docs)) > e.config.MaxLimit {
				docs = docs[:e.config.MaxLimit]
				result.Truncated = true
			}
			result.Documents = docs
			return err
		})

	case querytext.VerbDistinct:
		g.Go(func() error {
			values, err := e.store.Distinct(ctx, collection, q.Field, q.Filter)
			if len(values) > e.config.DistinctCap {
				values = values[:e.config.DistinctCap]
				result.Truncated = true
			}
			result.Values = values
			return err
		})

	case querytext.VerbCount:
		g.Go(func() error {
			n, err := e.store.CountDocuments(ctx, collection, q.Filter)
			result.Count = n
			return err
		})

	default:
		return nil, &querytext.UnsupportedVerbError{Verb: string(q.Verb)}
	}

	var trueCount int64
	var countErr error
	filter, countable := q.MatchFilter()
	countable = countable && q.Verb != querytext.VerbCount
	if countable {
		g.Go(func() error {
			trueCount, countErr = e.store.CountDocuments(ctx, collection, filter)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("executing %s on %s: %w", q.Verb, collection, err)
	}

	if countable {
		if countErr != nil {
			e.logger.Warn(ctx, "True count failed", map[string]interface{}{
				"collection": collection,
				"verb":       string(q.Verb),
				"error":      countErr.Error(),
			})
		} else {
			result.TrueCount = trueCount
			result.HasTrueCount = true
			if q.Verb == querytext.VerbFind && trueCount > int64(len(result.Documents)) {
				result.Truncated = true
			}
		}
	}

	if q.Verb == querytext.VerbCount {
		result.TrueCount = result.Count
		result.HasTrueCount = true
	}

	e.redact(result.Documents)
	result.Duration = time.Since(start)
	return result, nil
}

// Samples returns up to n documents for previewing a collection.
func (e *Executor) Samples(ctx context.Context, collection string, n int64) ([]bson.M, error) {
	if n <= 0 {
		n = 10
	}
	if n > e.config.MaxLimit {
		n = e.config.MaxLimit
	}
	docs, err := e.store.Find(ctx, collection, nil, nil, n)
	if err != nil {
		return nil, err
	}
	e.redact(docs)
	return docs, nil
}

// redact drops hidden fields from docs in place.
func (e *Executor) redact(docs []bson.M) {
	if len(e.hidden) == 0 {
		return
	}
	for _, doc := range docs {
		e.redactValue(doc)
	}
}

func (e *Executor) redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		for k, inner := range val {
			if e.isHidden(k) {
				delete(val, k)
				continue
			}
			val[k] = e.redactValue(inner)
		}
		return val
	case bson.D:
		kept := val[:0]
		for _, el := range val {
			if e.isHidden(el.Key) {
				continue
			}
			el.Value = e.redactValue(el.Value)
			kept = append(kept, el)
		}
		return kept
	case bson.A:
		for i := range val {
			val[i] = e.redactValue(val[i])
		}
		return val
	}
	return v
}

func (e *Executor) isHidden(field string) bool {
	for _, re := range e.hidden {
		if re.MatchString(field) {
			return true
		}
	}
	return false
}
