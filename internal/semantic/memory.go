package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryMapper is an in-process Mapper for running without PostgreSQL.
// Nothing survives a restart.
type MemoryMapper struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	aliases     map[string]map[string]string
	examples    map[string]*storedExample
}

type storedExample struct {
	SimilarExample
	embedding []float32
}

// NewMemoryMapper creates an empty in-memory store.
func NewMemoryMapper() *MemoryMapper {
	return &MemoryMapper{
		collections: make(map[string]*Collection),
		aliases:     make(map[string]map[string]string),
		examples:    make(map[string]*storedExample),
	}
}

func (m *MemoryMapper) GetCollections(ctx context.Context) ([]Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Collection, 0, len(m.collections))
	for _, c := range m.collections {
		out = append(out, copyCollection(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryMapper) GetCollection(ctx context.Context, name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", name, ErrNotFound)
	}
	cp := copyCollection(c)
	return &cp, nil
}

func (m *MemoryMapper) UpsertCollection(ctx context.Context, name string, fields map[string]string) (*Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c, ok := m.collections[name]
	if !ok {
		c = &Collection{ID: uuid.New().String(), Name: name, CreatedAt: now}
		m.collections[name] = c
	}
	c.Fields = make(map[string]string, len(fields))
	for k, v := range fields {
		c.Fields[k] = v
	}
	c.UpdatedAt = now

	cp := copyCollection(c)
	return &cp, nil
}

func (m *MemoryMapper) GetAliases(ctx context.Context, collection string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MergeAliases(DefaultAliases(collection), m.aliases[collection]), nil
}

func (m *MemoryMapper) AddAlias(ctx context.Context, collection, alias, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.aliases[collection] == nil {
		m.aliases[collection] = make(map[string]string)
	}
	m.aliases[collection][strings.ToLower(alias)] = field
	return nil
}

func (m *MemoryMapper) StoreExample(ctx context.Context, question, queryText string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ex, ok := m.examples[question]; ok {
		ex.QueryText = queryText
		ex.embedding = embedding
		return nil
	}
	m.examples[question] = &storedExample{
		SimilarExample: SimilarExample{
			ID:        uuid.New().String(),
			Question:  question,
			QueryText: queryText,
			CreatedAt: time.Now(),
		},
		embedding: embedding,
	}
	return nil
}

func (m *MemoryMapper) FindSimilarExamples(ctx context.Context, embedding []float32, threshold float64, limit int) ([]SimilarExample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 3
	}

	var out []SimilarExample
	for _, ex := range m.examples {
		sim := CosineSimilarity(embedding, ex.embedding)
		if sim > threshold {
			match := ex.SimilarExample
			match.Similarity = sim
			out = append(out, match)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CosineSimilarity matches pgvector's 1 - (a <=> b). Mismatched or zero
// vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyCollection(c *Collection) Collection {
	cp := *c
	cp.Fields = make(map[string]string, len(c.Fields))
	for k, v := range c.Fields {
		cp.Fields[k] = v
	}
	return cp
}
