package semantic

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a collection or example does not exist.
var ErrNotFound = errors.New("not found")

// Mapper stores what the bot knows about the data it queries: collection
// schemas, the words users say for fields, and previously answered questions.
type Mapper interface {
	// Collection operations
	GetCollections(ctx context.Context) ([]Collection, error)
	GetCollection(ctx context.Context, name string) (*Collection, error)
	UpsertCollection(ctx context.Context, name string, fields map[string]string) (*Collection, error)

	// Alias operations
	GetAliases(ctx context.Context, collection string) (map[string]string, error)
	AddAlias(ctx context.Context, collection, alias, field string) error

	// Example operations
	StoreExample(ctx context.Context, question, queryText string, embedding []float32) error
	FindSimilarExamples(ctx context.Context, embedding []float32, threshold float64, limit int) ([]SimilarExample, error)
}

// Collection is a discovered collection schema.
type Collection struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Fields    map[string]string `json:"fields"` // field -> BSON type name
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SimilarExample is a stored question close to the one being asked.
type SimilarExample struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	QueryText  string    `json:"query_text"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}
