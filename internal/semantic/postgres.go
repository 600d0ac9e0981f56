package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
)

// PostgresMapper implements the Mapper interface using PostgreSQL
type PostgresMapper struct {
	db *sql.DB
}

// NewPostgresMapper opens and pings the semantic store.
func NewPostgresMapper(cfg config.DatabaseConfig) (*PostgresMapper, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresMapper{db: db}, nil
}

// NewPostgresMapperFromDB wraps an already open handle.
func NewPostgresMapperFromDB(db *sql.DB) *PostgresMapper {
	return &PostgresMapper{db: db}
}

// Ping tests the database connection
func (pm *PostgresMapper) Ping(ctx context.Context) error {
	return pm.db.PingContext(ctx)
}

// Close closes the database connection
func (pm *PostgresMapper) Close() error {
	return pm.db.Close()
}

// GetCollections retrieves all known collection schemas
func (pm *PostgresMapper) GetCollections(ctx context.Context) ([]Collection, error) {
	query := `
		SELECT id, name, fields, created_at, updated_at
		FROM collections
		ORDER BY name
	`

	rows, err := pm.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var collections []Collection
	for rows.Next() {
		collection, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		collections = append(collections, *collection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collection rows: %w", err)
	}

	return collections, nil
}

// GetCollection retrieves one collection schema by name
func (pm *PostgresMapper) GetCollection(ctx context.Context, name string) (*Collection, error) {
	query := `
		SELECT id, name, fields, created_at, updated_at
		FROM collections
		WHERE name = $1
	`

	collection, err := scanCollection(pm.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %s: %w", name, ErrNotFound)
	}
	return collection, err
}

// UpsertCollection records the latest field types seen for a collection
func (pm *PostgresMapper) UpsertCollection(ctx context.Context, name string, fields map[string]string) (*Collection, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
		INSERT INTO collections (id, name, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = EXCLUDED.updated_at
		RETURNING id, name, fields, created_at, updated_at
	`

	collection, err := scanCollection(pm.db.QueryRowContext(ctx, query, uuid.New().String(), name, fieldsJSON, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert collection %s: %w", name, err)
	}
	return collection, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCollection(row rowScanner) (*Collection, error) {
	var collection Collection
	var fieldsJSON sql.NullString

	if err := row.Scan(&collection.ID, &collection.Name, &fieldsJSON, &collection.CreatedAt, &collection.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan collection row: %w", err)
	}

	if fieldsJSON.Valid {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &collection.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}
	if collection.Fields == nil {
		collection.Fields = make(map[string]string)
	}
	return &collection, nil
}

// GetAliases returns alias -> field for a collection, stored aliases
// overriding the built-in ones.
func (pm *PostgresMapper) GetAliases(ctx context.Context, collection string) (map[string]string, error) {
	query := `
		SELECT alias, field
		FROM field_aliases
		WHERE collection = $1
	`

	rows, err := pm.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]string)
	for rows.Next() {
		var alias, field string
		if err := rows.Scan(&alias, &field); err != nil {
			return nil, fmt.Errorf("failed to scan alias row: %w", err)
		}
		stored[alias] = field
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alias rows: %w", err)
	}

	return MergeAliases(DefaultAliases(collection), stored), nil
}

// AddAlias maps a user word to a field of a collection
func (pm *PostgresMapper) AddAlias(ctx context.Context, collection, alias, field string) error {
	query := `
		INSERT INTO field_aliases (id, collection, alias, field, created_at)
		VALUES ($1, $2, LOWER($3), $4, $5)
		ON CONFLICT (collection, alias) DO UPDATE SET field = EXCLUDED.field
	`

	if _, err := pm.db.ExecContext(ctx, query, uuid.New().String(), collection, alias, field, time.Now()); err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

// StoreExample saves an answered question for few-shot prompting
func (pm *PostgresMapper) StoreExample(ctx context.Context, question, queryText string, embedding []float32) error {
	insertQuery := `
		INSERT INTO query_examples (id, question, query_text, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (question) DO UPDATE SET
			query_text = EXCLUDED.query_text,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
	`

	_, err := pm.db.ExecContext(ctx, insertQuery, uuid.New().String(), question, queryText, pgvector.NewVector(embedding), time.Now())
	if err != nil {
		return fmt.Errorf("failed to store example: %w", err)
	}

	return nil
}

// FindSimilarExamples finds stored questions by cosine similarity
func (pm *PostgresMapper) FindSimilarExamples(ctx context.Context, embedding []float32, threshold float64, limit int) ([]SimilarExample, error) {
	if limit <= 0 {
		limit = 3
	}

	query := `
		SELECT id, question, query_text,
		       1 - (embedding <=> $1) AS similarity,
		       created_at
		FROM query_examples
		WHERE 1 - (embedding <=> $1) > $2
		ORDER BY similarity DESC
		LIMIT $3
	`

	rows, err := pm.db.QueryContext(ctx, query, pgvector.NewVector(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar examples: %w", err)
	}
	defer rows.Close()

	var examples []SimilarExample
	for rows.Next() {
		var ex SimilarExample
		if err := rows.Scan(&ex.ID, &ex.Question, &ex.QueryText, &ex.Similarity, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan similar example row: %w", err)
		}
		examples = append(examples, ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar example rows: %w", err)
	}

	return examples, nil
}
