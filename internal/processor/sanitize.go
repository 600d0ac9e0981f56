package processor

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

// SanitizeResult is query text turned into Extended JSON.
type SanitizeResult struct {
	Kind      string          `json:"kind"` // "query" or "literal"
	Verb      querytext.Verb  `json:"verb,omitempty"`
	QueryText string          `json:"query_text,omitempty"`
	Value     json.RawMessage `json:"value"`
}

// SanitizeText parses text without running it. Text that starts with a
// query call, possibly wrapped in markdown, is parsed as a query; anything
// else as a single literal.
func SanitizeText(text string, canonical bool) (*SanitizeResult, error) {
	res, err := sanitizeText(text, canonical)
	outcome := "ok"
	if err != nil {
		outcome = string(apperrors.ErrCodeInternal)
		if e, ok := apperrors.As(err); ok {
			outcome = string(e.Code)
		}
	}
	observability.RecordSanitizeMetrics(outcome)
	return res, err
}

func sanitizeText(text string, canonical bool) (*SanitizeResult, error) {
	if extracted := querytext.Extract(text); querytext.HasVerb(extracted) {
		q, err := querytext.ParseQuery(extracted)
		if err != nil {
			return nil, apperrors.FromQueryTextError(err, extracted)
		}
		value, err := querytext.MarshalExtJSON(queryDocument(q), canonical)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to render query")
		}
		return &SanitizeResult{Kind: "query", Verb: q.Verb, QueryText: q.String(), Value: value}, nil
	}

	v, err := querytext.Sanitize(text)
	if err != nil {
		return nil, apperrors.FromQueryTextError(err, text)
	}
	value, err := querytext.MarshalExtJSON(v, canonical)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to render value")
	}
	return &SanitizeResult{Kind: "literal", Value: value}, nil
}

// queryDocument lays a parsed query out as the arguments it will run with.
func queryDocument(q *querytext.Query) bson.D {
	doc := bson.D{{Key: "verb", Value: string(q.Verb)}}
	switch q.Verb {
	case querytext.VerbFind:
		doc = append(doc, bson.E{Key: "filter", Value: q.Filter})
		if len(q.Projection) > 0 {
			doc = append(doc, bson.E{Key: "projection", Value: q.Projection})
		}
		doc = append(doc, bson.E{Key: "limit", Value: q.Limit})
	case querytext.VerbAggregate:
		doc = append(doc, bson.E{Key: "pipeline", Value: q.Pipeline})
	case querytext.VerbDistinct:
		doc = append(doc, bson.E{Key: "field", Value: q.Field}, bson.E{Key: "filter", Value: q.Filter})
	case querytext.VerbCount:
		doc = append(doc, bson.E{Key: "filter", Value: q.Filter})
	}
	return doc
}
