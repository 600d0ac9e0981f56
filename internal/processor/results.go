package processor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/seanankenbruck/mongo-query-bot/internal/mongodb"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

const noRecordsMessage = "No records found."

// ResultProcessor turns executor results into answers for people.
type ResultProcessor struct {
	maxSamples int
}

// NewResultProcessor creates a result processor. Sample sizes above
// maxSamples are cut to it.
func NewResultProcessor(maxSamples int) *ResultProcessor {
	if maxSamples <= 0 {
		maxSamples = 100
	}
	return &ResultProcessor{maxSamples: maxSamples}
}

// QueryResults is an answer ready for presentation.
type QueryResults struct {
	Answer    string        `json:"answer"`
	Records   []interface{} `json:"records,omitempty"` // display form of the shown records
	Returned  int           `json:"returned"`
	Total     int64         `json:"total,omitempty"` // matching documents, when known
	Shown     int           `json:"shown"`
	Truncated bool          `json:"truncated"`
}

// ResultMetadata provides presentation hints and facts about the run.
type ResultMetadata struct {
	VisualizationType string           `json:"visualization_type"` // "stat", "list", "table", "chart"
	Recommendation    string           `json:"recommendation"`
	NextSteps         []string         `json:"next_steps,omitempty"`
	Collection        string           `json:"collection"`
	Model             string           `json:"model,omitempty"`
	InputTokens       int              `json:"input_tokens,omitempty"`
	OutputTokens      int              `json:"output_tokens,omitempty"`
	Timings           map[string]int64 `json:"timings_ms,omitempty"`
}

// ProcessResults formats res for q, showing at most sampleSize records.
func (rp *ResultProcessor) ProcessResults(q *querytext.Query, res *mongodb.Result, sampleSize int) (*QueryResults, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	if sampleSize > rp.maxSamples {
		sampleSize = rp.maxSamples
	}

	switch res.Verb {
	case querytext.VerbCount:
		return &QueryResults{
			Answer:   fmt.Sprintf("Found %d matching records.", res.Count),
			Returned: 1,
			Total:    res.Count,
		}, nil
	case querytext.VerbDistinct:
		return rp.processValues(q.Field, res, sampleSize)
	case querytext.VerbFind, querytext.VerbAggregate:
		return rp.processDocuments(res, sampleSize)
	default:
		return nil, fmt.Errorf("unsupported result verb: %s", res.Verb)
	}
}

func (rp *ResultProcessor) processValues(field string, res *mongodb.Result, sampleSize int) (*QueryResults, error) {
	if len(res.Values) == 0 {
		return &QueryResults{Answer: noRecordsMessage}, nil
	}

	results := &QueryResults{Returned: len(res.Values), Truncated: res.Truncated}
	var sb strings.Builder
	if res.Truncated {
		fmt.Fprintf(&sb, "Found more than %d unique values for field '%s'. ", len(res.Values), field)
	} else {
		fmt.Fprintf(&sb, "Found %d unique values for field '%s'. ", len(res.Values), field)
	}

	shown := res.Values
	if len(shown) > sampleSize {
		shown = shown[:sampleSize]
		fmt.Fprintf(&sb, "Showing first %d:\n", sampleSize)
		results.Truncated = true
	} else {
		sb.WriteString("\n")
	}

	records := make([]interface{}, len(shown))
	for i, v := range shown {
		records[i] = displayValue(v)
	}
	if err := writeJSON(&sb, records); err != nil {
		return nil, err
	}

	results.Answer = sb.String()
	results.Records = records
	results.Shown = len(records)
	return results, nil
}

func (rp *ResultProcessor) processDocuments(res *mongodb.Result, sampleSize int) (*QueryResults, error) {
	if len(res.Documents) == 0 {
		return &QueryResults{Answer: noRecordsMessage}, nil
	}

	results := &QueryResults{Returned: len(res.Documents)}
	var sb strings.Builder
	// an aggregate's leading $match count says nothing about its output rows
	switch {
	case res.Verb == querytext.VerbFind && res.HasTrueCount && res.TrueCount > int64(len(res.Documents)):
		results.Total = res.TrueCount
		results.Truncated = true
		fmt.Fprintf(&sb, "Found %d records out of %d matching records. ", len(res.Documents), res.TrueCount)
	case res.Verb == querytext.VerbAggregate && res.Truncated:
		results.Truncated = true
		fmt.Fprintf(&sb, "Found more than %d records. ", len(res.Documents))
	default:
		fmt.Fprintf(&sb, "Found %d records. ", len(res.Documents))
	}

	shown := res.Documents
	if len(shown) > sampleSize {
		shown = shown[:sampleSize]
		results.Truncated = true
		fmt.Fprintf(&sb, "Showing first %d:\n", sampleSize)
	} else {
		sb.WriteString("\n")
	}

	records := make([]interface{}, len(shown))
	for i, doc := range shown {
		records[i] = displayValue(doc)
	}
	if err := writeJSON(&sb, records); err != nil {
		return nil, err
	}

	results.Answer = sb.String()
	results.Records = records
	results.Shown = len(records)
	return results, nil
}

func writeJSON(sb *strings.Builder, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render results: %w", err)
	}
	sb.Write(data)
	return nil
}

// displayValue converts BSON values into plain JSON-friendly ones:
// ObjectIDs become hex strings and dates RFC 3339 strings.
func displayValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = displayValue(item)
		}
		return out
	case map[string]interface{}:
		return displayValue(bson.M(val))
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = displayValue(e.Value)
		}
		return out
	case bson.A:
		return displayValue([]interface{}(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = displayValue(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return val.String()
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return val
	}
}
