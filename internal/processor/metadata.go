package processor

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

// MetadataGenerator generates visualization hints and recommendations for query results
type MetadataGenerator struct{}

// NewMetadataGenerator creates a new metadata generator
func NewMetadataGenerator() *MetadataGenerator {
	return &MetadataGenerator{}
}

// GenerateMetadata creates metadata with visualization hints and next steps
func (mg *MetadataGenerator) GenerateMetadata(q *querytext.Query, results *QueryResults) *ResultMetadata {
	metadata := &ResultMetadata{
		VisualizationType: mg.determineVisualizationType(q, results),
		NextSteps:         []string{},
	}

	switch metadata.VisualizationType {
	case "stat":
		metadata.Recommendation = "This question has a single answer"
		if q.Verb == querytext.VerbCount {
			metadata.NextSteps = append(metadata.NextSteps, "Ask for the records themselves to see the details")
		}
	case "list":
		metadata.Recommendation = "These are the distinct values of " + q.Field
		metadata.NextSteps = append(metadata.NextSteps, "Count the records for one of these values")
	case "chart":
		metadata.Recommendation = "Grouped values over time work best as a chart"
	case "table":
		metadata.Recommendation = "These records are best viewed as a table"
		if results.Returned > 1 && q.Verb == querytext.VerbFind {
			metadata.NextSteps = append(metadata.NextSteps, "Sort by a field such as quantity or fat to rank the records")
		}
	}

	if results.Truncated {
		metadata.NextSteps = append(metadata.NextSteps, "Only part of the matching data is shown; add filters or ask for a specific number of records")
	}
	if q.Verb == querytext.VerbFind && !q.ExplicitLimit && int64(results.Returned) == q.Limit {
		metadata.NextSteps = append(metadata.NextSteps, "Results stopped at the default limit; ask for a number such as \"show 100\" to see more")
	}

	if results.Returned == 0 {
		metadata.Recommendation = "No data found for this question"
		metadata.NextSteps = []string{
			"Check the member or DCS code",
			"Verify the date range; dates are read as dd/mm/yyyy",
			"Relax numeric filters such as fat or SNF thresholds",
		}
	}

	return metadata
}

// determineVisualizationType picks a presentation from the query shape and result size.
func (mg *MetadataGenerator) determineVisualizationType(q *querytext.Query, results *QueryResults) string {
	switch q.Verb {
	case querytext.VerbCount:
		return "stat"
	case querytext.VerbDistinct:
		return "list"
	case querytext.VerbAggregate:
		if groupsByDate(q.Pipeline) {
			return "chart"
		}
		if results.Returned == 1 {
			return "stat"
		}
	}
	return "table"
}

// groupsByDate reports whether a $group key is built from date operators.
func groupsByDate(pipeline bson.A) bool {
	for _, stage := range pipeline {
		d, ok := stage.(bson.D)
		if !ok || len(d) != 1 || d[0].Key != "$group" {
			continue
		}
		body, ok := d[0].Value.(bson.D)
		if !ok {
			continue
		}
		for _, e := range body {
			if e.Key == "_id" && mentionsDateOperator(e.Value) {
				return true
			}
		}
	}
	return false
}

func mentionsDateOperator(v interface{}) bool {
	switch val := v.(type) {
	case bson.D:
		for _, e := range val {
			switch e.Key {
			case "$year", "$month", "$week", "$dayOfMonth", "$dateToString", "$dateTrunc":
				return true
			}
			if mentionsDateOperator(e.Value) {
				return true
			}
		}
	case bson.A:
		for _, item := range val {
			if mentionsDateOperator(item) {
				return true
			}
		}
	case string:
		return strings.HasPrefix(val, "$") && strings.Contains(strings.ToLower(val), "date")
	}
	return false
}
