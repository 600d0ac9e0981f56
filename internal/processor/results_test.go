package processor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/seanankenbruck/mongo-query-bot/internal/mongodb"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

func memberDocs(n int) []bson.M {
	docs := make([]bson.M, n)
	for i := range docs {
		docs[i] = bson.M{"memberCode": "730110400002", "quantity": float64(i + 1)}
	}
	return docs
}

func TestProcessResults_Count(t *testing.T) {
	rp := NewResultProcessor(100)
	q := &querytext.Query{Verb: querytext.VerbCount}

	results, err := rp.ProcessResults(q, &mongodb.Result{Verb: querytext.VerbCount, Count: 42}, 10)
	require.NoError(t, err)
	assert.Equal(t, "Found 42 matching records.", results.Answer)
	assert.Equal(t, int64(42), results.Total)

	results, err = rp.ProcessResults(q, &mongodb.Result{Verb: querytext.VerbCount}, 10)
	require.NoError(t, err)
	assert.Equal(t, "Found 0 matching records.", results.Answer)
}

func TestProcessResults_Documents(t *testing.T) {
	rp := NewResultProcessor(100)

	tests := []struct {
		name          string
		result        *mongodb.Result
		sampleSize    int
		wantPrefix    string
		wantShown     int
		wantTruncated bool
	}{
		{
			name:       "no documents",
			result:     &mongodb.Result{Verb: querytext.VerbFind},
			sampleSize: 10,
			wantPrefix: "No records found.",
		},
		{
			name:       "all shown",
			result:     &mongodb.Result{Verb: querytext.VerbFind, Documents: memberDocs(3)},
			sampleSize: 10,
			wantPrefix: "Found 3 records. \n[",
			wantShown:  3,
		},
		{
			name:          "sample cut",
			result:        &mongodb.Result{Verb: querytext.VerbFind, Documents: memberDocs(12)},
			sampleSize:    5,
			wantPrefix:    "Found 12 records. Showing first 5:\n[",
			wantShown:     5,
			wantTruncated: true,
		},
		{
			name: "true count above returned",
			result: &mongodb.Result{
				Verb:         querytext.VerbFind,
				Documents:    memberDocs(5),
				TrueCount:    120,
				HasTrueCount: true,
			},
			sampleSize:    10,
			wantPrefix:    "Found 5 records out of 120 matching records. \n[",
			wantShown:     5,
			wantTruncated: true,
		},
		{
			name: "true count equal to returned",
			result: &mongodb.Result{
				Verb:         querytext.VerbAggregate,
				Documents:    memberDocs(2),
				TrueCount:    2,
				HasTrueCount: true,
			},
			sampleSize: 10,
			wantPrefix: "Found 2 records. \n[",
			wantShown:  2,
		},
		{
			name: "aggregate ignores match count",
			result: &mongodb.Result{
				Verb:         querytext.VerbAggregate,
				Documents:    memberDocs(3),
				TrueCount:    5000,
				HasTrueCount: true,
			},
			sampleSize: 10,
			wantPrefix: "Found 3 records. \n[",
			wantShown:  3,
		},
		{
			name: "aggregate output capped",
			result: &mongodb.Result{
				Verb:      querytext.VerbAggregate,
				Documents: memberDocs(4),
				Truncated: true,
			},
			sampleSize:    10,
			wantPrefix:    "Found more than 4 records. \n[",
			wantShown:     4,
			wantTruncated: true,
		},
		{
			name:          "default sample size",
			result:        &mongodb.Result{Verb: querytext.VerbFind, Documents: memberDocs(15)},
			sampleSize:    0,
			wantPrefix:    "Found 15 records. Showing first 10:\n",
			wantShown:     10,
			wantTruncated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &querytext.Query{Verb: tt.result.Verb}
			results, err := rp.ProcessResults(q, tt.result, tt.sampleSize)
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(results.Answer, tt.wantPrefix), results.Answer)
			assert.Equal(t, tt.wantShown, results.Shown)
			assert.Len(t, results.Records, tt.wantShown)
			assert.Equal(t, tt.wantTruncated, results.Truncated)
		})
	}
}

func TestProcessResults_DocumentsRenderAsJSON(t *testing.T) {
	rp := NewResultProcessor(100)
	oid := primitive.NewObjectID()
	when := time.Date(2024, 11, 9, 6, 30, 0, 0, time.UTC)
	dec, err := primitive.ParseDecimal128("4.25")
	require.NoError(t, err)

	res := &mongodb.Result{
		Verb: querytext.VerbFind,
		Documents: []bson.M{{
			"_id":                  oid,
			"dateTimeOfCollection": primitive.NewDateTimeFromTime(when),
			"fat":                  dec,
			"tags":                 bson.A{"morning", bson.D{{Key: "shift", Value: "M"}}},
		}},
	}

	results, err := rp.ProcessResults(&querytext.Query{Verb: querytext.VerbFind}, res, 10)
	require.NoError(t, err)

	body := results.Answer[strings.Index(results.Answer, "\n")+1:]
	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	require.Len(t, decoded, 1)

	doc := decoded[0]
	assert.Equal(t, oid.Hex(), doc["_id"])
	assert.Equal(t, "2024-11-09T06:30:00Z", doc["dateTimeOfCollection"])
	assert.Equal(t, "4.25", doc["fat"])
	assert.Equal(t, []interface{}{"morning", map[string]interface{}{"shift": "M"}}, doc["tags"])
	assert.Contains(t, results.Answer, "\n  {", "expected indented JSON")
}

func TestProcessResults_Distinct(t *testing.T) {
	rp := NewResultProcessor(100)
	q := &querytext.Query{Verb: querytext.VerbDistinct, Field: "dcsCode"}

	tests := []struct {
		name       string
		result     *mongodb.Result
		sampleSize int
		wantPrefix string
		wantShown  int
	}{
		{
			name:       "no values",
			result:     &mongodb.Result{Verb: querytext.VerbDistinct},
			sampleSize: 10,
			wantPrefix: "No records found.",
		},
		{
			name:       "few values",
			result:     &mongodb.Result{Verb: querytext.VerbDistinct, Values: []interface{}{"001", "002"}},
			sampleSize: 10,
			wantPrefix: "Found 2 unique values for field 'dcsCode'. \n",
			wantShown:  2,
		},
		{
			name:       "sample cut",
			result:     &mongodb.Result{Verb: querytext.VerbDistinct, Values: []interface{}{"a", "b", "c", "d"}},
			sampleSize: 2,
			wantPrefix: "Found 4 unique values for field 'dcsCode'. Showing first 2:\n",
			wantShown:  2,
		},
		{
			name:       "capped by executor",
			result:     &mongodb.Result{Verb: querytext.VerbDistinct, Values: []interface{}{"a", "b"}, Truncated: true},
			sampleSize: 10,
			wantPrefix: "Found more than 2 unique values for field 'dcsCode'. ",
			wantShown:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := rp.ProcessResults(q, tt.result, tt.sampleSize)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(results.Answer, tt.wantPrefix), results.Answer)
			assert.Equal(t, tt.wantShown, results.Shown)
		})
	}
}

func TestProcessResults_SampleSizeCappedByMax(t *testing.T) {
	rp := NewResultProcessor(3)
	res := &mongodb.Result{Verb: querytext.VerbFind, Documents: memberDocs(5)}

	results, err := rp.ProcessResults(&querytext.Query{Verb: querytext.VerbFind}, res, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, results.Shown)
	assert.Contains(t, results.Answer, "Showing first 3:")
}

func TestProcessResults_UnsupportedVerb(t *testing.T) {
	rp := NewResultProcessor(10)
	_, err := rp.ProcessResults(&querytext.Query{}, &mongodb.Result{Verb: "mapReduce"}, 10)
	assert.Error(t, err)
}
