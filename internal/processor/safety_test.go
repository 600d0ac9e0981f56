package processor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		DefaultLimit:       50,
		MaxLimit:           1000,
		SampleSize:         10,
		DistinctCap:        50,
		MaxPipelineStages:  10,
		MaxQuestionLength:  500,
		SimilarityCutoff:   0.8,
		ExampleCount:       3,
		HistoryLength:      50,
		EnableSafetyChecks: true,
		ForbiddenFields:    []string{"(?i)password", "(?i)secret", "(?i)token", "(?i)aadhaar", "(?i)bank.*account"},
	}
}

func newTestSafetyChecker(t *testing.T) *SafetyChecker {
	t.Helper()
	sc, err := NewSafetyChecker(testQueryConfig())
	require.NoError(t, err)
	return sc
}

func TestNewSafetyChecker(t *testing.T) {
	sc := newTestSafetyChecker(t)
	assert.Equal(t, 10, sc.MaxPipelineStages)
	assert.Equal(t, int64(1000), sc.MaxLimit)
	assert.Len(t, sc.ForbiddenFields, 5)

	cfg := testQueryConfig()
	cfg.ForbiddenFields = []string{"(unclosed"}
	_, err := NewSafetyChecker(cfg)
	assert.Error(t, err)
}

func TestValidateQuery_Parsed(t *testing.T) {
	sc := newTestSafetyChecker(t)

	tests := []struct {
		name     string
		text     string
		wantCode apperrors.ErrorCode
	}{
		{
			name: "simple find",
			text: `find({"memberCode": "730110400002"}).limit(5)`,
		},
		{
			name: "group pipeline",
			text: `aggregate([{"$group": {"_id": "$memberCode", "total": {"$sum": "$quantity"}}}, {"$sort": {"total": -1}}, {"$limit": 3}])`,
		},
		{
			name: "distinct",
			text: `distinct("dcsCode", {"fat": {"$gt": 4.0}})`,
		},
		{
			name: "count",
			text: `count_documents({"memberCode": "730110400002"})`,
		},
		{
			name:     "forbidden field in filter",
			text:     `find({"bankAccountNumber": "123"})`,
			wantCode: apperrors.ErrCodeForbiddenField,
		},
		{
			name:     "forbidden nested path",
			text:     `find({"member.Password": {"$exists": true}})`,
			wantCode: apperrors.ErrCodeForbiddenField,
		},
		{
			name:     "forbidden field in projection",
			text:     `find({}, {"aadhaarNo": 1})`,
			wantCode: apperrors.ErrCodeForbiddenField,
		},
		{
			name:     "forbidden distinct field",
			text:     `distinct("apiToken")`,
			wantCode: apperrors.ErrCodeForbiddenField,
		},
		{
			name:     "forbidden field reference in group",
			text:     `aggregate([{"$group": {"_id": "$secretCode"}}])`,
			wantCode: apperrors.ErrCodeForbiddenField,
		},
		{
			name:     "accumulator in group",
			text:     `aggregate([{"$group": {"_id": null, "x": {"$accumulator": {"lang": "js"}}}}])`,
			wantCode: apperrors.ErrCodeForbiddenOperator,
		},
		{
			name:     "function inside expr",
			text:     `find({"$expr": {"$function": {"body": "return true", "args": [], "lang": "js"}}})`,
			wantCode: apperrors.ErrCodeForbiddenOperator,
		},
		{
			name:     "limit above maximum",
			text:     `find({}).limit(5000)`,
			wantCode: apperrors.ErrCodeQueryTooComplex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := querytext.ParseQuery(tt.text)
			require.NoError(t, err)

			err = sc.ValidateQuery(q)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			enhanced, ok := apperrors.As(err)
			require.True(t, ok, "expected an enhanced error, got %v", err)
			assert.Equal(t, tt.wantCode, enhanced.Code)
		})
	}
}

func TestValidateQuery_WriteStagesAndWhere(t *testing.T) {
	sc := newTestSafetyChecker(t)

	tests := []struct {
		name     string
		query    *querytext.Query
		operator string
	}{
		{
			name: "$where filter",
			query: &querytext.Query{
				Verb:   querytext.VerbFind,
				Filter: bson.D{{Key: "$where", Value: "this.fat > 4"}},
				Limit:  10,
			},
			operator: "$where",
		},
		{
			name: "$out stage",
			query: &querytext.Query{
				Verb: querytext.VerbAggregate,
				Pipeline: bson.A{
					bson.D{{Key: "$match", Value: bson.D{}}},
					bson.D{{Key: "$out", Value: "copy"}},
				},
			},
			operator: "$out",
		},
		{
			name: "$merge stage",
			query: &querytext.Query{
				Verb:     querytext.VerbAggregate,
				Pipeline: bson.A{bson.D{{Key: "$merge", Value: bson.D{{Key: "into", Value: "other"}}}}},
			},
			operator: "$merge",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sc.ValidateQuery(tt.query)
			enhanced, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeForbiddenOperator, enhanced.Code)
			assert.Equal(t, tt.operator, enhanced.Metadata["operator"])
		})
	}
}

func TestValidateQuery_Complexity(t *testing.T) {
	sc := newTestSafetyChecker(t)

	t.Run("too many stages", func(t *testing.T) {
		pipeline := bson.A{}
		for i := 0; i < 11; i++ {
			pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64(0)}})
		}
		err := sc.ValidateQuery(&querytext.Query{Verb: querytext.VerbAggregate, Pipeline: pipeline})
		enhanced, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeQueryTooComplex, enhanced.Code)
		assert.Contains(t, enhanced.Details, "11 stages")
	})

	t.Run("too deep", func(t *testing.T) {
		var filter interface{} = "x"
		for i := 0; i < maxNesting+1; i++ {
			filter = bson.D{{Key: "$and", Value: bson.A{filter}}}
		}
		err := sc.ValidateQuery(&querytext.Query{Verb: querytext.VerbCount, Filter: filter.(bson.D)})
		enhanced, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeQueryTooComplex, enhanced.Code)
	})

	t.Run("limit at maximum", func(t *testing.T) {
		err := sc.ValidateQuery(&querytext.Query{Verb: querytext.VerbFind, Filter: bson.D{}, Limit: 1000})
		assert.NoError(t, err)
	})
}

func TestValidateQuery_VariablesAreNotFields(t *testing.T) {
	sc := newTestSafetyChecker(t)
	q := &querytext.Query{
		Verb: querytext.VerbAggregate,
		Pipeline: bson.A{
			bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$$ROOT"}}}},
		},
	}
	assert.NoError(t, sc.ValidateQuery(q))

	q.Pipeline = append(q.Pipeline, bson.D{{Key: "$project", Value: bson.D{{Key: "t", Value: "$" + strings.ToUpper("token")}}}})
	assert.Error(t, sc.ValidateQuery(q))
}
