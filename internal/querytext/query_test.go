// internal/querytext/query_test.go
package querytext

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseQuery_Find(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantFilter    bson.D
		wantProj      bson.D
		wantLimit     int64
		explicitLimit bool
	}{
		{
			name:       "filter only",
			text:       `find({"memberCode": "12345"})`,
			wantFilter: bson.D{{Key: "memberCode", Value: "12345"}},
			wantLimit:  DefaultFindLimit,
		},
		{
			name:          "with limit",
			text:          `find({"fat": {"$gt": 4.1}}).limit(3)`,
			wantFilter:    bson.D{{Key: "fat", Value: bson.D{{Key: "$gt", Value: 4.1}}}},
			wantLimit:     3,
			explicitLimit: true,
		},
		{
			name:       "with projection",
			text:       `find({"snf": {"$gt": 9}}, {"_id": 0, "snf": 1})`,
			wantFilter: bson.D{{Key: "snf", Value: bson.D{{Key: "$gt", Value: int64(9)}}}},
			wantProj:   bson.D{{Key: "_id", Value: int64(0)}, {Key: "snf", Value: int64(1)}},
			wantLimit:  DefaultFindLimit,
		},
		{
			name:       "empty arguments",
			text:       `find()`,
			wantFilter: bson.D{},
			wantLimit:  DefaultFindLimit,
		},
		{
			name:       "db receiver and semicolon",
			text:       `db.milk_collections.find({"dcsCode": "001000001993"});`,
			wantFilter: bson.D{{Key: "dcsCode", Value: "001000001993"}},
			wantLimit:  DefaultFindLimit,
		},
		{
			name:       "hyphenated db receiver",
			text:       `db.milk-collections.find({"qty": 10})`,
			wantFilter: bson.D{{Key: "qty", Value: int64(10)}},
			wantLimit:  DefaultFindLimit,
		},
		{
			name:       "trailing comma in call",
			text:       `find({"qty": 10},)`,
			wantFilter: bson.D{{Key: "qty", Value: int64(10)}},
			wantLimit:  DefaultFindLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.text)
			require.NoError(t, err)

			assert.Equal(t, VerbFind, q.Verb)
			if diff := cmp.Diff(tt.wantFilter, q.Filter); diff != "" {
				t.Errorf("filter mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantProj, q.Projection); diff != "" {
				t.Errorf("projection mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantLimit, q.Limit)
			assert.Equal(t, tt.explicitLimit, q.ExplicitLimit)
		})
	}
}

func TestParseQuery_Aggregate(t *testing.T) {
	q, err := ParseQuery(`aggregate([{"$match": {"dateTimeOfCollection": {"$gte": ISODate("2024-11-09"), "$lt": ISODate("2024-11-10")}}}, {"$sort": {"qty": 1}}, {"$limit": 1},])`)
	require.NoError(t, err)

	assert.Equal(t, VerbAggregate, q.Verb)
	require.Len(t, q.Pipeline, 3)

	filter, ok := q.MatchFilter()
	require.True(t, ok)
	rng := filter[0].Value.(bson.D)
	assert.Equal(t, 24*time.Hour, rng[1].Value.(time.Time).Sub(rng[0].Value.(time.Time)))
}

func TestParseQuery_Distinct(t *testing.T) {
	q, err := ParseQuery(`distinct("memberCode", {"qty": {"$gt": 100}})`)
	require.NoError(t, err)

	assert.Equal(t, VerbDistinct, q.Verb)
	assert.Equal(t, "memberCode", q.Field)
	assert.Equal(t, bson.D{{Key: "qty", Value: bson.D{{Key: "$gt", Value: int64(100)}}}}, q.Filter)

	q, err = ParseQuery(`distinct("dcsCode")`)
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, q.Filter)
}

func TestParseQuery_Count(t *testing.T) {
	for _, text := range []string{`count_documents({"memberCode": "730110400002"})`, `countDocuments({"memberCode": "730110400002"})`} {
		q, err := ParseQuery(text)
		require.NoError(t, err)
		assert.Equal(t, VerbCount, q.Verb)
		assert.Equal(t, bson.D{{Key: "memberCode", Value: "730110400002"}}, q.Filter)
	}

	q, err := ParseQuery(`count_documents({})`)
	require.NoError(t, err)
	assert.Empty(t, q.Filter)
}

func TestParseQuery_Errors(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantShape bool
		wantParse bool
		wantVerb  bool
	}{
		{name: "unsupported verb", text: `deleteMany({})`, wantVerb: true},
		{name: "prose", text: `Sorry, I cannot help with that`, wantVerb: true},
		{name: "aggregate needs a list", text: `aggregate({"$match": {}})`, wantShape: true},
		{name: "top-level operator in find", text: `find({"$gte": 5})`, wantShape: true},
		{name: "top-level operator in match", text: `aggregate([{"$match": {"$lt": 3}}])`, wantShape: true},
		{name: "distinct needs a field name", text: `distinct(5)`, wantShape: true},
		{name: "find filter must be a mapping", text: `find([1, 2])`, wantShape: true},
		{name: "limit on aggregate", text: `aggregate([]).limit(3)`, wantParse: true},
		{name: "non integer limit", text: `find({}).limit("a")`, wantParse: true},
		{name: "broken syntax", text: `find({"a": })`, wantParse: true},
		{name: "receiver without method", text: `db.milk-collections({})`, wantVerb: true},
		{name: "unknown verb after receiver", text: `db.milk_collections.drop()`, wantVerb: true},
		{name: "unknown stage element", text: `aggregate([{"$fooBar": 1}])`, wantShape: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery(tt.text)
			require.Error(t, err)

			var shapeErr *InvalidQueryShapeError
			var parseErr *ParseError
			var verbErr *UnsupportedVerbError
			assert.Equal(t, tt.wantShape, errors.As(err, &shapeErr), err.Error())
			assert.Equal(t, tt.wantParse, errors.As(err, &parseErr), err.Error())
			assert.Equal(t, tt.wantVerb, errors.As(err, &verbErr), err.Error())
		})
	}
}

func TestParseQuery_AcceptsWhatHasVerbAccepts(t *testing.T) {
	texts := []string{
		`db.milk-collections.find({})`,
		`db.milk_collections.aggregate([])`,
		`db.c2.distinct("fat")`,
		`db.milk-2024.countDocuments({})`,
		`count_documents({})`,
	}
	for _, text := range texts {
		t.Run(text, func(t *testing.T) {
			require.True(t, HasVerb(text))
			_, err := ParseQuery(text)
			assert.NoError(t, err)
		})
	}
}

func TestQuery_StringRoundTrip(t *testing.T) {
	texts := []string{
		`find({"fat": {"$gt": 4.1}, "dateTimeOfCollection": {"$gte": ISODate("2025-01-01T00:00:00Z")}}).limit(5)`,
		`aggregate([{"$match": {}}, {"$group": {"_id": "$memberCode", "totalQty": {"$sum": "$qty"}}}, {"$sort": {"totalQty": -1}}, {"$limit": 5}])`,
		`distinct("memberCode", {"qty": {"$gt": 100}})`,
		`count_documents({"memberCode": "730110400002", "active": true, "note": null})`,
	}

	for _, text := range texts {
		first, err := ParseQuery(text)
		require.NoError(t, err, text)

		second, err := ParseQuery(first.String())
		require.NoError(t, err, first.String())

		assert.Equal(t, first.Verb, second.Verb)
		assert.Equal(t, first.Field, second.Field)
		assert.Equal(t, first.Limit, second.Limit)
		if diff := cmp.Diff(first.Filter, second.Filter); diff != "" {
			t.Errorf("filter changed after round trip (-first +second):\n%s", diff)
		}
		if diff := cmp.Diff(first.Pipeline, second.Pipeline); diff != "" {
			t.Errorf("pipeline changed after round trip (-first +second):\n%s", diff)
		}
	}
}

func TestMatchFilter_NoLeadingMatch(t *testing.T) {
	q, err := ParseQuery(`aggregate([{"$group": {"_id": null, "n": {"$sum": 1}}}])`)
	require.NoError(t, err)

	_, ok := q.MatchFilter()
	assert.False(t, ok)
}
