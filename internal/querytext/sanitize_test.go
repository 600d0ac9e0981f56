package querytext

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSanitize_Literals(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  interface{}
	}{
		{
			name:  "simple mapping",
			input: `{"a": 1}`,
			want:  bson.D{{Key: "a", Value: int64(1)}},
		},
		{
			name:  "key order preserved",
			input: `{"b": 2, "a": 1}`,
			want:  bson.D{{Key: "b", Value: int64(2)}, {Key: "a", Value: int64(1)}},
		},
		{
			name:  "float and negative numbers",
			input: `{"fat": 4.1, "delta": -3, "exp": 1e3}`,
			want: bson.D{
				{Key: "fat", Value: 4.1},
				{Key: "delta", Value: int64(-3)},
				{Key: "exp", Value: 1000.0},
			},
		},
		{
			name:  "json literals",
			input: `{"a": null, "b": true, "c": false}`,
			want:  bson.D{{Key: "a", Value: nil}, {Key: "b", Value: true}, {Key: "c", Value: false}},
		},
		{
			name:  "python literals",
			input: `{'a': None, 'b': True, 'c': False}`,
			want:  bson.D{{Key: "a", Value: nil}, {Key: "b", Value: true}, {Key: "c", Value: false}},
		},
		{
			name:  "literals inside lists",
			input: `[null, true, false]`,
			want:  bson.A{nil, true, false},
		},
		{
			name:  "trailing comma in list",
			input: `[1, 2,]`,
			want:  bson.A{int64(1), int64(2)},
		},
		{
			name:  "trailing comma in nested mapping",
			input: `{"a": {"b": [1, ], }, }`,
			want:  bson.D{{Key: "a", Value: bson.D{{Key: "b", Value: bson.A{int64(1)}}}}},
		},
		{
			name:  "bare keys",
			input: `{memberCode: "123", fat: {$gt: 4}}`,
			want: bson.D{
				{Key: "memberCode", Value: "123"},
				{Key: "fat", Value: bson.D{{Key: "$gt", Value: int64(4)}}},
			},
		},
		{
			name:  "escaped strings",
			input: `{"s": "a\"b\\cé\n"}`,
			want:  bson.D{{Key: "s", Value: "a\"b\\cé\n"}},
		},
		{
			name:  "surrogate pair escape",
			input: `{"s": "\ud83d\ude00 ok"}`,
			want:  bson.D{{Key: "s", Value: "\U0001F600 ok"}},
		},
		{
			name:  "lone surrogate becomes replacement char",
			input: `{"s": "\ud83d\u0041"}`,
			want:  bson.D{{Key: "s", Value: "\uFFFDA"}},
		},
		{
			name:  "duplicate key keeps last value in first position",
			input: `{"fat": {"$gt": 4}, "snf": 8, "fat": {"$lt": 5}}`,
			want: bson.D{
				{Key: "fat", Value: bson.D{{Key: "$lt", Value: int64(5)}}},
				{Key: "snf", Value: int64(8)},
			},
		},
		{
			name:  "codes stay strings",
			input: `{"memberCode": "0010000019930016"}`,
			want:  bson.D{{Key: "memberCode", Value: "0010000019930016"}},
		},
		{
			name:  "integer overflow becomes float",
			input: `{"n": 99999999999999999999}`,
			want:  bson.D{{Key: "n", Value: 1e20}},
		},
		{
			name:  "scalar",
			input: ` "hello" `,
			want:  "hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.input)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Sanitize(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestSanitize_MatchesJSONDecoder(t *testing.T) {
	inputs := []string{
		`{"a": 1, "b": [true, false, null], "c": {"d": "x"}}`,
		`{"s": "\ud83d\ude00"}`,
		`{"s": "\u00e9\t\"q\"\/"}`,
		`{"fat": {"$gt": 4}, "fat": {"$lt": 5}}`,
		`{"a": {"b": 1, "b": 2}, "a": {"c": 3}}`,
		`{"n": -0.5, "e": 2.5e-3}`,
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			var want interface{}
			require.NoError(t, json.Unmarshal([]byte(input), &want))

			parsed, err := Sanitize(input)
			require.NoError(t, err)
			rendered, err := MarshalExtJSON(parsed, false)
			require.NoError(t, err)

			var got interface{}
			require.NoError(t, json.Unmarshal(rendered, &got))
			assert.Equal(t, want, got)
		})
	}
}

func TestSanitize_EmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t "} {
		got, err := Sanitize(input)
		require.NoError(t, err)
		assert.Equal(t, bson.D{}, got)
	}
}

func TestSanitize_TrailingCommaMatchesWithout(t *testing.T) {
	with, err := Sanitize(`[1, 2,]`)
	require.NoError(t, err)
	without, err := Sanitize(`[1, 2]`)
	require.NoError(t, err)
	assert.Equal(t, without, with)
}

func TestSanitize_ISODate(t *testing.T) {
	t.Run("date only is midnight UTC", func(t *testing.T) {
		got, err := Sanitize(`{"d": ISODate("2025-01-01")}`)
		require.NoError(t, err)

		d := got.(bson.D)
		ts, ok := d[0].Value.(time.Time)
		require.True(t, ok)
		assert.True(t, ts.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, time.UTC, ts.Location())
	})

	t.Run("Z suffix equals explicit offset", func(t *testing.T) {
		z, err := Sanitize(`ISODate("2025-03-04T10:20:30Z")`)
		require.NoError(t, err)

		explicit, err := time.Parse(time.RFC3339, "2025-03-04T10:20:30+00:00")
		require.NoError(t, err)

		ts := z.(time.Time)
		assert.True(t, ts.Equal(explicit))
		_, offset := ts.Zone()
		assert.Equal(t, 0, offset)
	})

	t.Run("time without offset is UTC", func(t *testing.T) {
		got, err := Sanitize(`ISODate("2025-03-04T10:20:30")`)
		require.NoError(t, err)
		assert.True(t, got.(time.Time).Equal(time.Date(2025, 3, 4, 10, 20, 30, 0, time.UTC)))
	})

	t.Run("explicit offset is honored", func(t *testing.T) {
		got, err := Sanitize(`ISODate("2025-03-04T10:00:00+05:30")`)
		require.NoError(t, err)
		assert.True(t, got.(time.Time).Equal(time.Date(2025, 3, 4, 4, 30, 0, 0, time.UTC)))
	})

	t.Run("new prefix and single quotes", func(t *testing.T) {
		got, err := Sanitize(`new ISODate('2025-01-01')`)
		require.NoError(t, err)
		assert.True(t, got.(time.Time).Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("nested occurrences", func(t *testing.T) {
		got, err := Sanitize(`[{"$match": {"$or": [{"d": {"$gte": ISODate("2024-11-09")}}, {"d": {"$lt": ISODate("2024-11-10T00:00:00Z")}}]}}]`)
		require.NoError(t, err)

		clauses := got.(bson.A)[0].(bson.D)[0].Value.(bson.D)[0].Value.(bson.A)
		first := clauses[0].(bson.D)[0].Value.(bson.D)[0].Value.(time.Time)
		second := clauses[1].(bson.D)[0].Value.(bson.D)[0].Value.(time.Time)
		assert.Equal(t, 24*time.Hour, second.Sub(first))
	})

	t.Run("one day range", func(t *testing.T) {
		got, err := Sanitize(`{"dateTimeOfCollection": {"$gte": ISODate("2025-01-01T00:00:00Z"), "$lt": ISODate("2025-01-02T00:00:00Z")}}`)
		require.NoError(t, err)

		rng := got.(bson.D)[0].Value.(bson.D)
		from := rng[0].Value.(time.Time)
		to := rng[1].Value.(time.Time)
		assert.Equal(t, 24*time.Hour, to.Sub(from))
	})
}

func TestSanitize_NestedOperatorsPreserved(t *testing.T) {
	got, err := Sanitize(`{"fat": {"$gt": 4.1}}`)
	require.NoError(t, err)

	want := bson.D{{Key: "fat", Value: bson.D{{Key: "$gt", Value: 4.1}}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSanitize_InvalidShape(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
	}{
		{name: "top-level comparison", input: `{"$gt": 5}`, wantKey: "$gt"},
		{name: "operator after field", input: `{"fat": 1, "$lt": 3}`, wantKey: "$lt"},
		{name: "where is rejected", input: `{"$where": "this.fat > 4"}`, wantKey: "$where"},
		{name: "inside $or clause", input: `{"$or": [{"fat": 1}, {"$gte": 2}]}`, wantKey: "$gte"},
		{name: "filter list element", input: `[{"$gt": 5}]`, wantKey: "$gt"},
		{name: "match body", input: `[{"$match": {"$gte": ISODate("2025-01-01")}}]`, wantKey: "$gte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.input)
			require.Error(t, err)

			var shapeErr *InvalidQueryShapeError
			require.True(t, errors.As(err, &shapeErr), "expected InvalidQueryShapeError, got %T", err)
			assert.Equal(t, tt.wantKey, shapeErr.Key)
			assert.NotNil(t, shapeErr.Value)

			var parseErr *ParseError
			assert.False(t, errors.As(err, &parseErr))
		})
	}
}

func TestSanitize_AllowedTopLevelOperators(t *testing.T) {
	inputs := []string{
		`{"$and": [{"fat": {"$gt": 3}}, {"snf": {"$lt": 9}}]}`,
		`{"$expr": {"$in": [{"$month": "$dateTimeOfCollection"}, [11, 12]]}}`,
		`[{"$match": {}}, {"$group": {"_id": "$memberCode", "total": {"$sum": "$qty"}}}, {"$sort": {"total": -1}}, {"$limit": 5}]`,
	}
	for _, input := range inputs {
		_, err := Sanitize(input)
		assert.NoError(t, err, input)
	}
}

func TestSanitize_ParseErrors(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		errContains string
	}{
		{name: "unterminated mapping", input: `{"a": 1`, errContains: "unterminated object"},
		{name: "unterminated string", input: `{"a": "x}`, errContains: "unterminated string"},
		{name: "arbitrary call", input: `{"a": eval("1")}`, errContains: `call to "eval" is not allowed`},
		{name: "other constructor", input: `new Date("2025-01-01")`, errContains: `constructor "Date" is not allowed`},
		{name: "unknown identifier", input: `{"a": undefined}`, errContains: `unknown identifier "undefined"`},
		{name: "bad date", input: `ISODate("not a date")`, errContains: "invalid ISODate"},
		{name: "trailing garbage", input: `{"a": 1} extra`, errContains: "unexpected trailing input"},
		{name: "missing colon", input: `{"a" 1}`, errContains: "expected ':'"},
		{name: "import attempt", input: `__import__("os")`, errContains: "not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(tt.input)
			require.Error(t, err)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr), "expected ParseError, got %T", err)
			assert.Equal(t, tt.input, parseErr.Text)
			assert.Contains(t, err.Error(), tt.errContains)

			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr))
		})
	}
}

func TestSanitize_DepthLimit(t *testing.T) {
	deep := ""
	for i := 0; i < maxDepth+1; i++ {
		deep += "["
	}
	_, err := Sanitize(deep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting deeper than")
}
