package querytext

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// NormalizePipeline rewrites a leading {$match: {$expr: {$in: ["$field", [...]]}}}
// into the index-friendly {$match: {field: {$in: [...]}}}. Other stages are
// returned unchanged. The input is not modified.
func NormalizePipeline(stages bson.A) bson.A {
	if len(stages) == 0 {
		return stages
	}
	first, ok := stages[0].(bson.D)
	if !ok || len(first) != 1 || first[0].Key != "$match" {
		return stages
	}
	match, ok := first[0].Value.(bson.D)
	if !ok {
		return stages
	}

	rewritten := make(bson.D, 0, len(match))
	changed := false
	for _, elem := range match {
		if elem.Key == "$expr" {
			if field, values, ok := simpleIn(elem.Value); ok {
				rewritten = append(rewritten, bson.E{Key: field, Value: bson.D{{Key: "$in", Value: values}}})
				changed = true
				continue
			}
		}
		rewritten = append(rewritten, elem)
	}
	if !changed {
		return stages
	}

	out := make(bson.A, len(stages))
	copy(out, stages)
	out[0] = bson.D{{Key: "$match", Value: rewritten}}
	return out
}

// simpleIn matches {$in: ["$field", [v1, v2, ...]]}.
func simpleIn(expr interface{}) (string, bson.A, bool) {
	doc, ok := expr.(bson.D)
	if !ok || len(doc) != 1 || doc[0].Key != "$in" {
		return "", nil, false
	}
	operands, ok := doc[0].Value.(bson.A)
	if !ok || len(operands) != 2 {
		return "", nil, false
	}
	ref, ok := operands[0].(string)
	if !ok || !strings.HasPrefix(ref, "$") || len(ref) < 2 || strings.HasPrefix(ref, "$$") {
		return "", nil, false
	}
	values, ok := operands[1].(bson.A)
	if !ok {
		return "", nil, false
	}
	return ref[1:], values, true
}
