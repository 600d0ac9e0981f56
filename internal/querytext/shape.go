package querytext

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Position tells ValidateShape what a value is expected to be.
type Position int

const (
	// PositionFilter is a query filter: keys are field names.
	PositionFilter Position = iota
	// PositionPipeline is an aggregation stage list.
	PositionPipeline
)

// logicalOperators may appear where a field name is expected; their operands
// are filters themselves.
var logicalOperators = map[string]bool{
	"$and": true,
	"$or":  true,
	"$nor": true,
}

// expressionOperators may appear where a field name is expected; their operands
// are expressions and are not inspected.
var expressionOperators = map[string]bool{
	"$expr":    true,
	"$text":    true,
	"$comment": true,
}

// StageOperators are the aggregation stages accepted at pipeline level.
var StageOperators = map[string]bool{
	"$match":       true,
	"$group":       true,
	"$sort":        true,
	"$limit":       true,
	"$skip":        true,
	"$project":     true,
	"$unwind":      true,
	"$count":       true,
	"$addFields":   true,
	"$set":         true,
	"$unset":       true,
	"$lookup":      true,
	"$facet":       true,
	"$bucket":      true,
	"$sortByCount": true,
	"$sample":      true,
	"$replaceRoot": true,
}

// ValidateShape checks that no operator token sits where a field name is
// expected. Values under field names are operator positions and are accepted
// as they are.
func ValidateShape(value interface{}, pos Position) error {
	switch pos {
	case PositionPipeline:
		stages, ok := value.(bson.A)
		if !ok {
			return &InvalidQueryShapeError{Value: value, Reason: fmt.Sprintf("aggregation pipeline must be a list, got %s", typeName(value))}
		}
		return validatePipeline(stages, "")
	default:
		return validateFilter(value, "")
	}
}

// validateTopLevel applies the policy for a bare value handed to Sanitize.
func validateTopLevel(value interface{}) error {
	switch v := value.(type) {
	case bson.D:
		return validateFilter(v, "")
	case bson.A:
		if isStageList(v) {
			return validatePipeline(v, "")
		}
		for i, elem := range v {
			if doc, ok := elem.(bson.D); ok {
				if err := validateFilter(doc, indexPath("", i)); err != nil {
					return withRoot(err, value)
				}
			}
		}
	}
	return nil
}

func validatePipeline(stages bson.A, path string) error {
	for i, elem := range stages {
		stagePath := indexPath(path, i)
		doc, ok := elem.(bson.D)
		if !ok {
			return &InvalidQueryShapeError{Value: stages, Path: stagePath, Reason: fmt.Sprintf("pipeline stage must be a mapping, got %s", typeName(elem))}
		}
		if len(doc) == 1 && StageOperators[doc[0].Key] {
			if doc[0].Key == "$match" {
				if err := validateFilter(doc[0].Value, stagePath+".$match"); err != nil {
					return withRoot(err, stages)
				}
			}
			continue
		}
		if len(doc) == 1 && strings.HasPrefix(doc[0].Key, "$") && !logicalOperators[doc[0].Key] && !expressionOperators[doc[0].Key] {
			return &InvalidQueryShapeError{Value: stages, Key: doc[0].Key, Path: stagePath}
		}
		if err := validateFilter(doc, stagePath); err != nil {
			return withRoot(err, stages)
		}
	}
	return nil
}

func validateFilter(value interface{}, path string) error {
	doc, ok := value.(bson.D)
	if !ok {
		return nil
	}
	for _, elem := range doc {
		if !strings.HasPrefix(elem.Key, "$") {
			continue
		}
		switch {
		case logicalOperators[elem.Key]:
			clauses, ok := elem.Value.(bson.A)
			if !ok {
				return &InvalidQueryShapeError{Value: doc, Path: joinPath(path, elem.Key), Reason: elem.Key + " expects a list of filters"}
			}
			for i, clause := range clauses {
				if err := validateFilter(clause, indexPath(joinPath(path, elem.Key), i)); err != nil {
					return withRoot(err, doc)
				}
			}
		case expressionOperators[elem.Key]:
		default:
			return &InvalidQueryShapeError{Value: doc, Key: elem.Key, Path: path}
		}
	}
	return nil
}

// isStageList reports whether every element is a single-key mapping naming a
// known stage.
func isStageList(arr bson.A) bool {
	if len(arr) == 0 {
		return false
	}
	for _, elem := range arr {
		doc, ok := elem.(bson.D)
		if !ok || len(doc) != 1 || !StageOperators[doc[0].Key] {
			return false
		}
	}
	return true
}

// withRoot replaces the reported value with the outermost structure so callers
// see what they passed in.
func withRoot(err error, root interface{}) error {
	if shapeErr, ok := err.(*InvalidQueryShapeError); ok {
		shapeErr.Value = root
	}
	return err
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func typeName(v interface{}) string {
	switch v.(type) {
	case bson.D:
		return "mapping"
	case bson.A:
		return "list"
	case string:
		return "string"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
