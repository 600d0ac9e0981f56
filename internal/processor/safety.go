package processor

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

// maxNesting bounds document and array depth in an executed query.
const maxNesting = 32

// forbiddenOperators run server-side code or write to the database.
var forbiddenOperators = map[string]bool{
	"$where":       true,
	"$function":    true,
	"$accumulator": true,
	"$out":         true,
	"$merge":       true,
}

// SafetyChecker validates parsed queries before they reach MongoDB.
type SafetyChecker struct {
	MaxPipelineStages int
	MaxLimit          int64
	ForbiddenFields   []*regexp.Regexp
}

// NewSafetyChecker builds a checker from the query config. Invalid field
// patterns are an error.
func NewSafetyChecker(cfg config.QueryConfig) (*SafetyChecker, error) {
	sc := &SafetyChecker{
		MaxPipelineStages: cfg.MaxPipelineStages,
		MaxLimit:          cfg.MaxLimit,
	}
	for _, pattern := range cfg.ForbiddenFields {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid forbidden field pattern %q: %w", pattern, err)
		}
		sc.ForbiddenFields = append(sc.ForbiddenFields, re)
	}
	return sc, nil
}

// ValidateQuery checks a parsed query. The returned error is an
// *apperrors.EnhancedError carrying the violation code.
func (sc *SafetyChecker) ValidateQuery(q *querytext.Query) error {
	err := sc.validate(q)
	if e, ok := apperrors.As(err); ok {
		observability.RecordSafetyViolationMetrics(string(e.Code))
	}
	return err
}

func (sc *SafetyChecker) validate(q *querytext.Query) error {
	if q.Verb == querytext.VerbAggregate && sc.MaxPipelineStages > 0 && len(q.Pipeline) > sc.MaxPipelineStages {
		return apperrors.NewQueryTooComplexError(
			fmt.Sprintf("pipeline has %d stages, maximum is %d", len(q.Pipeline), sc.MaxPipelineStages))
	}
	if q.Verb == querytext.VerbFind && sc.MaxLimit > 0 && q.Limit > sc.MaxLimit {
		return apperrors.NewQueryTooComplexError(
			fmt.Sprintf("limit %d exceeds maximum of %d", q.Limit, sc.MaxLimit))
	}

	if q.Field != "" {
		if err := sc.checkField(q.Field); err != nil {
			return err
		}
	}
	for _, part := range []interface{}{q.Filter, q.Projection, q.Pipeline} {
		if err := sc.walk(part, 0); err != nil {
			return err
		}
	}
	return nil
}

func (sc *SafetyChecker) walk(v interface{}, depth int) error {
	if depth > maxNesting {
		return apperrors.NewQueryTooComplexError(fmt.Sprintf("nesting deeper than %d levels", maxNesting))
	}

	switch val := v.(type) {
	case bson.D:
		for _, e := range val {
			if forbiddenOperators[e.Key] {
				return apperrors.NewForbiddenOperatorError(e.Key)
			}
			if !strings.HasPrefix(e.Key, "$") {
				if err := sc.checkField(e.Key); err != nil {
					return err
				}
			}
			if err := sc.walk(e.Value, depth+1); err != nil {
				return err
			}
		}
	case bson.A:
		for _, item := range val {
			if err := sc.walk(item, depth+1); err != nil {
				return err
			}
		}
	case string:
		// field path references such as "$password" in expressions
		if strings.HasPrefix(val, "$") && !strings.HasPrefix(val, "$$") {
			if err := sc.checkField(strings.TrimPrefix(val, "$")); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sc *SafetyChecker) checkField(field string) error {
	for _, re := range sc.ForbiddenFields {
		if re.MatchString(field) {
			return apperrors.NewForbiddenFieldError(field, re.String())
		}
	}
	return nil
}
