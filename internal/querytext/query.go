// internal/querytext/query.go
package querytext

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Verb is a supported query method.
type Verb string

const (
	VerbFind      Verb = "find"
	VerbAggregate Verb = "aggregate"
	VerbDistinct  Verb = "distinct"
	VerbCount     Verb = "count_documents"
)

// DefaultFindLimit applies to find queries without an explicit .limit(n).
const DefaultFindLimit int64 = 50

// Verbs lists the supported methods in prompt order.
var Verbs = []Verb{VerbFind, VerbAggregate, VerbDistinct, VerbCount}

// Query is a parsed query-method call.
type Query struct {
	Verb       Verb
	Filter     bson.D
	Projection bson.D
	Pipeline   bson.A
	Field      string
	Limit      int64
	// ExplicitLimit is set when the text carried .limit(n).
	ExplicitLimit bool
	Text          string
}

// ParseQuery parses a call such as find({...}).limit(5), aggregate([...]),
// distinct("field", {...}) or count_documents({...}). A leading db.<name>.
// receiver is tolerated.
func ParseQuery(text string) (*Query, error) {
	src := strings.TrimSpace(text)
	src = strings.TrimSuffix(src, ";")

	p := newParser(src)
	p.skipSpace()
	if !isIdentStart(p.peek()) {
		return nil, &UnsupportedVerbError{Verb: truncate(src, 20)}
	}
	name := p.parseIdent()
	if name == "db" && p.peek() == '.' {
		// db.<collection>.<verb>(...); collection names may contain '-'
		p.pos++
		name = p.parseCollectionName()
		if p.peek() == '.' {
			p.pos++
			name = p.parseIdent()
		}
	}

	verb := Verb(name)
	switch verb {
	case VerbFind, VerbAggregate, VerbDistinct, VerbCount:
	case "countDocuments":
		verb = VerbCount
	default:
		return nil, &UnsupportedVerbError{Verb: name}
	}

	args, err := p.parseArgs()
	if err != nil {
		return nil, &ParseError{Text: text, Err: err}
	}

	q := &Query{Verb: verb, Text: text}
	if verb == VerbFind {
		q.Limit = DefaultFindLimit
	}

	// Optional cursor modifier; only find supports it.
	p.skipSpace()
	if p.peek() == '.' {
		p.pos++
		mod := p.parseIdent()
		if mod != "limit" || verb != VerbFind {
			return nil, &ParseError{Text: text, Err: p.errorf("unsupported modifier .%s()", mod)}
		}
		modArgs, err := p.parseArgs()
		if err != nil {
			return nil, &ParseError{Text: text, Err: err}
		}
		n, ok := asInt(modArgs)
		if !ok || n < 0 {
			return nil, &ParseError{Text: text, Err: p.errorf("limit expects one non-negative integer")}
		}
		q.Limit = n
		q.ExplicitLimit = true
	}
	if !p.eof() {
		return nil, &ParseError{Text: text, Err: p.errorf("unexpected trailing input %q", truncate(p.src[p.pos:], 20))}
	}

	if err := q.bind(args); err != nil {
		return nil, err
	}
	return q, nil
}

// bind assigns parsed arguments to the verb's parameters and applies the shape policy.
func (q *Query) bind(args []interface{}) error {
	switch q.Verb {
	case VerbFind:
		if len(args) > 2 {
			return q.argError(args, "find takes at most a filter and a projection")
		}
		if len(args) > 0 {
			filter, err := q.filterArg(args[0])
			if err != nil {
				return err
			}
			q.Filter = filter
		}
		if len(args) > 1 {
			proj, ok := args[1].(bson.D)
			if !ok && args[1] != nil {
				return q.argError(args[1], "projection must be a mapping")
			}
			q.Projection = proj
		}

	case VerbAggregate:
		if len(args) != 1 {
			return q.argError(args, "aggregate takes exactly one pipeline list")
		}
		if err := ValidateShape(args[0], PositionPipeline); err != nil {
			return err
		}
		q.Pipeline = args[0].(bson.A)

	case VerbDistinct:
		if len(args) < 1 || len(args) > 2 {
			return q.argError(args, "distinct takes a field name and an optional filter")
		}
		field, ok := args[0].(string)
		if !ok || field == "" {
			return q.argError(args[0], "distinct field must be a non-empty string")
		}
		q.Field = field
		if len(args) == 2 {
			filter, err := q.filterArg(args[1])
			if err != nil {
				return err
			}
			q.Filter = filter
		}

	case VerbCount:
		if len(args) > 1 {
			return q.argError(args, "count_documents takes at most one filter")
		}
		if len(args) == 1 {
			filter, err := q.filterArg(args[0])
			if err != nil {
				return err
			}
			q.Filter = filter
		}
	}

	if q.Filter == nil {
		q.Filter = bson.D{}
	}
	return nil
}

func (q *Query) filterArg(arg interface{}) (bson.D, error) {
	if arg == nil {
		return bson.D{}, nil
	}
	filter, ok := arg.(bson.D)
	if !ok {
		return nil, q.argError(arg, fmt.Sprintf("%s filter must be a mapping, got %s", q.Verb, typeName(arg)))
	}
	if err := ValidateShape(filter, PositionFilter); err != nil {
		return nil, err
	}
	return filter, nil
}

func (q *Query) argError(value interface{}, reason string) error {
	return &InvalidQueryShapeError{Value: value, Reason: reason}
}

// MatchFilter returns the filter that selects the documents the query reads:
// the filter argument, or the body of a leading $match stage.
func (q *Query) MatchFilter() (bson.D, bool) {
	switch q.Verb {
	case VerbFind, VerbDistinct, VerbCount:
		return q.Filter, true
	case VerbAggregate:
		if len(q.Pipeline) == 0 {
			return nil, false
		}
		stage, ok := q.Pipeline[0].(bson.D)
		if !ok || len(stage) != 1 || stage[0].Key != "$match" {
			return nil, false
		}
		filter, ok := stage[0].Value.(bson.D)
		return filter, ok
	}
	return nil, false
}

// String renders the query back in the shell dialect ParseQuery reads.
func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString(string(q.Verb))
	sb.WriteByte('(')
	switch q.Verb {
	case VerbFind:
		sb.WriteString(Format(q.Filter))
		if len(q.Projection) > 0 {
			sb.WriteString(", ")
			sb.WriteString(Format(q.Projection))
		}
	case VerbAggregate:
		sb.WriteString(Format(q.Pipeline))
	case VerbDistinct:
		sb.WriteString(Format(q.Field))
		sb.WriteString(", ")
		sb.WriteString(Format(q.Filter))
	case VerbCount:
		sb.WriteString(Format(q.Filter))
	}
	sb.WriteByte(')')
	if q.Verb == VerbFind && q.ExplicitLimit {
		fmt.Fprintf(&sb, ".limit(%d)", q.Limit)
	}
	return sb.String()
}

func asInt(args []interface{}) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	switch n := args[0].(type) {
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
