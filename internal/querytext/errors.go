package querytext

import (
	"fmt"
)

// ParseError is returned when query text is not valid under the literal grammar.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse query text %q: %v", truncate(e.Text, 200), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvalidQueryShapeError is returned when query text parses but places an
// operator where a field name is expected, or otherwise has the wrong structure
// for its verb.
type InvalidQueryShapeError struct {
	Value  interface{}
	Key    string
	Path   string
	Reason string
}

func (e *InvalidQueryShapeError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid query shape: operator %q at %s cannot be used as a field name", e.Key, e.pathOrRoot())
	}
	return fmt.Sprintf("invalid query shape at %s: %s", e.pathOrRoot(), e.Reason)
}

func (e *InvalidQueryShapeError) pathOrRoot() string {
	if e.Path == "" {
		return "top level"
	}
	return e.Path
}

// UnsupportedVerbError is returned by ParseQuery for anything other than the
// four recognized query methods.
type UnsupportedVerbError struct {
	Verb string
}

func (e *UnsupportedVerbError) Error() string {
	return fmt.Sprintf("unsupported query method %q: expected find, aggregate, distinct or count_documents", e.Verb)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
