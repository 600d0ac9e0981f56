// Package querytext turns query text written by a language model into native
// BSON structures without evaluating it.
//
// The accepted grammar is JSON extended with the forms models commonly emit in
// MongoDB shell syntax: single-quoted strings, bare object keys, Python and
// JSON boolean and null literals, trailing commas and ISODate("...") date
// constructors. Mappings become bson.D (key order preserved), sequences become
// bson.A, integers become int64, other numbers float64 and dates time.Time in
// UTC. No other call form is recognized.
package querytext

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Sanitize parses text into a native structure and rejects operator tokens
// that sit where a field name is expected. Empty or whitespace-only text
// yields an empty mapping.
//
// Syntax failures are reported as *ParseError and structural ones as
// *InvalidQueryShapeError.
func Sanitize(text string) (interface{}, error) {
	if strings.TrimSpace(text) == "" {
		return bson.D{}, nil
	}

	value, err := parseLiteral(text)
	if err != nil {
		return nil, err
	}
	if err := validateTopLevel(value); err != nil {
		return nil, err
	}
	return value, nil
}

// parseLiteral reads exactly one value and requires the rest of text to be
// blank.
func parseLiteral(text string) (interface{}, error) {
	p := newParser(text)
	value, err := p.parseValue()
	if err != nil {
		return nil, &ParseError{Text: text, Err: err}
	}
	if !p.eof() {
		return nil, &ParseError{Text: text, Err: p.errorf("unexpected trailing input %q", truncate(p.src[p.pos:], 20))}
	}
	return value, nil
}
