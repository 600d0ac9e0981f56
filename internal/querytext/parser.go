package querytext

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
)

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 64

// SyntaxError describes where and why the literal grammar rejected the input.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Offset)
}

// parser is a single-pass recursive-descent reader for the shell dialect
// language models emit: JSON plus single-quoted strings, bare keys, Python and
// JSON literals, trailing commas and the ISODate("...") constructor. No other
// call form is accepted.
type parser struct {
	src   string
	pos   int
	depth int
}

func newParser(src string) *parser {
	return &parser{src: src}
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		p.pos += size
	}
}

func (p *parser) eof() bool {
	p.skipSpace()
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		if p.pos >= len(p.src) {
			return p.errorf("expected %q, got end of input", c)
		}
		return p.errorf("expected %q, got %q", c, p.peek())
	}
	p.pos++
	return nil
}

// parseValue reads one value of the literal grammar.
func (p *parser) parseValue() (interface{}, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of input")
	}

	c := p.peek()
	switch {
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '"' || c == '\'':
		return p.parseString()
	case c == '-' || c == '+' || c == '.' || isDigit(c):
		return p.parseNumber()
	case isIdentStart(c):
		return p.parseIdentValue()
	}
	return nil, p.errorf("unexpected character %q", c)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf("nesting deeper than %d levels", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseObject() (bson.D, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	p.pos++ // '{'
	doc := bson.D{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return doc, nil
		}

		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		doc = setKey(doc, key, val)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return doc, nil
		default:
			if p.pos >= len(p.src) {
				return nil, p.errorf("unterminated object")
			}
			return nil, p.errorf("expected ',' or '}' in object, got %q", p.peek())
		}
	}
}

// setKey lets a repeated key overwrite the earlier value in place, the way a
// JSON object or dict literal would.
func setKey(doc bson.D, key string, val interface{}) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = val
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: val})
}

// parseKey accepts a quoted string or a bare key such as fat, $gt or _id.month.
func (p *parser) parseKey() (string, error) {
	p.skipSpace()
	c := p.peek()
	if c == '"' || c == '\'' {
		return p.parseString()
	}
	if isIdentStart(c) || c == '$' {
		start := p.pos
		for p.pos < len(p.src) && (isIdentPart(p.src[p.pos]) || p.src[p.pos] == '$' || p.src[p.pos] == '.') {
			p.pos++
		}
		return p.src[start:p.pos], nil
	}
	if p.pos >= len(p.src) {
		return "", p.errorf("unterminated object")
	}
	return "", p.errorf("expected object key, got %q", c)
}

func (p *parser) parseArray() (bson.A, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	p.pos++ // '['
	arr := bson.A{}
	for {
		p.skipSpace()
		if p.peek() == ']' {
			p.pos++
			return arr, nil
		}

		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return arr, nil
		default:
			if p.pos >= len(p.src) {
				return nil, p.errorf("unterminated array")
			}
			return nil, p.errorf("expected ',' or ']' in array, got %q", p.peek())
		}
	}
}

// parseArgs reads a parenthesized argument list. The opening parenthesis must
// be the next non-space character.
func (p *parser) parseArgs() ([]interface{}, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var args []interface{}
	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			return args, nil
		}

		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		args = append(args, val)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return args, nil
		default:
			if p.pos >= len(p.src) {
				return nil, p.errorf("unterminated argument list")
			}
			return nil, p.errorf("expected ',' or ')' in argument list, got %q", p.peek())
		}
	}
}

func (p *parser) parseString() (string, error) {
	quote := p.src[p.pos]
	start := p.pos
	p.pos++

	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return sb.String(), nil
		case c == '\\':
			if p.pos+1 >= len(p.src) {
				p.pos = len(p.src)
				return "", p.errorf("unterminated string starting at offset %d", start)
			}
			esc := p.src[p.pos+1]
			p.pos += 2
			switch esc {
			case '"', '\'', '\\', '/':
				sb.WriteByte(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case 'u':
				if p.pos+4 > len(p.src) {
					return "", p.errorf("truncated unicode escape")
				}
				r, err := p.hex4()
				if err != nil {
					return "", err
				}
				if utf16.IsSurrogate(r) && strings.HasPrefix(p.src[p.pos:], `\u`) {
					save := p.pos
					p.pos += 2
					lo, err := p.hex4()
					if err != nil {
						return "", err
					}
					if pair := utf16.DecodeRune(r, lo); pair != unicode.ReplacementChar {
						r = pair
					} else {
						p.pos = save
					}
				}
				sb.WriteRune(r)
			default:
				return "", p.errorf("invalid escape \\%c", esc)
			}
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", &SyntaxError{Offset: start, Msg: "unterminated string"}
}

// hex4 reads the four hex digits of a \u escape.
func (p *parser) hex4() (rune, error) {
	if p.pos+4 > len(p.src) {
		return 0, p.errorf("truncated unicode escape")
	}
	code, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
	if err != nil {
		return 0, p.errorf("invalid unicode escape %q", p.src[p.pos:p.pos+4])
	}
	p.pos += 4
	return rune(code), nil
}

// parseNumber yields int64 for integral literals that fit, float64 otherwise.
func (p *parser) parseNumber() (interface{}, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	isFloat := false
scan:
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case isDigit(c):
		case c == '.' || c == 'e' || c == 'E':
			isFloat = true
		case (c == '-' || c == '+') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E'):
		default:
			break scan
		}
		p.pos++
	}
	text := p.src[start:p.pos]
	if text == "" || text == "-" || text == "+" || text == "." {
		p.pos = start
		return nil, p.errorf("invalid number")
	}
	if !isFloat {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(f, 0) {
		p.pos = start
		return nil, p.errorf("invalid number %q", text)
	}
	return f, nil
}

func (p *parser) parseIdent() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// parseCollectionName reads a db.<name>. receiver: letters, digits, '_' and '-'.
func (p *parser) parseCollectionName() string {
	start := p.pos
	for p.pos < len(p.src) && (isIdentPart(p.src[p.pos]) || p.src[p.pos] == '-') {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) parseIdentValue() (interface{}, error) {
	start := p.pos
	name := p.parseIdent()
	switch name {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	case "null", "None":
		return nil, nil
	case "new":
		p.skipSpace()
		if !isIdentStart(p.peek()) {
			return nil, p.errorf("expected constructor after new")
		}
		ctorStart := p.pos
		if ctor := p.parseIdent(); ctor != "ISODate" {
			p.pos = ctorStart
			return nil, p.errorf("constructor %q is not allowed", ctor)
		}
		return p.parseISODateCall()
	case "ISODate":
		return p.parseISODateCall()
	}

	p.skipSpace()
	isCall := p.peek() == '('
	p.pos = start
	if isCall {
		return nil, p.errorf("call to %q is not allowed", name)
	}
	return nil, p.errorf("unknown identifier %q", name)
}

// parseISODateCall reads ("<iso-8601>") after the ISODate name.
func (p *parser) parseISODateCall() (time.Time, error) {
	if err := p.expect('('); err != nil {
		return time.Time{}, err
	}
	p.skipSpace()
	if c := p.peek(); c != '"' && c != '\'' {
		return time.Time{}, p.errorf("ISODate expects a string argument")
	}
	argStart := p.pos
	raw, err := p.parseString()
	if err != nil {
		return time.Time{}, err
	}
	p.skipSpace()
	if p.peek() == ',' {
		p.pos++
	}
	if err := p.expect(')'); err != nil {
		return time.Time{}, err
	}

	t, err := ParseISODate(raw)
	if err != nil {
		return time.Time{}, &SyntaxError{Offset: argStart, Msg: err.Error()}
	}
	return t, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
