// internal/querytext/extract.go
package querytext

import (
	"regexp"
	"strings"
)

var (
	fencePattern    = regexp.MustCompile("(?m)^\\s*```[A-Za-z]*\\s*$")
	langTagPattern  = regexp.MustCompile(`(?i)^(python|json|javascript|js|mongodb|mongo|shell)\s*\n`)
	receiverPattern = regexp.MustCompile(`^db\.[A-Za-z0-9_\-]+\.`)
	modifierPattern = regexp.MustCompile(`^\.[A-Za-z]+\s*\(`)

	verbPrefixes = []string{"find(", "aggregate(", "distinct(", "count_documents(", "countDocuments("}
)

// Extract pulls the query call out of raw model output. Markdown fences and a
// leading language tag are removed, then the call starting on the first line
// that begins with a supported method is returned, including any lines it
// spans and a trailing .limit(n). When no line matches, the cleaned text is
// returned as is so the caller can report it.
func Extract(raw string) string {
	text := strings.TrimSpace(raw)
	text = fencePattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "`")
	text = langTagPattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		candidate := strings.TrimSpace(line)
		if HasVerb(candidate) {
			rest := strings.Join(append([]string{candidate}, lines[i+1:]...), "\n")
			return strings.TrimSpace(rest[:callEnd(rest)])
		}
	}
	return text
}

// HasVerb reports whether text starts with a supported method call, with or
// without a db.<collection>. receiver.
func HasVerb(text string) bool {
	text = receiverPattern.ReplaceAllString(strings.TrimSpace(text), "")
	for _, prefix := range verbPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// callEnd returns the offset just past the call that starts text: the closing
// parenthesis that balances the first opening one, extended over chained
// .method(...) modifiers. Quoted strings are skipped. Unbalanced text is
// returned whole.
func callEnd(text string) int {
	end := balancedEnd(text, 0)
	if end < 0 {
		return len(text)
	}
	for {
		rest := strings.TrimLeft(text[end:], " \t")
		if !modifierPattern.MatchString(rest) {
			return end
		}
		offset := len(text) - len(rest)
		next := balancedEnd(text, offset)
		if next < 0 {
			return end
		}
		end = next
	}
}

func balancedEnd(text string, from int) int {
	depth := 0
	opened := false
	var quote byte
	for i := from; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[', '{':
			depth++
			opened = true
		case ')', ']', '}':
			depth--
			if opened && depth == 0 {
				return i + 1
			}
		case '\n':
			if !opened {
				return -1
			}
		}
	}
	return -1
}
