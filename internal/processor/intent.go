package processor

import (
	"regexp"
	"strconv"
	"time"

	"github.com/seanankenbruck/mongo-query-bot/internal/llm"
	"github.com/seanankenbruck/mongo-query-bot/internal/querytext"
)

// DefaultSampleSize is how many records an answer shows when the question
// does not ask for a number.
const DefaultSampleSize = 10

// QueryIntent is what the classifier read from a question before any model call.
type QueryIntent struct {
	Verb       querytext.Verb `json:"verb"`
	Dates      []string       `json:"dates,omitempty"` // yyyy-mm-dd
	Codes      []string       `json:"codes,omitempty"`
	SampleSize int            `json:"sample_size"`
}

// Hints converts the intent into prompt hints.
func (i *QueryIntent) Hints() llm.Hints {
	return llm.Hints{Verb: string(i.Verb), Dates: i.Dates, Codes: i.Codes}
}

// IntentClassifier classifies natural language questions
type IntentClassifier struct {
	patterns      map[string]*regexp.Regexp
	maxSampleSize int
}

// NewIntentClassifier creates a classifier. Requested sample sizes are
// clamped to 1..maxSampleSize.
func NewIntentClassifier(maxSampleSize int) *IntentClassifier {
	if maxSampleSize <= 0 {
		maxSampleSize = 100
	}
	patterns := map[string]*regexp.Regexp{
		"count":     regexp.MustCompile(`(?i)\b(how many|count|number of)\b`),
		"distinct":  regexp.MustCompile(`(?i)\b(unique|distinct|different)\b`),
		"aggregate": regexp.MustCompile(`(?i)\b(average|avg|mean|total|sum|highest|lowest|maximum|minimum|max|min|trend|per (day|week|month|year)|monthly|daily|group(ed)? by|compare|top \d+ \w+ by)\b`),
		"dmy":       regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`),
		"ymd":       regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`),
		"code":      regexp.MustCompile(`\b\d{8,}\b`),
		"sample":    regexp.MustCompile(`(?i)\b(top|first|last|show(?:\s+me)?|list)\s+(\d+)\b`),
	}
	return &IntentClassifier{patterns: patterns, maxSampleSize: maxSampleSize}
}

// ClassifyIntent analyzes the question and extracts hints for the prompt.
func (ic *IntentClassifier) ClassifyIntent(question string) *QueryIntent {
	intent := &QueryIntent{
		Verb:       ic.classifyVerb(question),
		Dates:      ic.extractDates(question),
		Codes:      ic.patterns["code"].FindAllString(question, -1),
		SampleSize: DefaultSampleSize,
	}

	if match := ic.patterns["sample"].FindStringSubmatch(question); len(match) > 2 {
		if n, err := strconv.Atoi(match[2]); err == nil {
			intent.SampleSize = clamp(n, 1, ic.maxSampleSize)
		}
	}
	return intent
}

func (ic *IntentClassifier) classifyVerb(question string) querytext.Verb {
	switch {
	case ic.patterns["aggregate"].MatchString(question):
		return querytext.VerbAggregate
	case ic.patterns["distinct"].MatchString(question):
		return querytext.VerbDistinct
	case ic.patterns["count"].MatchString(question):
		return querytext.VerbCount
	default:
		return querytext.VerbFind
	}
}

// extractDates returns valid calendar dates in the order they appear.
// Slashed and dashed day-first dates are read as dd/mm/yyyy.
func (ic *IntentClassifier) extractDates(question string) []string {
	type found struct {
		at   int
		date string
	}
	var dates []found

	for _, loc := range ic.patterns["ymd"].FindAllStringSubmatchIndex(question, -1) {
		y, m, d := question[loc[2]:loc[3]], question[loc[4]:loc[5]], question[loc[6]:loc[7]]
		if date, ok := isoDate(y, m, d); ok {
			dates = append(dates, found{loc[0], date})
		}
	}
	for _, loc := range ic.patterns["dmy"].FindAllStringSubmatchIndex(question, -1) {
		d, m, y := question[loc[2]:loc[3]], question[loc[4]:loc[5]], question[loc[6]:loc[7]]
		if date, ok := isoDate(y, m, d); ok {
			dates = append(dates, found{loc[0], date})
		}
	}

	// two passes, so restore question order
	for i := 1; i < len(dates); i++ {
		for j := i; j > 0 && dates[j].at < dates[j-1].at; j-- {
			dates[j], dates[j-1] = dates[j-1], dates[j]
		}
	}

	out := make([]string, 0, len(dates))
	for _, f := range dates {
		out = append(out, f.date)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isoDate(y, m, d string) (string, bool) {
	s := y + "-" + leftPad(m) + "-" + leftPad(d)
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", false
	}
	return s, true
}

func leftPad(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// SampleQuestions are shown by the CLI and the API as starting points.
func SampleQuestions() []string {
	return []string{
		"Show me 5 collections for member 730110400002",
		"What are the details for dcsCode 001000001993 between 01/01/2025 and 03/01/2025?",
		"Find records where fat is greater than 4.1 and limit to 3 results",
		"List top 3 members by total quantity",
		"Count records for member 730110400002",
		"List 5 unique dcs codes where fat is over 4.0",
		"Which member has the highest average SNF?",
		"Compare average quantity for member 0010000008650047 and 760540500086",
		"What is the trend of average fat per month in 2024?",
		"What is the lowest quantity collected on 09-11-2024?",
	}
}
