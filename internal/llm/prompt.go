package llm

import (
	"fmt"
	"sort"
	"strings"
)

// Prompt is a generation request split into standing instructions and the
// per-question part.
type Prompt struct {
	System string
	User   string
}

// Render joins both parts for providers without a separate system channel.
func (p *Prompt) Render() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

// Example is a previously answered question used as a few-shot sample.
type Example struct {
	Question  string
	QueryText string
}

// Hints carries what the intent classifier pulled out of the question.
type Hints struct {
	Verb  string
	Dates []string // yyyy-mm-dd
	Codes []string
}

// PromptInput is everything BuildPrompt needs for one question.
type PromptInput struct {
	Question   string
	Collection string
	Schema     map[string]string // field -> BSON type name
	Aliases    map[string]string // alias -> field
	Examples   []Example
	Hints      Hints
}

const systemInstructions = `You are an expert MongoDB query generator for a milk collection database.
Your only job is to convert the user's question into one MongoDB query call.

Output rules:
1. Output ONLY the query, starting with find(...), aggregate([...]), distinct(...) or count_documents(...).
2. No code fences, language names, explanations or comments. No text before or after the query.
3. Quote every operator and field name with double quotes.
4. Keep numbers as numbers. Member, DCS, plant and union codes are strings.
5. Write dates as ISODate("YYYY-MM-DDTHH:MM:SSZ"). A single day means {"$gte": ISODate(day), "$lt": ISODate(next day)}.
   A range "between A and B" means $gte A and $lt the day after B.
6. Never use $where, $function, $accumulator, $out or $merge.

Choosing the call:
- Plain filters: find({filter}). Add .limit(n) only when the user asks for a number of records.
- Sums, averages, minimums, maximums, grouping, top/least N, trends and comparisons: aggregate([...]).
  Group with $group, order with $sort (-1 for top or highest, 1 for least or lowest) and cut with $limit.
- "How many" with no grouping: count_documents({filter}). Grouped counts use {"$sum": 1} in $group.
- Unique values: distinct("field", {filter}).
- Per month or per year: group on {"$month": "$dateTimeOfCollection"} or {"$year": "$dateTimeOfCollection"} and sort by it.
- Specific months: filter in $match with $expr and $in over {"$month": ...}, together with $eq on {"$year": ...}.
- Comparing several codes: $match with $in on the code field, then group by code.`

var builtinExamples = []Example{
	{"records for member 0010000019930016", `find({"memberCode": "0010000019930016"})`},
	{"collections at dcs 001000001993 from 01/01/2025 to 01/03/2025", `find({"dcsCode": "001000001993", "dateTimeOfCollection": {"$gte": ISODate("2025-01-01T00:00:00Z"), "$lt": ISODate("2025-03-02T00:00:00Z")}})`},
	{"fat greater than 4.1", `find({"fat": {"$gt": 4.1}})`},
	{"snf above 9 and fat above 3", `find({"snf": {"$gt": 9}, "fat": {"$gt": 3}})`},
	{"which members supplied more than 100 litres", `distinct("memberCode", {"qty": {"$gt": 100}})`},
	{"how many collections on 09/11/2024", `count_documents({"dateTimeOfCollection": {"$gte": ISODate("2024-11-09T00:00:00Z"), "$lt": ISODate("2024-11-10T00:00:00Z")}})`},
	{"top 5 members by total quantity", `aggregate([{"$group": {"_id": "$memberCode", "totalQty": {"$sum": "$qty"}}}, {"$sort": {"totalQty": -1}}, {"$limit": 5}])`},
	{"minimum snf for dcs 001000001993", `aggregate([{"$match": {"dcsCode": "001000001993"}}, {"$group": {"_id": "$dcsCode", "minSNF": {"$min": "$snf"}}}])`},
	{"lowest quantity on 09/11/2024", `aggregate([{"$match": {"dateTimeOfCollection": {"$gte": ISODate("2024-11-09T00:00:00Z"), "$lt": ISODate("2024-11-10T00:00:00Z")}}}, {"$sort": {"qty": 1}}, {"$limit": 1}])`},
	{"monthly trend of average fat", `aggregate([{"$group": {"_id": {"month": {"$month": "$dateTimeOfCollection"}}, "avgFat": {"$avg": "$fat"}}}, {"$sort": {"_id.month": 1}}])`},
	{"compare average qty of members 0010000019930016 and 0010000004790107 in November and December 2024", `aggregate([{"$match": {"$expr": {"$and": [{"$in": ["$memberCode", ["0010000019930016", "0010000004790107"]]}, {"$in": [{"$month": "$dateTimeOfCollection"}, [11, 12]]}, {"$eq": [{"$year": "$dateTimeOfCollection"}, 2024]}]}}}, {"$group": {"_id": {"memberCode": "$memberCode", "month": {"$month": "$dateTimeOfCollection"}}, "averageQty": {"$avg": "$qty"}}}, {"$sort": {"_id.memberCode": 1, "_id.month": 1}}])`},
}

// BuildPrompt renders the generation prompt for one question. Learned
// examples are listed before the built-in ones so the model sees the closest
// matches first.
func BuildPrompt(in PromptInput) *Prompt {
	var b strings.Builder

	collection := in.Collection
	if collection == "" {
		collection = "milk_collections"
	}
	b.WriteString(fmt.Sprintf("Collection: %s\n\n", collection))

	if len(in.Schema) > 0 {
		b.WriteString("Fields (name: type):\n")
		for _, field := range sortedKeys(in.Schema) {
			b.WriteString(fmt.Sprintf("- %s: %s\n", field, in.Schema[field]))
		}
		b.WriteString("\n")
	}

	if len(in.Aliases) > 0 {
		byField := make(map[string][]string)
		for alias, field := range in.Aliases {
			if alias != field {
				byField[field] = append(byField[field], alias)
			}
		}
		b.WriteString("Words users say for each field:\n")
		for _, field := range sortedKeys(byField) {
			aliases := byField[field]
			sort.Strings(aliases)
			b.WriteString(fmt.Sprintf("- %s: %s\n", field, strings.Join(aliases, ", ")))
		}
		b.WriteString("\n")
	}

	b.WriteString("Examples:\n")
	for _, ex := range in.Examples {
		b.WriteString(fmt.Sprintf("Q: %s\n%s\n", ex.Question, ex.QueryText))
	}
	for _, ex := range builtinExamples {
		b.WriteString(fmt.Sprintf("Q: %s\n%s\n", ex.Question, ex.QueryText))
	}
	b.WriteString("\n")

	if hints := renderHints(in.Hints); hints != "" {
		b.WriteString(hints)
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("Question: %q\n\nQuery:", in.Question))

	return &Prompt{System: systemInstructions, User: b.String()}
}

func renderHints(h Hints) string {
	var lines []string
	if h.Verb != "" {
		lines = append(lines, fmt.Sprintf("- The question most likely needs %s(...)", h.Verb))
	}
	if len(h.Dates) > 0 {
		lines = append(lines, fmt.Sprintf("- Dates mentioned (yyyy-mm-dd): %s", strings.Join(h.Dates, ", ")))
	}
	if len(h.Codes) > 0 {
		lines = append(lines, fmt.Sprintf("- Codes mentioned (match as strings): %s", strings.Join(h.Codes, ", ")))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Hints:\n" + strings.Join(lines, "\n") + "\n"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
