package semantic

import "strings"

// DefaultCollection is the collection the bot answers questions about when
// none is named.
const DefaultCollection = "milk_collections"

var defaultAliases = map[string]string{
	"member":          "memberCode",
	"members":         "memberCode",
	"membercode":      "memberCode",
	"member code":     "memberCode",
	"member codes":    "memberCode",
	"dcs":             "dcsCode",
	"dcscode":         "dcsCode",
	"dcs code":        "dcsCode",
	"qty":             "qty",
	"quantity":        "qty",
	"milk":            "qty",
	"milk qty":        "qty",
	"milk quantity":   "qty",
	"fat":             "fat",
	"snf":             "snf",
	"amount":          "amount",
	"amt":             "amount",
	"date":            "dateTimeOfCollection",
	"datetime":        "dateTimeOfCollection",
	"collection date": "dateTimeOfCollection",
	"plant":           "plantCode",
	"plantcode":       "plantCode",
	"union":           "unionCode",
	"unioncode":       "unionCode",
}

// DefaultAliases returns the built-in aliases for a collection. Only the milk
// collection has any.
func DefaultAliases(collection string) map[string]string {
	out := make(map[string]string)
	if collection != DefaultCollection && collection != "" {
		return out
	}
	for alias, field := range defaultAliases {
		out[alias] = field
	}
	return out
}

// MergeAliases overlays stored aliases on the defaults. Alias keys are
// compared lowercased.
func MergeAliases(defaults, stored map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(stored))
	for alias, field := range defaults {
		out[strings.ToLower(alias)] = field
	}
	for alias, field := range stored {
		out[strings.ToLower(alias)] = field
	}
	return out
}

// ResolveField maps a user word to a field name. Unknown words are returned
// unchanged with ok false.
func ResolveField(aliases map[string]string, word string) (string, bool) {
	field, ok := aliases[strings.ToLower(strings.TrimSpace(word))]
	if !ok {
		return word, false
	}
	return field, true
}
