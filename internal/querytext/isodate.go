package querytext

import (
	"fmt"
	"strings"
	"time"
)

// isoLayouts are tried in order after NormalizeISODate has appended an offset.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15Z07:00",
}

// NormalizeISODate rewrites the argument of an ISODate literal into a fully
// qualified RFC 3339 string. A date without a time becomes midnight UTC, a time
// without an offset is taken as UTC and a trailing Z becomes +00:00.
func NormalizeISODate(s string) string {
	iso := strings.TrimSpace(s)
	if len(iso) > 10 && iso[10] == ' ' {
		iso = iso[:10] + "T" + strings.TrimSpace(iso[11:])
	}
	if strings.HasSuffix(iso, "Z") || strings.HasSuffix(iso, "z") {
		iso = iso[:len(iso)-1] + "+00:00"
	}

	if !strings.ContainsAny(iso, "Tt") {
		return iso + "T00:00:00+00:00"
	}
	if !hasOffset(iso) {
		return iso + "+00:00"
	}
	return iso
}

// hasOffset reports whether the time part of iso ends in a numeric offset.
func hasOffset(iso string) bool {
	t := strings.IndexAny(iso, "Tt")
	if t < 0 {
		return false
	}
	return strings.ContainsAny(iso[t:], "+-")
}

// ParseISODate converts an ISODate argument to a UTC time.
func ParseISODate(s string) (time.Time, error) {
	iso := NormalizeISODate(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISODate %q", s)
}
