package domain

import (
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// NormalizeTimestamp returns an RFC 3339 rendering of the first parsable
// candidate. When nothing parses, the raw display value is returned as is.
func NormalizeTimestamp(iso, raw string) string {
	for _, candidate := range []string{iso, raw} {
		if t, ok := ParseTimestamp(candidate); ok {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return strings.TrimSpace(raw)
}

// ParseTimestamp tries the known layouts against value.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
