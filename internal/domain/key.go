package domain

import "strings"

// CompositeKey identifies a review for deduplication purposes.
type CompositeKey struct {
	Key    string
	Author string
	Date   string
	Text   string
}

// CompositeKeyOf returns (key, text) when the identifier is present and falls
// back to (author, raw date, text) otherwise. The fallback can collide for two
// distinct reviews with identical author, date and text.
func CompositeKeyOf(r Review) CompositeKey {
	text := strings.TrimSpace(r.Text)
	if key := NormalizeKey(r.Key); key != "" {
		return CompositeKey{Key: key, Text: text}
	}
	return CompositeKey{
		Author: strings.TrimSpace(r.Author),
		Date:   strings.TrimSpace(r.TimestampRaw),
		Text:   text,
	}
}
