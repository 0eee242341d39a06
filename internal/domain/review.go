package domain

import (
	"encoding/json"
	"strings"
)

// RawReview is a single review as returned by the remote source, with its
// attributes already resolved from the provider-specific payload.
type RawReview struct {
	Key          string
	Text         string
	Author       string
	AuthorLink   string
	AuthorPhoto  string
	Rating       float64
	Date         string
	ISODate      string
	Permalink    string
	ImageURLs    []string
	HelpfulCount int
	Payload      json.RawMessage
}

// Review is a persisted record of the durable dataset.
type Review struct {
	Key                 string
	Text                string
	Author              string
	AuthorLink          string
	AuthorPhoto         string
	Rating              float64
	TimestampRaw        string
	TimestampNormalized string
	Permalink           string
	ImageURLs           []string
	HelpfulCount        int

	Labels          []string
	LabelConfidence float64
	LabelRationale  string

	// Used and UsedAt belong to the dashboard and are carried through untouched.
	Used   bool
	UsedAt string
}

// Classification is the outcome of the external classifier for one text.
type Classification struct {
	Labels     []string
	Confidence float64
	Rationale  string
}

// NewReview normalizes a raw record into a Review. The label fields stay empty.
func NewReview(raw RawReview) Review {
	return Review{
		Key:                 NormalizeKey(raw.Key),
		Text:                strings.TrimSpace(raw.Text),
		Author:              strings.TrimSpace(raw.Author),
		AuthorLink:          strings.TrimSpace(raw.AuthorLink),
		AuthorPhoto:         strings.TrimSpace(raw.AuthorPhoto),
		Rating:              raw.Rating,
		TimestampRaw:        strings.TrimSpace(raw.Date),
		TimestampNormalized: NormalizeTimestamp(raw.ISODate, raw.Date),
		Permalink:           strings.TrimSpace(raw.Permalink),
		ImageURLs:           compactStrings(raw.ImageURLs),
		HelpfulCount:        raw.HelpfulCount,
	}
}

// NeedsClassification reports whether the classifier has not labelled the review yet.
func (r Review) NeedsClassification() bool {
	return len(r.Labels) == 0
}

// HasText reports whether the review carries a non-blank body.
func (r Review) HasText() bool {
	return strings.TrimSpace(r.Text) != ""
}

// WithClassification returns a copy carrying the classifier output.
func (r Review) WithClassification(c Classification) Review {
	r.Labels = append([]string(nil), c.Labels...)
	r.LabelConfidence = c.Confidence
	r.LabelRationale = c.Rationale
	return r
}

// NormalizeKey coerces an external identifier into its canonical string form.
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}

func compactStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
