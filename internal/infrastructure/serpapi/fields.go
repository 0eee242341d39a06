package serpapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Aliases is an ordered list of field paths; the first present, non-empty value wins.
// Nested fields use dots ("user.name").
type Aliases []string

// FieldMap resolves every review attribute consumed from the payload.
type FieldMap struct {
	Key         Aliases
	Text        Aliases
	Author      Aliases
	AuthorLink  Aliases
	AuthorPhoto Aliases
	Rating      Aliases
	Date        Aliases
	ISODate     Aliases
	Permalink   Aliases
	Helpful     Aliases
	Images      Aliases
	ImageURL    Aliases
}

// DefaultFieldMap covers the google_maps_reviews payload and its older variants.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		Key:         Aliases{"review_id", "id", "reviewId"},
		Text:        Aliases{"snippet", "content", "comment", "extracted_snippet.original"},
		Author:      Aliases{"user.name", "user_name", "user"},
		AuthorLink:  Aliases{"user.link", "user_link"},
		AuthorPhoto: Aliases{"user.thumbnail", "user_photo"},
		Rating:      Aliases{"rating"},
		Date:        Aliases{"date"},
		ISODate:     Aliases{"iso_date", "iso_date_of_last_edit"},
		Permalink:   Aliases{"link"},
		Helpful:     Aliases{"likes", "thumbs_up_count", "likes_count"},
		Images:      Aliases{"images"},
		ImageURL:    Aliases{"original", "src", "thumbnail"},
	}
}

func (a Aliases) lookup(obj map[string]any) (any, bool) {
	for _, path := range a {
		v, ok := lookupPath(obj, path)
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

// String resolves the first alias holding a scalar; objects are skipped so that
// "user" only matches when the provider sends a bare name.
func (a Aliases) String(obj map[string]any) string {
	for _, path := range a {
		v, ok := lookupPath(obj, path)
		if !ok || isEmpty(v) {
			continue
		}
		if s, ok := scalarString(v); ok {
			return s
		}
	}
	return ""
}

func (a Aliases) Float(obj map[string]any) float64 {
	v, ok := a.lookup(obj)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case json.Number:
		f, _ := n.Float64()
		return f
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(n, ",", ".")), 64)
		return f
	default:
		return 0
	}
}

func (a Aliases) Int(obj map[string]any) int {
	return int(a.Float(obj))
}

func lookupPath(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func (f FieldMap) images(obj map[string]any) ([]string, error) {
	v, ok := f.Images.lookup(obj)
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("images is %T, want array", v)
	}
	urls := make([]string, 0, len(list))
	for _, item := range list {
		switch img := item.(type) {
		case string:
			urls = append(urls, strings.TrimSpace(img))
		case map[string]any:
			urls = append(urls, f.ImageURL.String(img))
		}
	}
	return urls, nil
}
