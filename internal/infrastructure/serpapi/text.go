package serpapi

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// knownTag matches the formatting tags the provider leaves in review bodies.
// Anything else that starts with '<' is part of what the reviewer typed.
var knownTag = regexp.MustCompile(`(?i)^</?(br|p|div|li|ul|ol|span|b|i|u|em|strong)\b[^<>]*>`)

// plainText strips the provider's formatting tags and decodes entities. Review
// text that merely contains '<' or '&' is kept as typed.
func plainText(s string) string {
	escaped, hasMarkup := escapeUnknownTags(s)
	if !hasMarkup {
		return strings.TrimSpace(html.UnescapeString(s))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(escaped))
	if err != nil {
		return strings.TrimSpace(html.UnescapeString(s))
	}
	doc.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, li").Each(func(_ int, block *goquery.Selection) {
		block.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// escapeUnknownTags turns every '<' that does not open a known tag into "&lt;"
// so the HTML parser keeps it as text. It reports whether a known tag was seen.
func escapeUnknownTags(s string) (string, bool) {
	if !strings.Contains(s, "<") {
		return s, false
	}
	var b strings.Builder
	b.Grow(len(s))
	found := false
	for i := 0; i < len(s); i++ {
		if s[i] != '<' {
			b.WriteByte(s[i])
			continue
		}
		if loc := knownTag.FindStringIndex(s[i:]); loc != nil {
			found = true
			b.WriteString(s[i : i+loc[1]])
			i += loc[1] - 1
			continue
		}
		b.WriteString("&lt;")
	}
	return b.String(), found
}
