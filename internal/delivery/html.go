package delivery

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy()
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagRe       = regexp.MustCompile(`<[^<>]*>`)
)

// StripHTML derives a plain-text body from HTML. It is a best-effort fallback, not a renderer:
// line breaks survive as newlines, every tag is dropped and non-breaking spaces become spaces.
func StripHTML(body string) string {
	text := lineBreakRe.ReplaceAllString(body, "\n")
	text = stripPolicy.Sanitize(text)
	text = html.UnescapeString(text)
	// Unescaping can turn &lt;b&gt; back into a tag.
	for tagRe.MatchString(text) {
		text = tagRe.ReplaceAllString(text, "")
	}
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	return strings.TrimSpace(text)
}
