package chat

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy()
	lineBreak   = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</li>|</div>`)
)

// PlainText converts a reply's markup into readable text. Line-breaking
// elements become newlines, all other tags are dropped, and blank lines are
// collapsed.
func PlainText(markup string) string {
	withBreaks := lineBreak.ReplaceAllString(markup, "\n")
	text := html.UnescapeString(stripPolicy.Sanitize(withBreaks))

	var out []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
