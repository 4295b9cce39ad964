package prompt

import (
	"regexp"
	"strings"
)

// Replies are sent with HTML parse mode; only these markers survive.
// Everything else the model emits is stripped.
var (
	tagPattern     = regexp.MustCompile(`(?s)<[^>]*>`)
	allowedPattern = regexp.MustCompile(`(?i)^</?(b|i|u|code|pre)>$|^<a\s+href="[^"]*">$|^</a>$`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips disallowed markup from a model reply and collapses runs of
// blank lines. The result is safe to send with HTML formatting enabled.
func Sanitize(reply string) string {
	cleaned := tagPattern.ReplaceAllStringFunc(reply, func(tag string) string {
		if allowedPattern.MatchString(tag) {
			return tag
		}
		return ""
	})
	cleaned = blankRuns.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
