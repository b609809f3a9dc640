package pipeline

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxRecommendationsLen caps stored LLM output.
const maxRecommendationsLen = 100000

var stripPolicy = bluemonday.StrictPolicy()

// SanitizeRecommendations strips HTML the model may have emitted and keeps
// the markdown text. Output is truncated to maxRecommendationsLen bytes.
func SanitizeRecommendations(s string) string {
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	if len(s) > maxRecommendationsLen {
		s = strings.ToValidUTF8(s[:maxRecommendationsLen], "") + "\n... (truncated)"
	}
	return s
}
