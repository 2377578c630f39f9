package agent

import (
	"regexp"
	"strings"
)

var (
	thinkTagPattern   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// ExtractJSON is the best-effort cleaner structured-output deserialization
// runs a raw model response through: it strips <think>...</think>
// reasoning spans, unwraps a fenced code block if one wraps the payload,
// and otherwise falls back to the substring between the first '{' and the
// last '}'.
func ExtractJSON(raw string) string {
	s := thinkTagPattern.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)

	if m := fencedJSONPattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
