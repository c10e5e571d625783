package llm

import (
	"strings"

	"github.com/goccy/go-json"
)

// DecodeJSON unmarshals a model answer into v. Models occasionally wrap
// JSON in Markdown code fences or add prose around it; only the outermost
// JSON object is decoded.
func DecodeJSON(content string, v any) error {
	return json.Unmarshal([]byte(ExtractJSON(content)), v)
}

// ExtractJSON returns the outermost {...} block of s, without code fences.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
