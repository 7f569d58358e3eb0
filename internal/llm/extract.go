package llm

import (
	"fmt"
	"strings"

	"github.com/knowledge-agent-core/internal/jsonx"
)

// ExtractJSONObject recovers a JSON object from a model reply that may
// wrap it in markdown fences or surrounding prose. It strips ```json
// fences and returns the span from the first '{' to the last '}'.
// Deliberately best-effort: replies containing several objects, or
// literal braces inside trailing prose, resolve to the outermost span.
func ExtractJSONObject(s string) (string, error) {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return s[start : end+1], nil
}

// DecodeJSONObject extracts and unmarshals a JSON object into v.
func DecodeJSONObject(s string, v interface{}) error {
	obj, err := ExtractJSONObject(s)
	if err != nil {
		return err
	}
	if err := jsonx.UnmarshalFromString(obj, v); err != nil {
		return fmt.Errorf("failed to parse extracted JSON: %w", err)
	}
	return nil
}

// SplitLines returns the non-empty trimmed lines of a model reply.
// Used for prompts that request one item per line.
func SplitLines(s string) []string {
	raw := strings.Split(s, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
