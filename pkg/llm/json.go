package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSONRe   = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON finds the JSON object in a model response and unmarshals it
// into v. Models wrap JSON in markdown fences or prose despite
// instructions; this strips a fenced block first, then falls back to the
// outermost brace span.
func ExtractJSON(text string, v any) error {
	candidate := text
	if m := fencedJSONRe.FindStringSubmatch(text); len(m) > 1 {
		candidate = m[1]
	} else if m := bareJSONRe.FindString(text); m != "" {
		candidate = m
	}
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return fmt.Errorf("no valid JSON object in model response: %w", err)
	}
	return nil
}
