package tools

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Args holds one tool call's parsed arguments. Getters coerce across the
// types models actually emit: JSON numbers arrive as float64, numeric
// strings arrive quoted, booleans arrive as words.
type Args map[string]any

// Has reports whether the key is present.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// String returns the value as a string, or "" when absent or not
// representable.
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// StringOr returns the value as a string, or def when absent or empty.
func (a Args) StringOr(key, def string) string {
	if s := a.String(key); s != "" {
		return s
	}
	return def
}

// Int returns the value as an int, coercing float64 and numeric strings.
func (a Args) Int(key string) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return 0
}

// IntOr returns the value as an int, or def when absent or zero.
func (a Args) IntOr(key string, def int) int {
	if !a.Has(key) {
		return def
	}
	if i := a.Int(key); i != 0 {
		return i
	}
	return def
}

// Float returns the value as a float64, coercing ints and numeric strings.
func (a Args) Float(key string) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return 0
}

// Bool returns the value as a bool, coercing the strings "true"/"false".
func (a Args) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

// StringSlice returns the value as a string slice. A bare string becomes a
// one-element slice; non-string elements are skipped.
func (a Args) StringSlice(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, el := range v {
			if s, ok := el.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	}
	return nil
}

// ParseArguments parses the raw argument string of a tool call.
//
// Cascade, first successful parse wins:
//  1. JSON object → the map itself
//  2. JSON non-object (string, number, array) → {"input": value}
//  3. key: value / key=value pairs, comma or newline separated
//  4. raw string → {"input": string}
//
// Function-calling providers emit JSON, so stage 1 handles nearly every
// call; the later stages absorb degenerate model output instead of failing
// the turn. Empty input yields an empty Args for no-parameter tools.
func ParseArguments(raw string) (Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Args{}, nil
	}
	if args, ok := parseJSON(raw); ok {
		return args, nil
	}
	if args, ok := parseKeyValues(raw); ok {
		return args, nil
	}
	return Args{"input": raw}, nil
}

// parseJSON accepts any valid JSON document, wrapping non-objects under
// "input".
func parseJSON(raw string) (Args, bool) {
	// First byte must be able to start a JSON document; plain prose is
	// rejected without a full parse attempt.
	b := raw[0]
	start := b == '{' || b == '[' || b == '"' || b == '-' ||
		(b >= '0' && b <= '9') || b == 't' || b == 'f' || b == 'n'
	if !start {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return Args(m), true
	}
	return Args{"input": v}, true
}

// parseKeyValues parses "key: value" or "key=value" pairs separated by
// commas or newlines. Any unparseable part rejects the whole input; it then
// falls through to the raw-string wrap, which loses structure but never
// invents it.
func parseKeyValues(raw string) (Args, bool) {
	normalized := strings.ReplaceAll(raw, "\n", ",")
	args := Args{}
	for _, part := range strings.Split(normalized, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := splitPair(part)
		if !ok {
			return nil, false
		}
		args[key] = coerceScalar(value)
	}
	if len(args) == 0 {
		return nil, false
	}
	return args, true
}

func splitPair(part string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		if idx := strings.Index(part, sep); idx > 0 {
			k := strings.TrimSpace(part[:idx])
			if k != "" && !strings.Contains(k, " ") {
				return k, strings.TrimSpace(part[idx+1:]), true
			}
		}
	}
	return "", "", false
}

// coerceScalar converts a bare string value to the JSON type it spells.
func coerceScalar(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
