package masking

import (
	"regexp"
	"strings"
)

// MaskedAssignmentValue is the replacement for masked assignment values.
const MaskedAssignmentValue = "[MASKED_VALUE]"

// secretKeyWords mark a variable name as credential-bearing. Matched
// case-insensitively against the assignment key.
var secretKeyWords = []string{
	"TOKEN", "SECRET", "PASSWORD", "PASSWD",
	"APIKEY", "API_KEY", "ACCESS_KEY", "PRIVATE_KEY", "CREDENTIAL",
}

// assignmentPattern matches one KEY=value or KEY: value line, tolerating
// shell "export", Dockerfile "ENV"/"ARG" prefixes and compose-style list
// dashes. Group 1 is everything up to and including the separator, group 2
// the key, group 3 the value.
var assignmentPattern = regexp.MustCompile(
	`^(\s*-?\s*(?:export\s+|ENV\s+|ARG\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*[=:]\s*)(\S.*)$`)

// EnvAssignmentMasker masks the values of credential-bearing variable
// assignments in extracted code blocks (shell exports, .env files, compose
// environment lists) while leaving other assignments and prose untouched.
type EnvAssignmentMasker struct{}

// Name returns the unique identifier for this masker.
func (m *EnvAssignmentMasker) Name() string { return "env_assignment" }

// AppliesTo performs a lightweight check on whether this masker should
// process the content.
func (m *EnvAssignmentMasker) AppliesTo(content string) bool {
	if !strings.ContainsAny(content, "=:") {
		return false
	}
	upper := strings.ToUpper(content)
	for _, word := range secretKeyWords {
		if strings.Contains(upper, word) {
			return true
		}
	}
	return false
}

// Mask rewrites credential assignments line by line. Placeholder values
// (variable references, angle-bracket fill-ins, CHANGEME-style markers) are
// documentation, not live secrets, and stay as written.
func (m *EnvAssignmentMasker) Mask(content string) string {
	lines := strings.Split(content, "\n")
	changed := false
	for i, line := range lines {
		matches := assignmentPattern.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		if !isSecretKey(matches[2]) || isPlaceholderValue(matches[3]) {
			continue
		}
		lines[i] = matches[1] + MaskedAssignmentValue
		changed = true
	}
	if !changed {
		return content
	}
	return strings.Join(lines, "\n")
}

func isSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, word := range secretKeyWords {
		if strings.Contains(upper, word) {
			return true
		}
	}
	return false
}

func isPlaceholderValue(value string) bool {
	v := strings.TrimSpace(value)
	v = strings.Trim(v, `"'`)
	if v == "" {
		return true
	}
	if strings.HasPrefix(v, "${") || strings.HasPrefix(v, "$(") || strings.HasPrefix(v, "$") {
		return true
	}
	if strings.HasPrefix(v, "<") && strings.Contains(v, ">") {
		return true
	}
	upper := strings.ToUpper(v)
	for _, marker := range []string{"YOUR", "EXAMPLE", "CHANGEME", "XXX", "PLACEHOLDER", "REPLACE"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
