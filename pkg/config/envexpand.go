package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes environment variables referenced as {{.VAR}} in raw
// via.yaml bytes. Template syntax is used instead of $-substitution because
// config values here legitimately contain dollar signs: masking regexes
// ("^secret.*$") and database passwords would be mangled by a shell-style
// expander.
//
// Unset variables expand to the empty string; the validation pass reports
// the sections they leave incomplete. Content that fails to parse or
// execute as a template is returned untouched, so YAML with no template
// markers passes through.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("via.yaml").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, environMap()); err != nil {
		return data
	}
	return buf.Bytes()
}

// environMap snapshots the process environment as template data. Values
// may themselves contain '=', so only the first one splits.
func environMap() map[string]string {
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env
}
