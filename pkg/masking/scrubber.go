// Package masking scrubs credential-shaped values from extracted content
// before it is cached or handed to a model provider. Extracted web pages
// routinely embed live keys in code snippets and config examples; those
// values must never reach the cache on disk or an outbound provider call.
package masking

import "log/slog"

// Scrubber applies code-based maskers and a regex sweep to extracted
// content. Created once at application startup; thread-safe and stateless
// aside from compiled patterns.
type Scrubber struct {
	patterns []*CompiledPattern
	maskers  []Masker
	logger   *slog.Logger
}

// NewScrubber compiles the builtin patterns and registers the code-based
// maskers. Invalid patterns are logged and skipped, never fatal.
func NewScrubber(logger *slog.Logger) *Scrubber {
	log := logger.With("component", "masking")
	s := &Scrubber{
		patterns: compilePatterns(log),
		logger:   log,
	}
	s.register(&EnvAssignmentMasker{})

	log.Info("scrubber initialized",
		"patterns", len(s.patterns),
		"code_maskers", len(s.maskers))
	return s
}

// Scrub returns the content with secrets replaced by masking markers.
// Code-based maskers run first (structural awareness), then the regex
// patterns sweep whatever remains. Content matching nothing is returned
// unchanged.
func (s *Scrubber) Scrub(content string) string {
	if content == "" {
		return content
	}
	masked := content
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

func (s *Scrubber) register(m Masker) {
	s.maskers = append(s.maskers, m)
}
