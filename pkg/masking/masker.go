package masking

// Masker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching. Code-based maskers understand a
// specific content shape (shell exports, env files, config assignments) and
// mask values without mangling the surrounding prose.
type Masker interface {
	// Name returns the unique identifier for this masker.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker
	// should process the content. Should be fast (string contains, not
	// parsing).
	AppliesTo(content string) bool

	// Mask applies masking logic and returns the masked result.
	// Must be defensive: return original content on parse errors.
	Mask(content string) string
}
