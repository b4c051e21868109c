package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// SessionTTL is how long an idle session survives before the cleanup
	// loop garbage-collects it.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// CheckpointRetention is the maximum age of a retained (failed)
	// operation checkpoint before deletion.
	CheckpointRetention time.Duration `yaml:"checkpoint_retention"`

	// ExtractionCacheTTL mirrors the extraction cache TTL for the cleanup
	// loop that removes expired cache files from disk.
	ExtractionCacheTTL time.Duration `yaml:"extraction_cache_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SessionTTL:          DefaultSessionTTL,
		CheckpointRetention: DefaultCheckpointRetention,
		ExtractionCacheTTL:  DefaultExtractionTTL,
		CleanupInterval:     DefaultCleanupInterval,
	}
}
