package config

import "time"

// QueueConfig contains worker pool configuration for long-running
// operations (URL extraction, card growth, deep research).
type QueueConfig struct {
	// WorkerCount is the number of operation worker goroutines.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentOperations bounds operations in flight at once.
	MaxConcurrentOperations int `yaml:"max_concurrent_operations"`

	// OperationTimeout is the maximum wall-clock time for one operation.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active
	// operations to checkpoint and stop during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanCutoff is how stale an incomplete checkpoint must be at boot
	// before it is marked failed (crash recovery).
	OrphanCutoff time.Duration `yaml:"orphan_cutoff"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             4,
		MaxConcurrentOperations: 8,
		OperationTimeout:        10 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		OrphanCutoff:            1 * time.Hour,
	}
}
