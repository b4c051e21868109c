// Package cleanup enforces data retention in the background. One loop
// sweeps idle chat sessions, aged operation checkpoints, and expired
// extraction cache files on a shared interval.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/viacanvas/intelligence/pkg/config"
)

// SessionStore removes sessions idle since the cutoff.
type SessionStore interface {
	DeleteIdleBefore(cutoff time.Time) int
}

// CheckpointStore removes operation checkpoints not updated since the
// cutoff. Failed operations keep their checkpoint for resume until this
// sweep ages them out.
type CheckpointStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ExtractionCache removes cached extraction payloads older than the
// given age.
type ExtractionCache interface {
	Purge(olderThan time.Duration) (int, error)
}

// Service is the ticker-driven retention job. Each pass runs every sweep
// even when an earlier one fails; a nil store skips its sweep.
type Service struct {
	sessions    SessionStore
	checkpoints CheckpointStore
	cache       ExtractionCache
	cfg         *config.RetentionConfig
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires the retention job to the stores it sweeps.
func NewService(sessions SessionStore, checkpoints CheckpointStore, cache ExtractionCache, cfg *config.RetentionConfig, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:    sessions,
		checkpoints: checkpoints,
		cache:       cache,
		cfg:         cfg,
		logger:      logger.With("component", "cleanup"),
	}
}

// Start launches the background loop: one pass immediately, then one per
// interval. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup service started",
		"session_ttl", s.cfg.SessionTTL,
		"checkpoint_retention", s.cfg.CheckpointRetention,
		"extraction_cache_ttl", s.cfg.ExtractionCacheTTL,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.sweepSessions()
	s.sweepCheckpoints(ctx)
	s.sweepCache()
}

func (s *Service) sweepSessions() {
	if s.sessions == nil {
		return
	}
	cutoff := time.Now().UTC().Add(-s.cfg.SessionTTL)
	if count := s.sessions.DeleteIdleBefore(cutoff); count > 0 {
		s.logger.Info("removed idle sessions", "count", count)
	}
}

func (s *Service) sweepCheckpoints(ctx context.Context) {
	if s.checkpoints == nil {
		return
	}
	cutoff := time.Now().UTC().Add(-s.cfg.CheckpointRetention)
	count, err := s.checkpoints.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("checkpoint sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("removed aged operation checkpoints", "count", count)
	}
}

func (s *Service) sweepCache() {
	if s.cache == nil {
		return
	}
	count, err := s.cache.Purge(s.cfg.ExtractionCacheTTL)
	if err != nil {
		s.logger.Error("extraction cache sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("removed expired extraction cache entries", "count", count)
	}
}
