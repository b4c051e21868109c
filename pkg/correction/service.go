// Package correction runs the periodic self-correction job over the
// knowledge graph. Each pass works in three phases: detect structural
// issues (orphaned cards, weak similar edges, uncategorized cards,
// potential duplicates), propose a bounded set of fixes, and apply them.
// Applied fixes stamp the touched nodes with auto_corrected=true so users
// can tell machine-chosen structure from their own. Duplicates are only
// ever flagged, never merged.
package correction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viacanvas/intelligence/pkg/category"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/knowledge"
	"github.com/viacanvas/intelligence/pkg/models"
)

// Node attribute keys written by the apply phase.
const (
	attrAutoCorrected = "auto_corrected"
	attrDuplicateOf   = "potential_duplicate_of"
)

const (
	kindAttachParent   = "attach_parent"
	kindRemoveWeakEdge = "remove_weak_edge"
	kindFillCategory   = "fill_category"
	kindFlagDuplicate  = "flag_duplicate"
)

// action is one proposed fix. The propose phase never mutates; everything
// a fix needs at apply time is captured here.
type action struct {
	kind     string
	cardID   string
	parentID string
	sourceID string
	targetID string
	score    float64

	// category fill only
	text      string
	embedding []float32
	decision  *category.Decision
}

// PassSummary records one pass for the bounded history. Detection counts
// are pre-cap; Proposed/Applied/Skipped/Failed describe what the pass
// actually did.
type PassSummary struct {
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	Orphans       int            `json:"orphans"`
	WeakEdges     int            `json:"weak_edges"`
	Uncategorized int            `json:"uncategorized"`
	Duplicates    int            `json:"duplicates"`
	Proposed      int            `json:"proposed"`
	Applied       int            `json:"applied"`
	Skipped       int            `json:"skipped"`
	Failed        int            `json:"failed"`
	AppliedByKind map[string]int `json:"applied_by_kind,omitempty"`
}

// Service is the ticker-driven self-correction job. A pass never fails the
// loop: individual fix errors are logged and counted, and the next tick
// starts fresh.
type Service struct {
	state      *knowledge.State
	categories *category.Manager
	cfg        *config.CorrectionConfig
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	history []PassSummary
}

// NewService wires the job to the graph state and the category system.
func NewService(state *knowledge.State, categories *category.Manager, cfg *config.CorrectionConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		state:      state,
		categories: categories,
		cfg:        cfg,
		logger:     logger.With("component", "correction"),
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

	s.logger.Info("correction job started", "interval", s.cfg.Interval)
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("correction job stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.pass(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Service) pass(ctx context.Context) {
	if _, err := s.RunPass(ctx); err != nil {
		s.logger.Error("correction pass failed", "error", err)
	}
}

// RunPass executes one detect-propose-apply cycle and records its summary.
func (s *Service) RunPass(ctx context.Context) (*PassSummary, error) {
	start := time.Now()

	issues, err := s.state.DetectIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect issues: %w", err)
	}

	actions := s.propose(ctx, issues)

	summary := &PassSummary{
		StartedAt:     start.UTC(),
		Orphans:       len(issues.OrphanedCards),
		WeakEdges:     len(issues.WeakConnections),
		Uncategorized: len(issues.Uncategorized),
		Duplicates:    len(issues.PotentialDuplicates),
		Proposed:      len(actions),
		AppliedByKind: make(map[string]int),
	}

	for _, act := range actions {
		if ctx.Err() != nil {
			break
		}
		applied, err := s.apply(ctx, act)
		switch {
		case err != nil:
			summary.Failed++
			s.logger.Error("correction not applied",
				"kind", act.kind, "card_id", act.cardID,
				"source_id", act.sourceID, "target_id", act.targetID,
				"error", err)
		case applied:
			summary.Applied++
			summary.AppliedByKind[act.kind]++
		default:
			summary.Skipped++
		}
	}

	if err := s.state.Persist(ctx); err != nil {
		s.logger.Error("graph persist after pass failed", "error", err)
	}

	summary.Duration = time.Since(start)
	s.record(*summary)

	s.logger.Info("correction pass finished",
		"orphans", summary.Orphans,
		"weak_edges", summary.WeakEdges,
		"uncategorized", summary.Uncategorized,
		"duplicates", summary.Duplicates,
		"proposed", summary.Proposed,
		"applied", summary.Applied,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.Duration)
	return summary, nil
}

// History returns a copy of the retained pass summaries, oldest first.
func (s *Service) History() []PassSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PassSummary, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) record(summary PassSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, summary)
	if limit := s.cfg.HistoryLimit; limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

func (s *Service) propose(ctx context.Context, issues *models.GraphIssues) []action {
	var actions []action
	actions = append(actions, s.proposeParents(ctx, issues.OrphanedCards)...)
	actions = append(actions, s.proposeEdgeRemovals(issues.WeakConnections)...)
	actions = append(actions, s.proposeCategoryFills(ctx, issues.Uncategorized)...)
	actions = append(actions, s.proposeDuplicateFlags(ctx, issues.PotentialDuplicates)...)
	return actions
}

// proposeParents picks the best stored similar neighbor as the parent for
// each orphan. Orphans with no similar neighbor are left alone; there is
// nothing credible to attach them to.
func (s *Service) proposeParents(ctx context.Context, orphans []string) []action {
	orphans = capped(orphans, s.cfg.MaxOrphans)
	out := make([]action, 0, len(orphans))
	for _, id := range orphans {
		sims, err := s.state.FindSimilar(ctx, id, 1)
		if err != nil {
			s.logger.Warn("similar lookup for orphan failed", "card_id", id, "error", err)
			continue
		}
		if len(sims) == 0 {
			continue
		}
		out = append(out, action{
			kind:     kindAttachParent,
			cardID:   id,
			parentID: sims[0].NodeID,
			score:    sims[0].Score,
		})
	}
	return out
}

func (s *Service) proposeEdgeRemovals(weak []models.GraphEdge) []action {
	weak = capped(weak, s.cfg.MaxWeakEdges)
	out := make([]action, 0, len(weak))
	for _, e := range weak {
		out = append(out, action{
			kind:     kindRemoveWeakEdge,
			sourceID: e.SourceID,
			targetID: e.TargetID,
			score:    e.Weight,
		})
	}
	return out
}

// proposeCategoryFills classifies each uncategorized card with the stored
// embedding. A decision that lands back on the sentinel proposes nothing:
// the status quo needs no action.
func (s *Service) proposeCategoryFills(ctx context.Context, ids []string) []action {
	ids = capped(ids, s.cfg.MaxCategory)
	out := make([]action, 0, len(ids))
	for _, id := range ids {
		node, err := s.state.GetCard(ctx, id)
		if err != nil {
			s.logger.Warn("uncategorized card vanished", "card_id", id, "error", err)
			continue
		}
		text := classifyText(node.Title, node.Content)
		decision, _, err := s.categories.Classify(ctx, text, node.Embedding)
		if err != nil {
			s.logger.Warn("classification failed", "card_id", id, "error", err)
			continue
		}
		if decision.Action == category.ActionUncategorized {
			continue
		}
		out = append(out, action{
			kind:      kindFillCategory,
			cardID:    id,
			text:      text,
			embedding: node.Embedding,
			decision:  decision,
		})
	}
	return out
}

// proposeDuplicateFlags skips pairs whose markers are already in place so
// repeated passes over an unchanged graph settle at zero applied actions.
func (s *Service) proposeDuplicateFlags(ctx context.Context, pairs [][2]string) []action {
	pairs = capped(pairs, s.cfg.MaxDuplicate)
	out := make([]action, 0, len(pairs))
	for _, pair := range pairs {
		if s.flagged(ctx, pair[0], pair[1]) && s.flagged(ctx, pair[1], pair[0]) {
			continue
		}
		out = append(out, action{
			kind:     kindFlagDuplicate,
			sourceID: pair[0],
			targetID: pair[1],
		})
	}
	return out
}

func (s *Service) flagged(ctx context.Context, id, other string) bool {
	node, err := s.state.GetCard(ctx, id)
	if err != nil || node.Attributes == nil {
		return false
	}
	v, _ := node.Attributes[attrDuplicateOf].(string)
	return v == other
}

// apply executes one fix. The false, nil return means the graph moved
// between detect and apply and the fix no longer holds (for example the
// orphan gained a parent); that is a skip, not a failure.
func (s *Service) apply(ctx context.Context, act action) (bool, error) {
	switch act.kind {
	case kindAttachParent:
		added, err := s.state.AddParentEdge(ctx, act.parentID, act.cardID, act.score)
		if err != nil {
			return false, err
		}
		if !added {
			return false, nil
		}
		return true, s.state.SetAttributes(ctx, act.cardID, map[string]any{attrAutoCorrected: true})

	case kindRemoveWeakEdge:
		return true, s.state.RemoveEdge(ctx, act.sourceID, act.targetID)

	case kindFillCategory:
		name, err := s.categories.Assign(ctx, act.text, act.embedding, act.decision)
		if err != nil {
			return false, err
		}
		if err := s.state.SetCategory(ctx, act.cardID, name); err != nil {
			return false, err
		}
		return true, s.state.SetAttributes(ctx, act.cardID, map[string]any{attrAutoCorrected: true})

	case kindFlagDuplicate:
		if err := s.state.SetAttributes(ctx, act.sourceID, map[string]any{
			attrAutoCorrected: true,
			attrDuplicateOf:   act.targetID,
		}); err != nil {
			return false, err
		}
		return true, s.state.SetAttributes(ctx, act.targetID, map[string]any{
			attrAutoCorrected: true,
			attrDuplicateOf:   act.sourceID,
		})
	}
	return false, fmt.Errorf("unknown action kind %q", act.kind)
}

func classifyText(title, content string) string {
	if title == "" {
		return content
	}
	return title + "\n\n" + content
}

func capped[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
