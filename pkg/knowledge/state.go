// Package knowledge is the write path of the knowledge graph. It owns the
// card lifecycle on top of a graph.Backend: content normalization,
// embedding, similar-link computation, parent suggestion, issue detection,
// and a bounded change log that drives the snapshot cadence.
//
// The layer below (pkg/graph) is dumb storage; the layer above (pkg/sync,
// pkg/tools, pkg/correction) never touches the backend directly for writes.
package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/graph"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/vector"
)

const (
	lockStripes    = 32
	changeLogLimit = 1000
	topSimilarTake = 5

	// duplicateIssueFloor is the issue-detection bound. It is stricter than
	// Thresholds.Duplicate, which governs suggestion-time flagging: a hard
	// issue report needs near-identity, not mere high overlap.
	duplicateIssueFloor = 0.95
)

// CardInput is the card payload handed to AddCard and UpdateCard. Content
// is raw; normalization happens inside.
type CardInput struct {
	ID         string
	CanvasID   string
	Title      string
	Content    string
	Category   string
	Attributes map[string]any
}

// State mutates the knowledge graph. Writes to the same card id are
// serialized through a striped mutex; writes to different cards may
// interleave, which is safe because the backend clones on read and each
// similar-link recompute works from a consistent node listing.
type State struct {
	backend    graph.Backend
	embedder   llm.Embedder
	graphCfg   *config.GraphConfig
	thresholds *config.Thresholds
	logger     *slog.Logger

	locks [lockStripes]sync.Mutex

	mu           sync.Mutex // guards changes and sincePersist
	changes      []ChangeEntry
	sincePersist int
}

// NewState wires a graph backend and an embedder into a knowledge state.
func NewState(backend graph.Backend, embedder llm.Embedder, graphCfg *config.GraphConfig, thresholds *config.Thresholds, logger *slog.Logger) *State {
	return &State{
		backend:    backend,
		embedder:   embedder,
		graphCfg:   graphCfg,
		thresholds: thresholds,
		logger:     logger.With("component", "knowledge"),
	}
}

// AddCard embeds the card, inserts its node, and links it to its nearest
// neighbors. Up to MaxSimilarLinks "similar" out-edges with score >=
// MinSimilarityArc are stored; when the top neighbor scores >=
// PreferParent, a parent-child in-edge from that neighbor is added as well.
//
// An id already in the graph upserts the node and recomputes its similar
// links. Embedding or similarity failure returns before the node is
// touched, so a failed add leaves the graph unchanged.
func (s *State) AddCard(ctx context.Context, in CardInput) (*AddResult, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("add card: id is required")
	}
	lock := s.lockFor(in.ID)
	lock.Lock()
	defer lock.Unlock()

	normalized := NormalizeContent(in.Content)
	emb, err := s.embed(ctx, in.Title, normalized)
	if err != nil {
		return nil, fmt.Errorf("add card %s: %w", in.ID, err)
	}
	sims, err := s.similarities(ctx, in.ID, emb)
	if err != nil {
		return nil, fmt.Errorf("add card %s: %w", in.ID, err)
	}

	now := time.Now().UTC()
	node := &models.GraphNode{
		ID:         in.ID,
		CanvasID:   in.CanvasID,
		Title:      in.Title,
		Content:    normalized,
		Embedding:  emb,
		Category:   in.Category,
		Attributes: in.Attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.backend.AddNode(ctx, node); err != nil {
		return nil, fmt.Errorf("add card %s: %w", in.ID, err)
	}
	// Upsert path: drop similar links from a previous life of this id.
	if err := s.removeSimilarEdges(ctx, in.ID); err != nil {
		return nil, fmt.Errorf("add card %s: %w", in.ID, err)
	}
	if err := s.linkSimilar(ctx, in.ID, sims); err != nil {
		return nil, fmt.Errorf("add card %s: %w", in.ID, err)
	}
	if len(sims) > 0 && sims[0].Score >= s.thresholds.PreferParent {
		if _, err := s.AddParentEdge(ctx, sims[0].NodeID, in.ID, sims[0].Score); err != nil {
			return nil, fmt.Errorf("add card %s: %w", in.ID, err)
		}
	}

	s.recordChange(ctx, ChangeAdd, in.ID)
	return s.buildResult(in.ID, sims), nil
}

// UpdateCard rewrites a card's node. When the normalized content changed,
// all prior similar edges around the node (both directions) are dropped and
// recomputed from a fresh embedding; otherwise the stored links stand and
// the result is read from them. Parent-child edges are never touched here:
// hierarchy moves belong to the user or to the correction job.
func (s *State) UpdateCard(ctx context.Context, in CardInput) (*AddResult, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("update card: id is required")
	}
	lock := s.lockFor(in.ID)
	lock.Lock()
	defer lock.Unlock()

	node, err := s.backend.GetNode(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("update card %s: %w", in.ID, err)
	}

	normalized := NormalizeContent(in.Content)
	contentChanged := normalized != node.Content

	node.Title = in.Title
	node.Content = normalized
	if in.CanvasID != "" {
		node.CanvasID = in.CanvasID
	}
	if in.Category != "" {
		node.Category = in.Category
	}
	if in.Attributes != nil {
		node.Attributes = in.Attributes
	}
	node.UpdatedAt = time.Now().UTC()

	var sims []models.Similarity
	if contentChanged {
		emb, err := s.embed(ctx, in.Title, normalized)
		if err != nil {
			return nil, fmt.Errorf("update card %s: %w", in.ID, err)
		}
		node.Embedding = emb
		sims, err = s.similarities(ctx, in.ID, emb)
		if err != nil {
			return nil, fmt.Errorf("update card %s: %w", in.ID, err)
		}
	}

	if err := s.backend.UpdateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("update card %s: %w", in.ID, err)
	}
	if contentChanged {
		if err := s.removeSimilarEdges(ctx, in.ID); err != nil {
			return nil, fmt.Errorf("update card %s: %w", in.ID, err)
		}
		if err := s.linkSimilar(ctx, in.ID, sims); err != nil {
			return nil, fmt.Errorf("update card %s: %w", in.ID, err)
		}
	} else {
		sims, err = s.backend.FindSimilar(ctx, in.ID, 0, s.graphCfg.MinSimilarityArc)
		if err != nil {
			return nil, fmt.Errorf("update card %s: %w", in.ID, err)
		}
	}

	s.recordChange(ctx, ChangeUpdate, in.ID)
	return s.buildResult(in.ID, sims), nil
}

// RemoveCard deletes the node and every incident edge.
func (s *State) RemoveCard(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.backend.RemoveNode(ctx, id); err != nil {
		return fmt.Errorf("remove card %s: %w", id, err)
	}
	s.recordChange(ctx, ChangeRemove, id)
	return nil
}

// SetCategory writes the classifier's (or the user's) category onto a node.
func (s *State) SetCategory(ctx context.Context, id, category string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	node, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return fmt.Errorf("set category on %s: %w", id, err)
	}
	if node.Category == category {
		return nil
	}
	node.Category = category
	node.UpdatedAt = time.Now().UTC()
	if err := s.backend.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("set category on %s: %w", id, err)
	}
	s.recordChange(ctx, ChangeCategory, id)
	return nil
}

// SetAttributes merges key/value pairs into a node's attribute map. Used by
// the correction job for duplicate markers and auto-correction stamps.
func (s *State) SetAttributes(ctx context.Context, id string, attrs map[string]any) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	node, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return fmt.Errorf("set attributes on %s: %w", id, err)
	}
	if node.Attributes == nil {
		node.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		node.Attributes[k] = v
	}
	node.UpdatedAt = time.Now().UTC()
	if err := s.backend.UpdateNode(ctx, node); err != nil {
		return fmt.Errorf("set attributes on %s: %w", id, err)
	}
	s.recordChange(ctx, ChangeUpdate, id)
	return nil
}

// AddParentEdge inserts a parent-child edge, refusing a second parent: a
// child with an existing parent-child in-edge keeps it and the call returns
// (false, nil). The backend additionally drops self-loops and missing
// endpoints under its own silent-failure contract.
func (s *State) AddParentEdge(ctx context.Context, parentID, childID string, weight float64) (bool, error) {
	edges, err := s.backend.EdgesOf(ctx, childID)
	if err != nil {
		return false, err
	}
	for _, e := range edges {
		if e.Type == models.ConnectionTypeParentChild && e.TargetID == childID {
			return false, nil
		}
	}
	return s.backend.AddEdge(ctx, &models.GraphEdge{
		SourceID: parentID,
		TargetID: childID,
		Type:     models.ConnectionTypeParentChild,
		Weight:   weight,
	})
}

// AddTypedEdge mirrors a canvas connection of any type into the graph.
// The default type normalizes to parent-child and routes through
// AddParentEdge so the single-parent rule holds; every other type writes
// through under the backend's silent-failure contract.
func (s *State) AddTypedEdge(ctx context.Context, sourceID, targetID string, connType models.ConnectionType, weight float64) (bool, error) {
	t := connType.Normalize()
	if t == models.ConnectionTypeParentChild {
		return s.AddParentEdge(ctx, sourceID, targetID, weight)
	}
	return s.backend.AddEdge(ctx, &models.GraphEdge{
		SourceID: sourceID,
		TargetID: targetID,
		Type:     t,
		Weight:   weight,
	})
}

// RemoveEdge deletes one directed edge. Missing edges are not an error;
// the weak-link pruner races user deletions and must stay idempotent.
func (s *State) RemoveEdge(ctx context.Context, sourceID, targetID string) error {
	err := s.backend.RemoveEdge(ctx, sourceID, targetID)
	if err != nil && err != graph.ErrEdgeNotFound {
		return err
	}
	return nil
}

// GetCard returns a detached copy of a node.
func (s *State) GetCard(ctx context.Context, id string) (*models.GraphNode, error) {
	return s.backend.GetNode(ctx, id)
}

// FindSimilar reads the stored similar links around a card.
func (s *State) FindSimilar(ctx context.Context, id string, limit int) ([]models.Similarity, error) {
	return s.backend.FindSimilar(ctx, id, limit, s.graphCfg.MinSimilarityArc)
}

// Neighborhood returns the fragment within depth hops of a card.
func (s *State) Neighborhood(ctx context.Context, id string, depth int) (*graph.Fragment, error) {
	return s.backend.Neighborhood(ctx, id, depth)
}

// ShortestPath returns the node ids along a shortest undirected path.
func (s *State) ShortestPath(ctx context.Context, fromID, toID string) ([]string, error) {
	return s.backend.ShortestPath(ctx, fromID, toID)
}

// Stats summarizes the graph.
func (s *State) Stats(ctx context.Context) (*models.GraphStats, error) {
	return s.backend.Stats(ctx)
}

// FindParentCandidate scans the graph for the node most similar to the
// given embedding, optionally restricted to one category, and returns it
// when its score reaches minScore. Extraction uses this to attach a new
// cluster under existing material; nil means nothing qualified.
func (s *State) FindParentCandidate(ctx context.Context, embedding []float32, category string, minScore float64) (*models.Similarity, error) {
	ids, err := s.backend.NodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := s.backend.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	var best *models.Similarity
	for _, n := range nodes {
		if len(n.Embedding) == 0 {
			continue
		}
		if category != "" && n.Category != category {
			continue
		}
		score := vector.Cosine(embedding, n.Embedding)
		if score < minScore {
			continue
		}
		if best == nil || score > best.Score || (score == best.Score && n.ID < best.NodeID) {
			best = &models.Similarity{NodeID: n.ID, Score: score}
		}
	}
	return best, nil
}

// MemberContents lists the stored content of a category's member cards,
// most recently updated first, capped at limit. The category manager uses
// this to refresh profile keywords and snippets from current members.
func (s *State) MemberContents(ctx context.Context, category string, limit int) ([]string, error) {
	ids, err := s.backend.NodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := s.backend.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	members := nodes[:0]
	for _, n := range nodes {
		if n.Category == category && n.Content != "" {
			members = append(members, n)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].UpdatedAt.Equal(members[j].UpdatedAt) {
			return members[i].UpdatedAt.After(members[j].UpdatedAt)
		}
		return members[i].ID < members[j].ID
	})
	if limit > 0 && len(members) > limit {
		members = members[:limit]
	}
	out := make([]string, len(members))
	for i, n := range members {
		out[i] = n.Content
	}
	return out, nil
}

// DetectIssues sweeps the whole graph and reports structural problems:
// cards outside any hierarchy, similar edges below the weak threshold,
// near-identical pairs, and uncategorized cards. Output ordering is
// deterministic so repeated sweeps diff cleanly.
func (s *State) DetectIssues(ctx context.Context) (*models.GraphIssues, error) {
	ids, err := s.backend.NodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := s.backend.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}

	type edgeKey struct{ src, dst string }
	edges := make(map[edgeKey]*models.GraphEdge)
	inHierarchy := make(map[string]bool)
	for _, id := range ids {
		incident, err := s.backend.EdgesOf(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, e := range incident {
			edges[edgeKey{e.SourceID, e.TargetID}] = e
			if e.Type == models.ConnectionTypeParentChild {
				inHierarchy[e.SourceID] = true
				inHierarchy[e.TargetID] = true
			}
		}
	}

	issues := &models.GraphIssues{}
	for _, n := range nodes {
		if !inHierarchy[n.ID] {
			issues.OrphanedCards = append(issues.OrphanedCards, n.ID)
		}
		if n.Category == "" || n.Category == models.UncategorizedName {
			issues.Uncategorized = append(issues.Uncategorized, n.ID)
		}
	}
	sort.Strings(issues.OrphanedCards)
	sort.Strings(issues.Uncategorized)

	dupSeen := make(map[[2]string]bool)
	keys := make([]edgeKey, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].src != keys[j].src {
			return keys[i].src < keys[j].src
		}
		return keys[i].dst < keys[j].dst
	})
	for _, k := range keys {
		e := edges[k]
		if e.Type != models.ConnectionTypeSimilar {
			continue
		}
		if e.Weight < s.thresholds.WeakEdge {
			issues.WeakConnections = append(issues.WeakConnections, *e)
		}
		if e.Weight > duplicateIssueFloor {
			pair := [2]string{e.SourceID, e.TargetID}
			if pair[0] > pair[1] {
				pair[0], pair[1] = pair[1], pair[0]
			}
			if !dupSeen[pair] {
				dupSeen[pair] = true
				issues.PotentialDuplicates = append(issues.PotentialDuplicates, pair)
			}
		}
	}
	return issues, nil
}

// Changes returns a copy of the in-memory change log, oldest first.
func (s *State) Changes() []ChangeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChangeEntry, len(s.changes))
	copy(out, s.changes)
	return out
}

// Persist forces a backend snapshot, independent of the change cadence.
func (s *State) Persist(ctx context.Context) error {
	return s.backend.Persist(ctx)
}

// NormalizeContent strips markup and collapses whitespace. The normalized
// form is what gets embedded and stored as node content, so similarity is
// about words, not formatting.
func NormalizeContent(content string) string {
	stripped := tagPattern.ReplaceAllString(content, " ")
	return strings.Join(strings.Fields(stripped), " ")
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func (s *State) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *State) embed(ctx context.Context, title, normalized string) ([]float32, error) {
	text := normalized
	if title != "" {
		text = title + "\n\n" + normalized
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: got %d vectors for one text", len(vecs))
	}
	return vecs[0], nil
}

// similarities scores the embedding against every other node that has one,
// keeping scores >= MinSimilarityArc, sorted descending with ties broken by
// smaller node id.
func (s *State) similarities(ctx context.Context, selfID string, embedding []float32) ([]models.Similarity, error) {
	ids, err := s.backend.NodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := s.backend.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	sims := make([]models.Similarity, 0, len(nodes))
	for _, n := range nodes {
		if n.ID == selfID || len(n.Embedding) == 0 {
			continue
		}
		score := vector.Cosine(embedding, n.Embedding)
		if score < s.graphCfg.MinSimilarityArc {
			continue
		}
		sims = append(sims, models.Similarity{NodeID: n.ID, Score: score})
	}
	sort.Slice(sims, func(i, j int) bool {
		if sims[i].Score != sims[j].Score {
			return sims[i].Score > sims[j].Score
		}
		return sims[i].NodeID < sims[j].NodeID
	})
	return sims, nil
}

func (s *State) linkSimilar(ctx context.Context, id string, sims []models.Similarity) error {
	limit := min(len(sims), s.graphCfg.MaxSimilarLinks)
	for _, sim := range sims[:limit] {
		if _, err := s.backend.AddEdge(ctx, &models.GraphEdge{
			SourceID: id,
			TargetID: sim.NodeID,
			Type:     models.ConnectionTypeSimilar,
			Weight:   sim.Score,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) removeSimilarEdges(ctx context.Context, id string) error {
	edges, err := s.backend.EdgesOf(ctx, id)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.Type != models.ConnectionTypeSimilar {
			continue
		}
		if err := s.backend.RemoveEdge(ctx, e.SourceID, e.TargetID); err != nil && err != graph.ErrEdgeNotFound {
			return err
		}
	}
	return nil
}

func (s *State) buildResult(id string, sims []models.Similarity) *AddResult {
	res := &AddResult{CardID: id}
	res.TopSimilar = append(res.TopSimilar, sims[:min(len(sims), topSimilarTake)]...)
	if len(sims) > 0 && sims[0].Score >= s.thresholds.MinParent {
		res.SuggestedParent = sims[0].NodeID
	}
	for _, sim := range sims {
		if sim.Score < s.thresholds.StrongConn {
			break
		}
		connType := models.ConnectionTypeRelated
		if sim.Score >= s.thresholds.Duplicate {
			connType = models.ConnectionTypeSimilar
		}
		res.Suggestions = append(res.Suggestions, ConnectionSuggestion{
			SourceID: id,
			TargetID: sim.NodeID,
			Type:     connType,
			Score:    sim.Score,
		})
	}
	return res
}

// recordChange appends to the change log and snapshots the backend every
// PersistEvery entries. Snapshot failure is logged, never surfaced: losing
// a checkpoint must not fail the write that triggered it.
func (s *State) recordChange(ctx context.Context, op ChangeOp, cardID string) {
	s.mu.Lock()
	if len(s.changes) >= changeLogLimit {
		s.changes = s.changes[1:]
	}
	s.changes = append(s.changes, ChangeEntry{Op: op, CardID: cardID, Timestamp: time.Now().UTC()})
	s.sincePersist++
	persist := s.graphCfg.PersistEvery > 0 && s.sincePersist >= s.graphCfg.PersistEvery
	if persist {
		s.sincePersist = 0
	}
	s.mu.Unlock()

	if persist {
		if err := s.backend.Persist(ctx); err != nil {
			s.logger.Warn("graph snapshot failed", "error", err)
		}
	}
}
