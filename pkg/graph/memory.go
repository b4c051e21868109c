package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/viacanvas/intelligence/pkg/models"
)

// MemoryBackend keeps the whole graph in adjacency maps guarded by one
// RWMutex. Persist checkpoints the graph to a single snapshot file; Load
// restores it at startup. An empty snapshot path disables persistence.
type MemoryBackend struct {
	logger *slog.Logger
	path   string

	mu    sync.RWMutex
	nodes map[string]*models.GraphNode
	out   map[string]map[string]*models.GraphEdge // source -> target -> edge
	in    map[string]map[string]*models.GraphEdge // target -> source -> same edge
}

// NewMemoryBackend creates an empty in-memory graph. Call Load to restore
// a previous snapshot from path.
func NewMemoryBackend(path string, logger *slog.Logger) *MemoryBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBackend{
		logger: logger.With("component", "graph", "backend", "memory"),
		path:   path,
		nodes:  make(map[string]*models.GraphNode),
		out:    make(map[string]map[string]*models.GraphEdge),
		in:     make(map[string]map[string]*models.GraphEdge),
	}
}

// AddNode inserts the node, replacing any existing node with the same id.
func (b *MemoryBackend) AddNode(ctx context.Context, node *models.GraphNode) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("add node: id required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[node.ID] = cloneNode(node)
	return nil
}

// GetNode returns a detached copy of the node.
func (b *MemoryBackend) GetNode(ctx context.Context, id string) (*models.GraphNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	node, ok := b.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
	}
	return cloneNode(node), nil
}

// GetNodes returns detached copies in input order, skipping unknown ids.
func (b *MemoryBackend) GetNodes(ctx context.Context, ids []string) ([]*models.GraphNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	nodes := make([]*models.GraphNode, 0, len(ids))
	for _, id := range ids {
		if node, ok := b.nodes[id]; ok {
			nodes = append(nodes, cloneNode(node))
		}
	}
	return nodes, nil
}

// UpdateNode replaces an existing node.
func (b *MemoryBackend) UpdateNode(ctx context.Context, node *models.GraphNode) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("update node: id required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[node.ID]; !ok {
		return fmt.Errorf("node %s: %w", node.ID, ErrNodeNotFound)
	}
	b.nodes[node.ID] = cloneNode(node)
	return nil
}

// RemoveNode deletes the node and every incident edge.
func (b *MemoryBackend) RemoveNode(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[id]; !ok {
		return fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
	}
	for target := range b.out[id] {
		delete(b.in[target], id)
	}
	for source := range b.in[id] {
		delete(b.out[source], id)
	}
	delete(b.out, id)
	delete(b.in, id)
	delete(b.nodes, id)
	return nil
}

// NodeIDs returns every node id in ascending order.
func (b *MemoryBackend) NodeIDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AddEdge stores the edge under the silent-failure contract: self-loops and
// missing endpoints return (false, nil) and log; duplicates upsert.
func (b *MemoryBackend) AddEdge(ctx context.Context, edge *models.GraphEdge) (bool, error) {
	if edge == nil || edge.SourceID == "" || edge.TargetID == "" {
		return false, fmt.Errorf("add edge: source and target required")
	}
	if edge.SourceID == edge.TargetID {
		b.logger.Warn("self-loop edge rejected", "node_id", edge.SourceID)
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[edge.SourceID]; !ok {
		b.logger.Warn("edge skipped, source missing", "source_id", edge.SourceID, "target_id", edge.TargetID)
		return false, nil
	}
	if _, ok := b.nodes[edge.TargetID]; !ok {
		b.logger.Warn("edge skipped, target missing", "source_id", edge.SourceID, "target_id", edge.TargetID)
		return false, nil
	}

	e := cloneEdge(edge)
	e.Type = e.Type.Normalize()
	if b.out[e.SourceID] == nil {
		b.out[e.SourceID] = make(map[string]*models.GraphEdge)
	}
	if b.in[e.TargetID] == nil {
		b.in[e.TargetID] = make(map[string]*models.GraphEdge)
	}
	b.out[e.SourceID][e.TargetID] = e
	b.in[e.TargetID][e.SourceID] = e
	return true, nil
}

// GetEdge returns a detached copy of the (source, target) edge.
func (b *MemoryBackend) GetEdge(ctx context.Context, sourceID, targetID string) (*models.GraphEdge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	edge, ok := b.out[sourceID][targetID]
	if !ok {
		return nil, fmt.Errorf("edge %s->%s: %w", sourceID, targetID, ErrEdgeNotFound)
	}
	return cloneEdge(edge), nil
}

// RemoveEdge deletes the (source, target) edge.
func (b *MemoryBackend) RemoveEdge(ctx context.Context, sourceID, targetID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.out[sourceID][targetID]; !ok {
		return fmt.Errorf("edge %s->%s: %w", sourceID, targetID, ErrEdgeNotFound)
	}
	delete(b.out[sourceID], targetID)
	delete(b.in[targetID], sourceID)
	return nil
}

// EdgesOf returns every edge incident to the node, outgoing first, each
// group ordered by the far endpoint id.
func (b *MemoryBackend) EdgesOf(ctx context.Context, nodeID string) ([]*models.GraphEdge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.nodes[nodeID]; !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNodeNotFound)
	}

	var edges []*models.GraphEdge
	for _, target := range sortedKeys(b.out[nodeID]) {
		edges = append(edges, cloneEdge(b.out[nodeID][target]))
	}
	for _, source := range sortedKeys(b.in[nodeID]) {
		edges = append(edges, cloneEdge(b.in[nodeID][source]))
	}
	return edges, nil
}

// FindSimilar reads the stored "similar" edges around the node in both
// directions. A pair linked in both directions scores as the larger weight.
func (b *MemoryBackend) FindSimilar(ctx context.Context, nodeID string, limit int, minSimilarity float64) ([]models.Similarity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.nodes[nodeID]; !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNodeNotFound)
	}

	best := make(map[string]float64)
	for target, edge := range b.out[nodeID] {
		if edge.Type == models.ConnectionTypeSimilar && edge.Weight >= minSimilarity {
			if s, ok := best[target]; !ok || edge.Weight > s {
				best[target] = edge.Weight
			}
		}
	}
	for source, edge := range b.in[nodeID] {
		if edge.Type == models.ConnectionTypeSimilar && edge.Weight >= minSimilarity {
			if s, ok := best[source]; !ok || edge.Weight > s {
				best[source] = edge.Weight
			}
		}
	}
	return rankSimilarities(best, limit), nil
}

// Neighborhood returns the induced fragment within depth undirected hops.
func (b *MemoryBackend) Neighborhood(ctx context.Context, nodeID string, depth int) (*Fragment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.nodes[nodeID]; !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNodeNotFound)
	}

	visited, err := bfsVisit(ctx, nodeID, depth, b.lockedNeighbors)
	if err != nil {
		return nil, err
	}
	return b.fragmentLocked(visited), nil
}

// ShortestPath returns the node ids along a shortest undirected path.
func (b *MemoryBackend) ShortestPath(ctx context.Context, fromID, toID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range []string{fromID, toID} {
		if _, ok := b.nodes[id]; !ok {
			return nil, fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
		}
	}
	return bfsPath(ctx, fromID, toID, b.lockedNeighbors)
}

// Subgraph returns the fragment induced on ids; unknown ids are skipped.
func (b *MemoryBackend) Subgraph(ctx context.Context, ids []string) (*Fragment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	visited := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := b.nodes[id]; ok {
			visited[id] = true
		}
	}
	return b.fragmentLocked(visited), nil
}

// Stats summarizes node, edge, and category counts.
func (b *MemoryBackend) Stats(ctx context.Context) (*models.GraphStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := &models.GraphStats{
		Nodes:       len(b.nodes),
		EdgesByType: make(map[string]int),
		Categories:  make(map[string]int),
	}
	for _, targets := range b.out {
		for _, edge := range targets {
			stats.Edges++
			stats.EdgesByType[string(edge.Type)]++
		}
	}
	for _, node := range b.nodes {
		if node.Category == "" {
			stats.Uncategorized++
		} else {
			stats.Categories[node.Category]++
		}
	}
	return stats, nil
}

// Persist snapshots the graph to the configured path via a temp file and an
// atomic rename. With no path configured it is a no-op.
func (b *MemoryBackend) Persist(ctx context.Context) error {
	if b.path == "" {
		b.logger.Debug("no snapshot path configured, persist skipped")
		return nil
	}

	b.mu.RLock()
	snap, err := b.snapshotLocked()
	b.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("snapshot graph: %w", err)
	}

	if err := writeSnapshot(b.path, snap); err != nil {
		return fmt.Errorf("write graph snapshot: %w", err)
	}
	b.logger.Debug("graph snapshot written", "path", b.path, "nodes", len(snap.Nodes), "edges", len(snap.Edges))
	return nil
}

// Load replaces the in-memory graph with the snapshot at the configured
// path. A missing file leaves the graph empty.
func (b *MemoryBackend) Load(ctx context.Context) error {
	if b.path == "" {
		return nil
	}
	snap, err := readSnapshot(b.path)
	if err != nil {
		return fmt.Errorf("read graph snapshot: %w", err)
	}
	if snap == nil {
		b.logger.Info("no graph snapshot found, starting empty", "path", b.path)
		return nil
	}

	nodes, out, in, err := snap.restore(b.logger)
	if err != nil {
		return fmt.Errorf("restore graph snapshot: %w", err)
	}

	b.mu.Lock()
	b.nodes, b.out, b.in = nodes, out, in
	b.mu.Unlock()
	b.logger.Info("graph snapshot loaded", "path", b.path, "nodes", len(nodes))
	return nil
}

// Close is a no-op; the memory backend holds no external resources.
func (b *MemoryBackend) Close() error { return nil }

// lockedNeighbors lists undirected neighbors. Callers hold at least mu.RLock.
func (b *MemoryBackend) lockedNeighbors(ctx context.Context, id string) ([]string, error) {
	set := make(map[string]bool, len(b.out[id])+len(b.in[id]))
	for target := range b.out[id] {
		set[target] = true
	}
	for source := range b.in[id] {
		set[source] = true
	}
	return sortedIDs(set), nil
}

// fragmentLocked builds the induced fragment for a visited set. Callers
// hold at least mu.RLock.
func (b *MemoryBackend) fragmentLocked(visited map[string]bool) *Fragment {
	frag := &Fragment{}
	for _, id := range sortedIDs(visited) {
		frag.Nodes = append(frag.Nodes, cloneNode(b.nodes[id]))
		for _, target := range sortedKeys(b.out[id]) {
			if visited[target] {
				frag.Edges = append(frag.Edges, cloneEdge(b.out[id][target]))
			}
		}
	}
	return frag
}

func (b *MemoryBackend) snapshotLocked() (*snapshot, error) {
	snap := &snapshot{Version: snapshotVersion}

	for _, id := range sortedKeys(b.nodes) {
		sn, err := newSnapshotNode(b.nodes[id])
		if err != nil {
			return nil, err
		}
		snap.Nodes = append(snap.Nodes, sn)
	}
	for _, source := range sortedKeys(b.out) {
		for _, target := range sortedKeys(b.out[source]) {
			se, err := newSnapshotEdge(b.out[source][target])
			if err != nil {
				return nil, err
			}
			snap.Edges = append(snap.Edges, se)
		}
	}
	return snap, nil
}

// rankSimilarities orders a neighbor->score map descending by score, ties
// by smaller node id, and caps the result at limit when limit > 0.
func rankSimilarities(best map[string]float64, limit int) []models.Similarity {
	ranked := make([]models.Similarity, 0, len(best))
	for id, score := range best {
		ranked = append(ranked, models.Similarity{NodeID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].NodeID < ranked[j].NodeID
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneNode(n *models.GraphNode) *models.GraphNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Embedding != nil {
		c.Embedding = make([]float32, len(n.Embedding))
		copy(c.Embedding, n.Embedding)
	}
	c.Attributes = cloneAttrs(n.Attributes)
	return &c
}

func cloneEdge(e *models.GraphEdge) *models.GraphEdge {
	if e == nil {
		return nil
	}
	c := *e
	c.Attributes = cloneAttrs(e.Attributes)
	return &c
}

// cloneAttrs copies one level deep; attribute values are treated as
// immutable JSON-style scalars and containers.
func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	c := make(map[string]any, len(attrs))
	for k, v := range attrs {
		c[k] = v
	}
	return c
}
