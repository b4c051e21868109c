package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/viacanvas/intelligence/pkg/models"
)

// edgeSep joins (source, target) into edge keys and index members. Card ids
// are UUIDs assigned by the canvas service and never contain it.
const edgeSep = "|"

// RedisBackend stores the graph in Redis: one JSON value per node and edge,
// sets for adjacency, a sorted set per node as the secondary index on
// similarity weight, and sets as the secondary index on category. Redis is
// durable on its own, so Persist and Load are no-ops.
type RedisBackend struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// NewRedisBackend connects to the Redis instance at addr.
func NewRedisBackend(addr string, db int, logger *slog.Logger) *RedisBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		logger: logger.With("component", "graph", "backend", "redis"),
		prefix: "kg:",
	}
}

func (b *RedisBackend) nodesKey() string            { return b.prefix + "nodes" }
func (b *RedisBackend) nodeKey(id string) string    { return b.prefix + "node:" + id }
func (b *RedisBackend) outKey(id string) string     { return b.prefix + "out:" + id }
func (b *RedisBackend) inKey(id string) string      { return b.prefix + "in:" + id }
func (b *RedisBackend) similarKey(id string) string { return b.prefix + "similar:" + id }
func (b *RedisBackend) categoriesKey() string       { return b.prefix + "categories" }
func (b *RedisBackend) categoryKey(c string) string { return b.prefix + "category:" + c }
func (b *RedisBackend) edgeTypesKey() string        { return b.prefix + "edgetypes" }

func (b *RedisBackend) edgeKey(sourceID, targetID string) string {
	return b.prefix + "edge:" + sourceID + edgeSep + targetID
}

func edgeMember(sourceID, targetID string) string {
	return sourceID + edgeSep + targetID
}

// AddNode upserts the node and maintains the category index.
func (b *RedisBackend) AddNode(ctx context.Context, node *models.GraphNode) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("add node: id required")
	}
	return b.setNode(ctx, node)
}

// GetNode fetches and decodes one node.
func (b *RedisBackend) GetNode(ctx context.Context, id string) (*models.GraphNode, error) {
	data, err := b.client.Get(ctx, b.nodeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
		}
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	var node models.GraphNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", id, err)
	}
	return &node, nil
}

// GetNodes bulk-fetches with one MGET, in input order, skipping unknown ids.
func (b *RedisBackend) GetNodes(ctx context.Context, ids []string) ([]*models.GraphNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.nodeKey(id)
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch nodes: %w", err)
	}

	nodes := make([]*models.GraphNode, 0, len(ids))
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			continue
		}
		var node models.GraphNode
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			return nil, fmt.Errorf("decode node %s: %w", ids[i], err)
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

// UpdateNode replaces an existing node.
func (b *RedisBackend) UpdateNode(ctx context.Context, node *models.GraphNode) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("update node: id required")
	}
	exists, err := b.client.SIsMember(ctx, b.nodesKey(), node.ID).Result()
	if err != nil {
		return fmt.Errorf("check node %s: %w", node.ID, err)
	}
	if !exists {
		return fmt.Errorf("node %s: %w", node.ID, ErrNodeNotFound)
	}
	return b.setNode(ctx, node)
}

func (b *RedisBackend) setNode(ctx context.Context, node *models.GraphNode) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", node.ID, err)
	}

	prev, err := b.GetNode(ctx, node.ID)
	if err != nil && !errors.Is(err, ErrNodeNotFound) {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.SAdd(ctx, b.nodesKey(), node.ID)
	pipe.Set(ctx, b.nodeKey(node.ID), data, 0)
	if prev != nil && prev.Category != "" && prev.Category != node.Category {
		pipe.SRem(ctx, b.categoryKey(prev.Category), node.ID)
	}
	if node.Category != "" {
		pipe.SAdd(ctx, b.categoriesKey(), node.Category)
		pipe.SAdd(ctx, b.categoryKey(node.Category), node.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store node %s: %w", node.ID, err)
	}
	return nil
}

// RemoveNode deletes the node, its incident edges, and its index entries.
func (b *RedisBackend) RemoveNode(ctx context.Context, id string) error {
	node, err := b.GetNode(ctx, id)
	if err != nil {
		return err
	}

	incident, err := b.incidentEdges(ctx, id)
	if err != nil {
		return err
	}

	pipe := b.client.Pipeline()
	for _, edge := range incident {
		pipe.Del(ctx, b.edgeKey(edge.SourceID, edge.TargetID))
		pipe.HIncrBy(ctx, b.edgeTypesKey(), string(edge.Type), -1)
		if edge.SourceID == id {
			pipe.SRem(ctx, b.inKey(edge.TargetID), id)
		} else {
			pipe.SRem(ctx, b.outKey(edge.SourceID), id)
		}
		if edge.Type == models.ConnectionTypeSimilar {
			member := edgeMember(edge.SourceID, edge.TargetID)
			pipe.ZRem(ctx, b.similarKey(edge.SourceID), member)
			pipe.ZRem(ctx, b.similarKey(edge.TargetID), member)
		}
	}
	pipe.Del(ctx, b.outKey(id), b.inKey(id), b.similarKey(id), b.nodeKey(id))
	pipe.SRem(ctx, b.nodesKey(), id)
	if node.Category != "" {
		pipe.SRem(ctx, b.categoryKey(node.Category), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove node %s: %w", id, err)
	}
	return nil
}

// NodeIDs returns every node id in ascending order.
func (b *RedisBackend) NodeIDs(ctx context.Context) ([]string, error) {
	ids, err := b.client.SMembers(ctx, b.nodesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// AddEdge stores the edge under the silent-failure contract and keeps the
// type counters and similarity index in step.
func (b *RedisBackend) AddEdge(ctx context.Context, edge *models.GraphEdge) (bool, error) {
	if edge == nil || edge.SourceID == "" || edge.TargetID == "" {
		return false, fmt.Errorf("add edge: source and target required")
	}
	if edge.SourceID == edge.TargetID {
		b.logger.Warn("self-loop edge rejected", "node_id", edge.SourceID)
		return false, nil
	}

	for _, id := range []string{edge.SourceID, edge.TargetID} {
		exists, err := b.client.SIsMember(ctx, b.nodesKey(), id).Result()
		if err != nil {
			return false, fmt.Errorf("check node %s: %w", id, err)
		}
		if !exists {
			b.logger.Warn("edge skipped, endpoint missing",
				"source_id", edge.SourceID, "target_id", edge.TargetID, "missing", id)
			return false, nil
		}
	}

	e := *edge
	e.Type = e.Type.Normalize()
	data, err := json.Marshal(&e)
	if err != nil {
		return false, fmt.Errorf("encode edge %s->%s: %w", e.SourceID, e.TargetID, err)
	}

	prev, err := b.GetEdge(ctx, e.SourceID, e.TargetID)
	if err != nil && !errors.Is(err, ErrEdgeNotFound) {
		return false, err
	}

	member := edgeMember(e.SourceID, e.TargetID)
	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.edgeKey(e.SourceID, e.TargetID), data, 0)
	pipe.SAdd(ctx, b.outKey(e.SourceID), e.TargetID)
	pipe.SAdd(ctx, b.inKey(e.TargetID), e.SourceID)
	switch {
	case prev == nil:
		pipe.HIncrBy(ctx, b.edgeTypesKey(), string(e.Type), 1)
	case prev.Type != e.Type:
		pipe.HIncrBy(ctx, b.edgeTypesKey(), string(prev.Type), -1)
		pipe.HIncrBy(ctx, b.edgeTypesKey(), string(e.Type), 1)
	}
	if prev != nil && prev.Type == models.ConnectionTypeSimilar && e.Type != models.ConnectionTypeSimilar {
		pipe.ZRem(ctx, b.similarKey(e.SourceID), member)
		pipe.ZRem(ctx, b.similarKey(e.TargetID), member)
	}
	if e.Type == models.ConnectionTypeSimilar {
		pipe.ZAdd(ctx, b.similarKey(e.SourceID), redis.Z{Score: e.Weight, Member: member})
		pipe.ZAdd(ctx, b.similarKey(e.TargetID), redis.Z{Score: e.Weight, Member: member})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("store edge %s->%s: %w", e.SourceID, e.TargetID, err)
	}
	return true, nil
}

// GetEdge fetches and decodes the (source, target) edge.
func (b *RedisBackend) GetEdge(ctx context.Context, sourceID, targetID string) (*models.GraphEdge, error) {
	data, err := b.client.Get(ctx, b.edgeKey(sourceID, targetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("edge %s->%s: %w", sourceID, targetID, ErrEdgeNotFound)
		}
		return nil, fmt.Errorf("get edge %s->%s: %w", sourceID, targetID, err)
	}
	var edge models.GraphEdge
	if err := json.Unmarshal(data, &edge); err != nil {
		return nil, fmt.Errorf("decode edge %s->%s: %w", sourceID, targetID, err)
	}
	return &edge, nil
}

// RemoveEdge deletes the edge and its index entries.
func (b *RedisBackend) RemoveEdge(ctx context.Context, sourceID, targetID string) error {
	edge, err := b.GetEdge(ctx, sourceID, targetID)
	if err != nil {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.edgeKey(sourceID, targetID))
	pipe.SRem(ctx, b.outKey(sourceID), targetID)
	pipe.SRem(ctx, b.inKey(targetID), sourceID)
	pipe.HIncrBy(ctx, b.edgeTypesKey(), string(edge.Type), -1)
	if edge.Type == models.ConnectionTypeSimilar {
		member := edgeMember(sourceID, targetID)
		pipe.ZRem(ctx, b.similarKey(sourceID), member)
		pipe.ZRem(ctx, b.similarKey(targetID), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove edge %s->%s: %w", sourceID, targetID, err)
	}
	return nil
}

// EdgesOf returns every edge incident to the node, outgoing first, each
// group ordered by the far endpoint id.
func (b *RedisBackend) EdgesOf(ctx context.Context, nodeID string) ([]*models.GraphEdge, error) {
	if err := b.requireNode(ctx, nodeID); err != nil {
		return nil, err
	}
	return b.incidentEdges(ctx, nodeID)
}

// FindSimilar reads the similarity index around the node. A pair linked in
// both directions scores as the larger weight.
func (b *RedisBackend) FindSimilar(ctx context.Context, nodeID string, limit int, minSimilarity float64) ([]models.Similarity, error) {
	if err := b.requireNode(ctx, nodeID); err != nil {
		return nil, err
	}

	entries, err := b.client.ZRevRangeByScoreWithScores(ctx, b.similarKey(nodeID), &redis.ZRangeBy{
		Min: strconv.FormatFloat(minSimilarity, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("similarity index %s: %w", nodeID, err)
	}

	best := make(map[string]float64, len(entries))
	for _, z := range entries {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		source, target, ok := splitEdgeMember(member)
		if !ok {
			continue
		}
		neighbor := source
		if source == nodeID {
			neighbor = target
		}
		if s, seen := best[neighbor]; !seen || z.Score > s {
			best[neighbor] = z.Score
		}
	}
	return rankSimilarities(best, limit), nil
}

// Neighborhood returns the induced fragment within depth undirected hops.
func (b *RedisBackend) Neighborhood(ctx context.Context, nodeID string, depth int) (*Fragment, error) {
	if err := b.requireNode(ctx, nodeID); err != nil {
		return nil, err
	}
	visited, err := bfsVisit(ctx, nodeID, depth, b.neighbors)
	if err != nil {
		return nil, err
	}
	return b.fragment(ctx, visited)
}

// ShortestPath returns the node ids along a shortest undirected path.
func (b *RedisBackend) ShortestPath(ctx context.Context, fromID, toID string) ([]string, error) {
	for _, id := range []string{fromID, toID} {
		if err := b.requireNode(ctx, id); err != nil {
			return nil, err
		}
	}
	return bfsPath(ctx, fromID, toID, b.neighbors)
}

// Subgraph returns the fragment induced on ids; unknown ids are skipped.
func (b *RedisBackend) Subgraph(ctx context.Context, ids []string) (*Fragment, error) {
	visited := make(map[string]bool, len(ids))
	for _, id := range ids {
		exists, err := b.client.SIsMember(ctx, b.nodesKey(), id).Result()
		if err != nil {
			return nil, fmt.Errorf("check node %s: %w", id, err)
		}
		if exists {
			visited[id] = true
		}
	}
	return b.fragment(ctx, visited)
}

// Stats summarizes node, edge, and category counts from the live indexes.
func (b *RedisBackend) Stats(ctx context.Context) (*models.GraphStats, error) {
	nodes, err := b.client.SCard(ctx, b.nodesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}

	stats := &models.GraphStats{
		Nodes:       int(nodes),
		EdgesByType: make(map[string]int),
		Categories:  make(map[string]int),
	}

	typeCounts, err := b.client.HGetAll(ctx, b.edgeTypesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("edge type counts: %w", err)
	}
	for typ, raw := range typeCounts {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			continue
		}
		stats.EdgesByType[typ] = n
		stats.Edges += n
	}

	categories, err := b.client.SMembers(ctx, b.categoriesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	categorized := 0
	for _, category := range categories {
		n, err := b.client.SCard(ctx, b.categoryKey(category)).Result()
		if err != nil {
			return nil, fmt.Errorf("count category %s: %w", category, err)
		}
		if n > 0 {
			stats.Categories[category] = int(n)
			categorized += int(n)
		}
	}
	if stats.Nodes > categorized {
		stats.Uncategorized = stats.Nodes - categorized
	}
	return stats, nil
}

// Persist is a no-op; Redis is the durable store.
func (b *RedisBackend) Persist(ctx context.Context) error { return nil }

// Load is a no-op; the graph lives in Redis already.
func (b *RedisBackend) Load(ctx context.Context) error { return nil }

// Close releases the Redis connection pool.
func (b *RedisBackend) Close() error { return b.client.Close() }

func (b *RedisBackend) requireNode(ctx context.Context, id string) error {
	exists, err := b.client.SIsMember(ctx, b.nodesKey(), id).Result()
	if err != nil {
		return fmt.Errorf("check node %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("node %s: %w", id, ErrNodeNotFound)
	}
	return nil
}

// neighbors lists undirected neighbors, deduplicated and sorted.
func (b *RedisBackend) neighbors(ctx context.Context, id string) ([]string, error) {
	set := make(map[string]bool)
	for _, key := range []string{b.outKey(id), b.inKey(id)} {
		members, err := b.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("adjacency %s: %w", id, err)
		}
		for _, m := range members {
			set[m] = true
		}
	}
	return sortedIDs(set), nil
}

// incidentEdges fetches all edges touching the node, outgoing first, each
// group ordered by the far endpoint id.
func (b *RedisBackend) incidentEdges(ctx context.Context, nodeID string) ([]*models.GraphEdge, error) {
	targets, err := b.client.SMembers(ctx, b.outKey(nodeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("adjacency %s: %w", nodeID, err)
	}
	sources, err := b.client.SMembers(ctx, b.inKey(nodeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("adjacency %s: %w", nodeID, err)
	}
	sort.Strings(targets)
	sort.Strings(sources)

	keys := make([]string, 0, len(targets)+len(sources))
	for _, target := range targets {
		keys = append(keys, b.edgeKey(nodeID, target))
	}
	for _, source := range sources {
		keys = append(keys, b.edgeKey(source, nodeID))
	}
	return b.fetchEdges(ctx, keys)
}

// fragment assembles the induced fragment for a visited set.
func (b *RedisBackend) fragment(ctx context.Context, visited map[string]bool) (*Fragment, error) {
	frag := &Fragment{}
	ids := sortedIDs(visited)
	if len(ids) == 0 {
		return frag, nil
	}

	nodeKeys := make([]string, len(ids))
	for i, id := range ids {
		nodeKeys[i] = b.nodeKey(id)
	}
	vals, err := b.client.MGet(ctx, nodeKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch nodes: %w", err)
	}
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			continue
		}
		var node models.GraphNode
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			return nil, fmt.Errorf("decode node %s: %w", ids[i], err)
		}
		frag.Nodes = append(frag.Nodes, &node)
	}

	var edgeKeys []string
	for _, id := range ids {
		targets, err := b.client.SMembers(ctx, b.outKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("adjacency %s: %w", id, err)
		}
		sort.Strings(targets)
		for _, target := range targets {
			if visited[target] {
				edgeKeys = append(edgeKeys, b.edgeKey(id, target))
			}
		}
	}
	if len(edgeKeys) > 0 {
		frag.Edges, err = b.fetchEdges(ctx, edgeKeys)
		if err != nil {
			return nil, err
		}
	}
	return frag, nil
}

func (b *RedisBackend) fetchEdges(ctx context.Context, keys []string) ([]*models.GraphEdge, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch edges: %w", err)
	}
	var edges []*models.GraphEdge
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			// Adjacency raced an edge removal; skip the dangling entry.
			continue
		}
		var edge models.GraphEdge
		if err := json.Unmarshal([]byte(raw), &edge); err != nil {
			return nil, fmt.Errorf("decode edge %s: %w", keys[i], err)
		}
		edges = append(edges, &edge)
	}
	return edges, nil
}

func splitEdgeMember(member string) (source, target string, ok bool) {
	return strings.Cut(member, edgeSep)
}
