// Package graph provides the pluggable storage backends for the knowledge
// graph: a directed graph of card nodes and typed, weighted edges.
//
// Two implementations share one interface:
//
//   - MemoryBackend: adjacency maps guarded by a RWMutex, checkpointed to a
//     single snapshot file. Suited to canvases up to roughly 10k nodes.
//   - RedisBackend: the same operations over Redis structures, with
//     secondary indexes on similarity weight and category.
//
// Backends are dumb storage. They never touch timestamps, never compute
// embeddings, and hold the only authoritative node/edge tables; higher
// layers (pkg/knowledge, pkg/correction) refer to nodes by id only.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/models"
)

var (
	// ErrNodeNotFound is returned when a node id is not in the graph.
	ErrNodeNotFound = errors.New("graph: node not found")
	// ErrEdgeNotFound is returned when no edge exists for a (source, target) pair.
	ErrEdgeNotFound = errors.New("graph: edge not found")
	// ErrNoPath is returned by ShortestPath when the endpoints exist but are
	// not connected.
	ErrNoPath = errors.New("graph: no path between nodes")
)

// Fragment is a detached copy of part of the graph: a node set plus the
// edges induced on it. Nodes are sorted by id and edges by (source, target)
// so fragments compare deterministically.
type Fragment struct {
	Nodes []*models.GraphNode `json:"nodes"`
	Edges []*models.GraphEdge `json:"edges,omitempty"`
}

// Backend is the capability set every graph store implements.
//
// AddNode upserts; UpdateNode requires the node to exist. AddEdge follows
// the silent-failure contract: a self-loop or a missing endpoint returns
// (false, nil) and logs, a duplicate (source, target) pair upserts type,
// weight, and attributes. Reads return detached copies the caller may
// mutate freely.
type Backend interface {
	AddNode(ctx context.Context, node *models.GraphNode) error
	GetNode(ctx context.Context, id string) (*models.GraphNode, error)
	// GetNodes bulk-fetches in input order; unknown ids are skipped.
	GetNodes(ctx context.Context, ids []string) ([]*models.GraphNode, error)
	UpdateNode(ctx context.Context, node *models.GraphNode) error
	RemoveNode(ctx context.Context, id string) error
	NodeIDs(ctx context.Context) ([]string, error)

	AddEdge(ctx context.Context, edge *models.GraphEdge) (bool, error)
	GetEdge(ctx context.Context, sourceID, targetID string) (*models.GraphEdge, error)
	RemoveEdge(ctx context.Context, sourceID, targetID string) error
	EdgesOf(ctx context.Context, nodeID string) ([]*models.GraphEdge, error)

	// FindSimilar reads the pre-computed "similar" edges around nodeID,
	// combining out- and in-neighbors. Results are sorted by score
	// descending, ties broken by smaller node id, filtered to
	// score >= minSimilarity and capped at limit (limit <= 0 means no cap).
	FindSimilar(ctx context.Context, nodeID string, limit int, minSimilarity float64) ([]models.Similarity, error)

	// Neighborhood returns the fragment reachable from nodeID within depth
	// hops, treating edges as undirected. Depth 0 is the node alone.
	Neighborhood(ctx context.Context, nodeID string, depth int) (*Fragment, error)

	// ShortestPath returns the node ids along a shortest undirected path
	// from fromID to toID, inclusive of both endpoints.
	ShortestPath(ctx context.Context, fromID, toID string) ([]string, error)

	// Subgraph returns the fragment induced on ids. Unknown ids are skipped.
	Subgraph(ctx context.Context, ids []string) (*Fragment, error)

	Stats(ctx context.Context) (*models.GraphStats, error)

	// Persist writes the full graph to durable storage; Load restores it.
	// Backends whose storage is already durable treat both as no-ops.
	Persist(ctx context.Context) error
	Load(ctx context.Context) error

	Close() error
}

// New builds the backend selected by the configuration.
func New(cfg *config.GraphConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.GraphBackendRedis:
		return NewRedisBackend(cfg.RedisAddr, cfg.RedisDB, logger), nil
	case config.GraphBackendMemory, "":
		return NewMemoryBackend(cfg.SnapshotPath, logger), nil
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Backend)
	}
}
