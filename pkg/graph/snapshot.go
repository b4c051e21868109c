package graph

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/viacanvas/intelligence/pkg/models"
)

const snapshotVersion = 1

// snapshot is the on-disk form of the memory backend. Nodes are ordered by
// id and edges by (source, target), and attribute maps are flattened to
// JSON (which sorts keys), so encoding the same graph twice yields the same
// bytes. The envelope carries no timestamps for the same reason.
type snapshot struct {
	Version int
	Nodes   []snapshotNode
	Edges   []snapshotEdge
}

type snapshotNode struct {
	ID        string
	CanvasID  string
	Title     string
	Content   string
	Embedding []float32
	Category  string
	Attrs     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

type snapshotEdge struct {
	SourceID string
	TargetID string
	Type     string
	Weight   float64
	Attrs    []byte
}

func newSnapshotNode(n *models.GraphNode) (snapshotNode, error) {
	attrs, err := encodeAttrs(n.Attributes)
	if err != nil {
		return snapshotNode{}, fmt.Errorf("node %s attributes: %w", n.ID, err)
	}
	return snapshotNode{
		ID:        n.ID,
		CanvasID:  n.CanvasID,
		Title:     n.Title,
		Content:   n.Content,
		Embedding: n.Embedding,
		Category:  n.Category,
		Attrs:     attrs,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}, nil
}

func newSnapshotEdge(e *models.GraphEdge) (snapshotEdge, error) {
	attrs, err := encodeAttrs(e.Attributes)
	if err != nil {
		return snapshotEdge{}, fmt.Errorf("edge %s->%s attributes: %w", e.SourceID, e.TargetID, err)
	}
	return snapshotEdge{
		SourceID: e.SourceID,
		TargetID: e.TargetID,
		Type:     string(e.Type),
		Weight:   e.Weight,
		Attrs:    attrs,
	}, nil
}

// restore rebuilds the adjacency maps. Edges whose endpoints are missing
// from the snapshot are dropped with a warning rather than failing the load.
func (s *snapshot) restore(logger *slog.Logger) (map[string]*models.GraphNode, map[string]map[string]*models.GraphEdge, map[string]map[string]*models.GraphEdge, error) {
	nodes := make(map[string]*models.GraphNode, len(s.Nodes))
	out := make(map[string]map[string]*models.GraphEdge)
	in := make(map[string]map[string]*models.GraphEdge)

	for _, sn := range s.Nodes {
		attrs, err := decodeAttrs(sn.Attrs)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("node %s attributes: %w", sn.ID, err)
		}
		nodes[sn.ID] = &models.GraphNode{
			ID:         sn.ID,
			CanvasID:   sn.CanvasID,
			Title:      sn.Title,
			Content:    sn.Content,
			Embedding:  sn.Embedding,
			Category:   sn.Category,
			Attributes: attrs,
			CreatedAt:  sn.CreatedAt,
			UpdatedAt:  sn.UpdatedAt,
		}
	}

	for _, se := range s.Edges {
		if nodes[se.SourceID] == nil || nodes[se.TargetID] == nil {
			logger.Warn("snapshot edge with missing endpoint dropped",
				"source_id", se.SourceID, "target_id", se.TargetID)
			continue
		}
		attrs, err := decodeAttrs(se.Attrs)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("edge %s->%s attributes: %w", se.SourceID, se.TargetID, err)
		}
		edge := &models.GraphEdge{
			SourceID:   se.SourceID,
			TargetID:   se.TargetID,
			Type:       models.ConnectionType(se.Type),
			Weight:     se.Weight,
			Attributes: attrs,
		}
		if out[edge.SourceID] == nil {
			out[edge.SourceID] = make(map[string]*models.GraphEdge)
		}
		if in[edge.TargetID] == nil {
			in[edge.TargetID] = make(map[string]*models.GraphEdge)
		}
		out[edge.SourceID][edge.TargetID] = edge
		in[edge.TargetID][edge.SourceID] = edge
	}
	return nodes, out, in, nil
}

func encodeAttrs(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		return nil, nil
	}
	return json.Marshal(attrs)
}

func decodeAttrs(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// writeSnapshot encodes to a temp file in the target directory and renames
// it over the destination so readers never observe a partial snapshot.
func writeSnapshot(path string, snap *snapshot) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// readSnapshot returns (nil, nil) when the file does not exist.
func readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}
