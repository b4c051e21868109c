package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
)

// EntityTypeCard is the entity type for canvas cards, the default when a
// caller does not say otherwise.
const EntityTypeCard = "card"

// Store is the retrieval surface the core consumes.
type Store interface {
	// IndexCard chunks, embeds and indexes content for an entity.
	// Re-indexing unchanged content is a no-op unless force is set.
	IndexCard(ctx context.Context, id, content, canvasID, entityType string, metadata map[string]any, force bool) error
	// DeleteCardIndex removes a card's vectors and marks its record deleted.
	DeleteCardIndex(ctx context.Context, id string) error
	// Search returns scored chunks filtered by canvas and/or entity type.
	Search(ctx context.Context, query, canvasID, entityType string, topK int, scoreThreshold float64) ([]models.SearchResult, error)
	// RetrieveContext returns a formatted context block for prompts, or ""
	// when nothing relevant is indexed.
	RetrieveContext(ctx context.Context, query, canvasID string, topK int, scoreThreshold float64) (string, error)
}

// Service is the reference Store implementation: word chunker, pkg/llm
// embeddings, in-memory vectors and a pluggable index tracker.
type Service struct {
	chunker  *Chunker
	embedder llm.Embedder
	vectors  *VectorStore
	tracker  Tracker
	cfg      *config.RAGConfig
	model    string
	logger   *slog.Logger
}

// NewService creates the reference store. The model identifier is recorded
// on index records so a provider change is visible in the tracker.
func NewService(embedder llm.Embedder, tracker Tracker, cfg *config.RAGConfig, model string, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultRAGConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder: embedder,
		vectors:  NewVectorStore(),
		tracker:  tracker,
		cfg:      cfg,
		model:    model,
		logger:   logger.With("component", "rag"),
	}
}

// IndexCard chunks, embeds and indexes the content. When the tracker holds
// an indexed record with the same content hash and the vectors are still
// loaded, the call is a no-op unless force is set. A failure keeps the old
// vectors searchable, marks the record failed, bumps its retry count and
// retains the error.
func (s *Service) IndexCard(ctx context.Context, id, content, canvasID, entityType string, metadata map[string]any, force bool) error {
	if entityType == "" {
		entityType = EntityTypeCard
	}
	hash := hashContent(content)
	now := time.Now().UTC()

	rec, err := s.tracker.Get(ctx, id, entityType)
	switch {
	case err == nil && rec.Status != models.IndexStatusDeleted:
		if !force && rec.Status == models.IndexStatusIndexed &&
			rec.ContentHash == hash && s.vectors.Contains(rec.PointIDs) {
			return nil
		}
	case err == nil:
		// A deleted record is reused as if new.
		rec = nil
	case errors.Is(err, ErrRecordNotFound):
		rec = nil
	default:
		return err
	}

	if rec == nil {
		rec = &models.IndexRecord{
			EntityID:   id,
			EntityType: entityType,
			CreatedAt:  now,
		}
	}
	rec.CanvasID = canvasID
	rec.Status = models.IndexStatusPending
	rec.UpdatedAt = now
	if err := s.tracker.Save(ctx, rec); err != nil {
		return fmt.Errorf("track pending index: %w", err)
	}

	chunks := s.chunker.Split(content)
	embeddings, err := s.embedChunks(ctx, chunks)
	if err != nil {
		rec.Status = models.IndexStatusFailed
		rec.RetryCount++
		rec.Error = err.Error()
		rec.UpdatedAt = time.Now().UTC()
		if saveErr := s.tracker.Save(ctx, rec); saveErr != nil {
			s.logger.Warn("failed to record index failure", "entity_id", id, "error", saveErr)
		}
		return fmt.Errorf("index %s/%s: %w", id, entityType, err)
	}

	points := make([]Point, len(chunks))
	pointIDs := make([]string, len(chunks))
	for i, chunk := range chunks {
		pid := uuid.NewString()
		pointIDs[i] = pid
		points[i] = Point{
			ID:         pid,
			EntityID:   id,
			EntityType: entityType,
			CanvasID:   canvasID,
			Content:    chunk,
			ChunkIndex: i,
			Embedding:  embeddings[i],
			Metadata:   metadata,
		}
	}

	// Old vectors are replaced only after the new ones exist.
	s.vectors.Delete(rec.PointIDs)
	s.vectors.Upsert(points)

	rec.ContentHash = hash
	rec.ChunkCount = len(chunks)
	rec.PointIDs = pointIDs
	rec.Model = s.model
	rec.Status = models.IndexStatusIndexed
	rec.RetryCount = 0
	rec.Error = ""
	rec.UpdatedAt = time.Now().UTC()
	if err := s.tracker.Save(ctx, rec); err != nil {
		return fmt.Errorf("track indexed state: %w", err)
	}

	s.logger.Debug("indexed entity",
		"entity_id", id,
		"entity_type", entityType,
		"chunks", len(chunks))
	return nil
}

// DeleteCardIndex removes the card's vectors and marks its record deleted.
// Deleting a card that was never indexed is a no-op.
func (s *Service) DeleteCardIndex(ctx context.Context, id string) error {
	rec, err := s.tracker.Get(ctx, id, EntityTypeCard)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if rec.Status == models.IndexStatusDeleted {
		return nil
	}

	s.vectors.Delete(rec.PointIDs)
	rec.Status = models.IndexStatusDeleted
	rec.PointIDs = nil
	rec.ChunkCount = 0
	rec.UpdatedAt = time.Now().UTC()
	return s.tracker.Save(ctx, rec)
}

// Search embeds the query and returns scored chunks, best first.
func (s *Service) Search(ctx context.Context, query, canvasID, entityType string, topK int, scoreThreshold float64) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	filter := Filter{CanvasID: canvasID, EntityType: entityType}
	return s.vectors.Search(vecs[0], filter, topK, scoreThreshold), nil
}

// RetrieveContext searches across all entity types on a canvas and formats
// the hits as a numbered context block for prompts.
func (s *Service) RetrieveContext(ctx context.Context, query, canvasID string, topK int, scoreThreshold float64) (string, error) {
	results, err := s.Search(ctx, query, canvasID, "", topK, scoreThreshold)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[%d] Source: %s\nContent: %s", i+1, r.EntityID, r.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// embedChunks embeds all chunks in one provider call. No chunks (blank
// content) yields no embeddings.
func (s *Service) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	return vecs, nil
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
