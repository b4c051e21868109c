package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/viacanvas/intelligence/pkg/database"
	"github.com/viacanvas/intelligence/pkg/models"
)

// PostgresTracker is the durable Tracker backed by the rag_index_records
// table.
type PostgresTracker struct {
	db     database.Querier
	logger *slog.Logger
}

// NewPostgresTracker creates a tracker over an existing query surface. A
// nil logger falls back to slog.Default.
func NewPostgresTracker(db database.Querier, logger *slog.Logger) *PostgresTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTracker{
		db:     db,
		logger: logger.With("component", "rag_tracker"),
	}
}

// Get returns the record or ErrRecordNotFound.
func (t *PostgresTracker) Get(ctx context.Context, entityID, entityType string) (*models.IndexRecord, error) {
	query := `SELECT entity_id, entity_type, canvas_id, content_hash, chunk_count,
			point_ids, model, status, retry_count, error, created_at, updated_at
		FROM rag_index_records WHERE entity_id = $1 AND entity_type = $2`

	var (
		rec      models.IndexRecord
		status   string
		pointIDs []byte
	)
	err := t.db.QueryRow(ctx, query, entityID, entityType).Scan(
		&rec.EntityID,
		&rec.EntityType,
		&rec.CanvasID,
		&rec.ContentHash,
		&rec.ChunkCount,
		&pointIDs,
		&rec.Model,
		&status,
		&rec.RetryCount,
		&rec.Error,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get index record %s/%s: %w", entityID, entityType, err)
	}

	rec.Status = models.IndexStatus(status)
	if len(pointIDs) > 0 {
		if err := json.Unmarshal(pointIDs, &rec.PointIDs); err != nil {
			return nil, fmt.Errorf("unmarshal point_ids: %w", err)
		}
	}
	return &rec, nil
}

// Save inserts or replaces the record for its (entity_id, entity_type).
func (t *PostgresTracker) Save(ctx context.Context, rec *models.IndexRecord) error {
	pointIDs, err := json.Marshal(pointsOrEmpty(rec.PointIDs))
	if err != nil {
		return fmt.Errorf("marshal point_ids: %w", err)
	}

	query := `
		INSERT INTO rag_index_records (entity_id, entity_type, canvas_id,
			content_hash, chunk_count, point_ids, model, status, retry_count,
			error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (entity_id, entity_type) DO UPDATE SET
			canvas_id = EXCLUDED.canvas_id,
			content_hash = EXCLUDED.content_hash,
			chunk_count = EXCLUDED.chunk_count,
			point_ids = EXCLUDED.point_ids,
			model = EXCLUDED.model,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`

	_, err = t.db.Exec(ctx, query,
		rec.EntityID,
		rec.EntityType,
		rec.CanvasID,
		rec.ContentHash,
		rec.ChunkCount,
		pointIDs,
		rec.Model,
		string(rec.Status),
		rec.RetryCount,
		rec.Error,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save index record %s/%s: %w", rec.EntityID, rec.EntityType, err)
	}
	return nil
}

func pointsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
