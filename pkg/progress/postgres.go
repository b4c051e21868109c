package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/viacanvas/intelligence/pkg/database"
	"github.com/viacanvas/intelligence/pkg/models"
)

const checkpointColumns = `operation_id, operation_type, canvas_id, session_id,
	current_step, total_steps, progress, message, cards_created, cancelled,
	state, started_at, updated_at`

// PostgresStore is the durable CheckpointStore backed by the
// operation_checkpoints table.
type PostgresStore struct {
	db     database.Querier
	logger *slog.Logger
}

// NewPostgresStore creates a checkpoint store over an existing query
// surface. A nil logger falls back to slog.Default.
func NewPostgresStore(db database.Querier, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger.With("component", "checkpoint_store"),
	}
}

// Save inserts or replaces the checkpoint keyed by OperationID.
func (s *PostgresStore) Save(ctx context.Context, op *models.Operation) error {
	cards, err := json.Marshal(cardsOrEmpty(op.CardsCreated))
	if err != nil {
		return fmt.Errorf("marshal cards_created: %w", err)
	}

	query := `
		INSERT INTO operation_checkpoints (` + checkpointColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (operation_id) DO UPDATE SET
			current_step = EXCLUDED.current_step,
			total_steps = EXCLUDED.total_steps,
			progress = EXCLUDED.progress,
			message = EXCLUDED.message,
			cards_created = EXCLUDED.cards_created,
			cancelled = EXCLUDED.cancelled,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(ctx, query,
		op.OperationID,
		string(op.OperationType),
		op.CanvasID,
		op.SessionID,
		op.CurrentStep,
		op.TotalSteps,
		op.Progress,
		op.Message,
		cards,
		op.Cancelled,
		stateOrEmpty(op.State),
		op.StartedAt,
		op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", op.OperationID, err)
	}
	return nil
}

// Get returns the checkpoint or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, operationID string) (*models.Operation, error) {
	query := `SELECT ` + checkpointColumns + ` FROM operation_checkpoints WHERE operation_id = $1`

	op, err := scanOperation(s.db.QueryRow(ctx, query, operationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", operationID, err)
	}
	return op, nil
}

// Delete removes the checkpoint. Deleting a missing id is not an error.
func (s *PostgresStore) Delete(ctx context.Context, operationID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM operation_checkpoints WHERE operation_id = $1`, operationID)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", operationID, err)
	}
	return nil
}

// ListIncomplete returns resumable operations, newest first. Empty
// canvasID/sessionID match everything.
func (s *PostgresStore) ListIncomplete(ctx context.Context, canvasID, sessionID string) ([]*models.Operation, error) {
	query := `SELECT ` + checkpointColumns + ` FROM operation_checkpoints
		WHERE progress < 1.0 AND cancelled = FALSE`
	var args []any
	if canvasID != "" {
		args = append(args, canvasID)
		query += fmt.Sprintf(" AND canvas_id = $%d", len(args))
	}
	if sessionID != "" {
		args = append(args, sessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incomplete checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes checkpoints not updated since the cutoff.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM operation_checkpoints WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old checkpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanOperation reads one checkpoint row. JSONB columns arrive as []byte
// and are decoded here so pgxmock rows stay plain.
func scanOperation(row pgx.Row) (*models.Operation, error) {
	var (
		op      models.Operation
		opType  string
		cards   []byte
		state   []byte
		started time.Time
		updated time.Time
	)
	err := row.Scan(
		&op.OperationID,
		&opType,
		&op.CanvasID,
		&op.SessionID,
		&op.CurrentStep,
		&op.TotalSteps,
		&op.Progress,
		&op.Message,
		&cards,
		&op.Cancelled,
		&state,
		&started,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	op.OperationType = models.OperationType(opType)
	op.StartedAt = started
	op.UpdatedAt = updated
	if len(cards) > 0 {
		if err := json.Unmarshal(cards, &op.CardsCreated); err != nil {
			return nil, fmt.Errorf("unmarshal cards_created: %w", err)
		}
	}
	if len(state) > 0 && string(state) != "{}" {
		op.State = json.RawMessage(state)
	}
	return &op, nil
}

func cardsOrEmpty(cards []string) []string {
	if cards == nil {
		return []string{}
	}
	return cards
}

func stateOrEmpty(state json.RawMessage) []byte {
	if len(state) == 0 {
		return []byte("{}")
	}
	return state
}
