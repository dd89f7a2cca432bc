package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/store"
)

// PostgresCheckpointStore implements the store.CheckpointStore interface
// using PostgreSQL.
type PostgresCheckpointStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresCheckpointStore creates a new PostgreSQL implementation of the
// CheckpointStore interface.
func NewPostgresCheckpointStore(db store.DBTX, logger *slog.Logger) *PostgresCheckpointStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresCheckpointStore{
		db:     db,
		logger: logger.With(slog.String("component", "checkpoint_store")),
	}
}

// Ensure PostgresCheckpointStore implements store.CheckpointStore interface
var _ store.CheckpointStore = (*PostgresCheckpointStore)(nil)

// SaveCheckpoint inserts or replaces the checkpoint for a task.
func (s *PostgresCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *store.BatchCheckpoint) error {
	checkpoint.UpdatedAt = time.Now().UTC()

	var failedItems any
	if len(checkpoint.FailedItems) > 0 {
		failedItems = []byte(checkpoint.FailedItems)
	}

	query := `
		INSERT INTO batch_checkpoints (task_id, cursor, processed_count, failed_count, failed_items, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE
		SET cursor = EXCLUDED.cursor,
			processed_count = EXCLUDED.processed_count,
			failed_count = EXCLUDED.failed_count,
			failed_items = EXCLUDED.failed_items,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		checkpoint.TaskID,
		checkpoint.Cursor,
		checkpoint.ProcessedCount,
		checkpoint.FailedCount,
		failedItems,
		checkpoint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", MapError(err))
	}

	return nil
}

// GetCheckpoint retrieves the checkpoint for a task.
func (s *PostgresCheckpointStore) GetCheckpoint(ctx context.Context, taskID uuid.UUID) (*store.BatchCheckpoint, error) {
	query := `
		SELECT task_id, cursor, processed_count, failed_count, failed_items, updated_at
		FROM batch_checkpoints
		WHERE task_id = $1
	`

	var (
		checkpoint  store.BatchCheckpoint
		failedItems []byte
	)
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(
		&checkpoint.TaskID,
		&checkpoint.Cursor,
		&checkpoint.ProcessedCount,
		&checkpoint.FailedCount,
		&failedItems,
		&checkpoint.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", MapError(err))
	}

	checkpoint.FailedItems = failedItems

	return &checkpoint, nil
}

// DeleteCheckpoint removes a task's checkpoint.
func (s *PostgresCheckpointStore) DeleteCheckpoint(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM batch_checkpoints WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", MapError(err))
	}

	return nil
}
