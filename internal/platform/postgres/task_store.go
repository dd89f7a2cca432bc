package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/platform/logger"
	"github.com/imagevault/imagevault/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
// The tasks table is the durable ledger; claims are made with
// FOR UPDATE SKIP LOCKED so concurrent workers never observe the same task
// as pending.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the
// TaskStore interface. It accepts a database connection or transaction that
// should be initialized and managed by the caller.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

const taskColumns = `id, type, status, payload, result, error_message, created_at, updated_at, completed_at`

// SaveTask persists a new task to the ledger.
func (s *PostgresTaskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during save",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (id, type, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.Status,
		[]byte(task.Payload),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save task",
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", string(task.Type)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to save task: %w", MapError(err))
	}

	return nil
}

// GetTask retrieves a task by ID.
func (s *PostgresTaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}

	return task, nil
}

// ClaimNextPending atomically claims the oldest pending task. The inner
// SELECT locks the candidate row with SKIP LOCKED, so two workers claiming
// concurrently always receive different tasks (or ErrNoPendingTasks).
func (s *PostgresTaskStore) ClaimNextPending(ctx context.Context) (*domain.Task, error) {
	query := fmt.Sprintf(`
		UPDATE tasks
		SET status = $1, updated_at = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $3
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query,
		domain.TaskStatusProcessing,
		time.Now().UTC(),
		domain.TaskStatusPending,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoPendingTasks
		}
		return nil, fmt.Errorf("failed to claim task: %w", MapError(err))
	}

	return task, nil
}

// MarkCompleted transitions a processing task to completed with its result.
func (s *PostgresTaskStore) MarkCompleted(ctx context.Context, taskID uuid.UUID, result json.RawMessage) error {
	return s.finish(ctx, taskID, domain.TaskStatusCompleted, result, "")
}

// MarkFailed transitions a processing task to failed with the error message.
func (s *PostgresTaskStore) MarkFailed(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return s.finish(ctx, taskID, domain.TaskStatusFailed, nil, errorMsg)
}

// finish writes a terminal state. The status guard in the WHERE clause keeps
// the transition legal even if the task was externally mutated meanwhile.
func (s *PostgresTaskStore) finish(
	ctx context.Context,
	taskID uuid.UUID,
	status domain.TaskStatus,
	result json.RawMessage,
	errorMsg string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var resultArg any
	if result != nil {
		resultArg = []byte(result)
	}

	var errArg any
	if errorMsg != "" {
		errArg = errorMsg
	}

	now := time.Now().UTC()
	query := `
		UPDATE tasks
		SET status = $1, result = $2, error_message = $3, updated_at = $4, completed_at = $4
		WHERE id = $5 AND status = $6
	`
	res, err := s.db.ExecContext(ctx, query,
		status, resultArg, errArg, now, taskID, domain.TaskStatusProcessing)
	if err != nil {
		log.Error("failed to finish task",
			slog.String("task_id", taskID.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to finish task: %w", MapError(err))
	}

	return CheckRowsAffected(res, "processing task")
}

// ResetForRetry transitions a failed task back to pending, clearing its
// result and error while preserving id, payload and created_at. Because the
// claim query orders by created_at, the retried task re-enters the queue at
// its original FIFO position.
func (s *PostgresTaskStore) ResetForRetry(ctx context.Context, taskID uuid.UUID) error {
	query := `
		UPDATE tasks
		SET status = $1, result = NULL, error_message = NULL, completed_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusPending, time.Now().UTC(), taskID, domain.TaskStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to reset task for retry: %w", MapError(err))
	}

	return CheckRowsAffected(res, "failed task")
}

// CancelPending transitions a pending task to cancelled.
func (s *PostgresTaskStore) CancelPending(ctx context.Context, taskID uuid.UUID) error {
	now := time.Now().UTC()
	query := `
		UPDATE tasks
		SET status = $1, updated_at = $2, completed_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusCancelled, now, taskID, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", MapError(err))
	}

	return CheckRowsAffected(res, "pending task")
}

// Counts returns the ledger counters by status.
func (s *PostgresTaskStore) Counts(ctx context.Context) (store.TaskCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM tasks
	`

	var counts store.TaskCounts
	err := s.db.QueryRowContext(ctx, query).Scan(
		&counts.Pending,
		&counts.Processing,
		&counts.Completed,
		&counts.Failed,
	)
	if err != nil {
		return store.TaskCounts{}, fmt.Errorf("failed to count tasks: %w", MapError(err))
	}

	return counts, nil
}

// DeletePending removes all pending tasks.
func (s *PostgresTaskStore) DeletePending(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status = $1`, domain.TaskStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending tasks: %w", MapError(err))
	}

	return res.RowsAffected()
}

// DeleteTerminal removes all completed, failed and cancelled tasks.
func (s *PostgresTaskStore) DeleteTerminal(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN ($1, $2, $3)`,
		domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal tasks: %w", MapError(err))
	}

	return res.RowsAffected()
}

// WithTx returns a new TaskStore instance that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task         domain.Task
		payload      []byte
		result       []byte
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.Type,
		&task.Status,
		&payload,
		&result,
		&errorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = payload
	task.Result = result
	task.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	return &task, nil
}
