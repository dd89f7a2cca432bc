package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/domain"
)

// ErrNoPendingTasks is returned by ClaimNextPending when the ledger holds
// no claimable work. It is an idle signal, not a failure.
var ErrNoPendingTasks = errors.New("no pending tasks")

// TaskCounts is a point-in-time snapshot of ledger state by status.
type TaskCounts struct {
	Pending    int `json:"pending_count"`
	Processing int `json:"processing_count"`
	Completed  int `json:"completed_count"`
	Failed     int `json:"failed_count"`
}

// TaskStore defines the interface for the durable task ledger.
type TaskStore interface {
	// SaveTask persists a new task to the ledger.
	SaveTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task by ID, or ErrTaskNotFound.
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// ClaimNextPending atomically flips the oldest pending task (FIFO by
	// creation time) to processing and returns it. A task claimed by one
	// worker is never visible as pending to another. Returns
	// ErrNoPendingTasks when nothing is claimable.
	ClaimNextPending(ctx context.Context) (*domain.Task, error)

	// MarkCompleted transitions a processing task to completed with the
	// handler's result and sets completed_at.
	MarkCompleted(ctx context.Context, taskID uuid.UUID, result json.RawMessage) error

	// MarkFailed transitions a processing task to failed with the captured
	// error message and sets completed_at.
	MarkFailed(ctx context.Context, taskID uuid.UUID, errorMsg string) error

	// ResetForRetry transitions a failed task back to pending, clearing its
	// result, error message and completed_at while preserving id and payload.
	ResetForRetry(ctx context.Context, taskID uuid.UUID) error

	// CancelPending transitions a pending task to cancelled. Tasks in any
	// other state are left untouched and ErrUpdateFailed is returned.
	CancelPending(ctx context.Context, taskID uuid.UUID) error

	// Counts returns the ledger counters by status.
	Counts(ctx context.Context) (TaskCounts, error)

	// DeletePending removes all pending tasks and returns how many were
	// dropped. Completed/failed history is untouched.
	DeletePending(ctx context.Context) (int64, error)

	// DeleteTerminal removes all completed, failed and cancelled tasks and
	// returns how many were dropped.
	DeleteTerminal(ctx context.Context) (int64, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
