package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BatchCheckpoint records durable progress of a long-running batch task so
// a crash loses at most one checkpoint interval of work.
type BatchCheckpoint struct {
	TaskID         uuid.UUID       `json:"task_id"`
	Cursor         int             `json:"cursor"`
	ProcessedCount int             `json:"processed_count"`
	FailedCount    int             `json:"failed_count"`
	FailedItems    json.RawMessage `json:"failed_items,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CheckpointStore defines the interface for persisting batch progress.
type CheckpointStore interface {
	// SaveCheckpoint inserts or replaces the checkpoint for a task.
	SaveCheckpoint(ctx context.Context, checkpoint *BatchCheckpoint) error

	// GetCheckpoint retrieves the checkpoint for a task, or ErrNotFound.
	GetCheckpoint(ctx context.Context, taskID uuid.UUID) (*BatchCheckpoint, error)

	// DeleteCheckpoint removes a task's checkpoint once the batch finishes.
	DeleteCheckpoint(ctx context.Context, taskID uuid.UUID) error
}
