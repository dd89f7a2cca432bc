package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task in the ledger.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskType identifies the kind of background work a task performs.
type TaskType string

// Task type constants
const (
	TaskTypeAnalyzeImage   TaskType = "analyze_image"
	TaskTypeVectorizeBatch TaskType = "vectorize_batch"
	TaskTypeRebuildVector  TaskType = "rebuild_vector"
	TaskTypeStorageSync    TaskType = "storage_sync"
	TaskTypeStorageDelete  TaskType = "storage_delete"
	TaskTypeStorageUnlink  TaskType = "storage_unlink"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
)

// Task represents a unit of background work tracked in the durable ledger.
// Result and ErrorMessage are only populated once the task reaches a
// terminal state, and CompletedAt is set iff the state is terminal.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	Type         TaskType        `json:"type"`
	Status       TaskStatus      `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a pending Task of the given type with the provided payload.
// Returns ErrInvalidTaskType if the type is not part of the fixed enumeration.
func NewTask(taskType TaskType, payload json.RawMessage) (*Task, error) {
	if !IsValidTaskType(taskType) {
		return nil, ErrInvalidTaskType
	}

	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		Type:      taskType,
		Status:    TaskStatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks the task's invariants.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if !IsValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a failed task of this type may be re-enqueued.
// Only the enrichment and sync task types are safe to run again; delete and
// unlink mutate storage irreversibly and must be re-issued explicitly.
func (t *Task) IsRetryable() bool {
	return t.Status == TaskStatusFailed && IsRetryableTaskType(t.Type)
}

// CanTransitionTo reports whether moving to the given status is a legal
// lifecycle transition: pending->processing->{completed,failed},
// pending->cancelled, or failed->pending via explicit retry.
func (t *Task) CanTransitionTo(next TaskStatus) bool {
	switch t.Status {
	case TaskStatusPending:
		return next == TaskStatusProcessing || next == TaskStatusCancelled
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	case TaskStatusFailed:
		return next == TaskStatusPending
	default:
		return false
	}
}

// IsValidTaskType checks membership in the fixed task type enumeration.
func IsValidTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypeAnalyzeImage, TaskTypeVectorizeBatch, TaskTypeRebuildVector,
		TaskTypeStorageSync, TaskTypeStorageDelete, TaskTypeStorageUnlink:
		return true
	default:
		return false
	}
}

// IsRetryableTaskType checks membership in the retryable task type subset.
func IsRetryableTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypeAnalyzeImage, TaskTypeRebuildVector, TaskTypeStorageSync:
		return true
	default:
		return false
	}
}

func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
