package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	t.Run("creates pending task with valid type", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(TaskTypeAnalyzeImage, []byte(`{"image_id":1}`))
		require.NoError(t, err)

		assert.Equal(t, TaskStatusPending, task.Status)
		assert.Equal(t, TaskTypeAnalyzeImage, task.Type)
		assert.NotZero(t, task.ID)
		assert.Nil(t, task.CompletedAt)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		t.Parallel()

		_, err := NewTask(TaskType("resize_image"), nil)
		assert.ErrorIs(t, err, ErrInvalidTaskType)
	})
}

func TestTaskCanTransitionTo(t *testing.T) {
	t.Parallel()

	statuses := []TaskStatus{
		TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled,
	}

	legal := map[TaskStatus]map[TaskStatus]bool{
		TaskStatusPending:    {TaskStatusProcessing: true, TaskStatusCancelled: true},
		TaskStatusProcessing: {TaskStatusCompleted: true, TaskStatusFailed: true},
		TaskStatusFailed:     {TaskStatusPending: true},
		TaskStatusCompleted:  {},
		TaskStatusCancelled:  {},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			task := &Task{Status: from}
			assert.Equal(t, legal[from][to], task.CanTransitionTo(to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestTaskIsRetryable(t *testing.T) {
	t.Parallel()

	retryable := map[TaskType]bool{
		TaskTypeAnalyzeImage:   true,
		TaskTypeRebuildVector:  true,
		TaskTypeStorageSync:    true,
		TaskTypeVectorizeBatch: false,
		TaskTypeStorageDelete:  false,
		TaskTypeStorageUnlink:  false,
	}

	for taskType, want := range retryable {
		task := &Task{Type: taskType, Status: TaskStatusFailed}
		assert.Equal(t, want, task.IsRetryable(), "type %s", taskType)
	}

	// Status matters as much as type.
	task := &Task{Type: TaskTypeAnalyzeImage, Status: TaskStatusCompleted}
	assert.False(t, task.IsRetryable())
}

func TestTaskIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[TaskStatus]bool{
		TaskStatusPending:    false,
		TaskStatusProcessing: false,
		TaskStatusCompleted:  true,
		TaskStatusFailed:     true,
		TaskStatusCancelled:  true,
	}

	for status, want := range terminal {
		task := &Task{Status: status}
		assert.Equal(t, want, task.IsTerminal(), "status %s", status)
	}
}
