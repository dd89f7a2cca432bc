package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/store"
)

// memTaskStore is an in-memory TaskStore with the same claim and transition
// semantics as the SQL implementation.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	seq   map[uuid.UUID]int
	next  int
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
		seq:   make(map[uuid.UUID]int),
	}
}

var _ store.TaskStore = (*memTaskStore)(nil)

func (s *memTaskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *task
	s.tasks[task.ID] = &copied
	s.seq[task.ID] = s.next
	s.next++

	return nil
}

func (s *memTaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	copied := *task
	return &copied, nil
}

func (s *memTaskStore) ClaimNextPending(ctx context.Context) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *domain.Task
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusPending {
			continue
		}
		if oldest == nil || task.CreatedAt.Before(oldest.CreatedAt) ||
			(task.CreatedAt.Equal(oldest.CreatedAt) && s.seq[task.ID] < s.seq[oldest.ID]) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, store.ErrNoPendingTasks
	}

	oldest.Status = domain.TaskStatusProcessing
	oldest.UpdatedAt = time.Now().UTC()

	copied := *oldest
	return &copied, nil
}

func (s *memTaskStore) MarkCompleted(ctx context.Context, taskID uuid.UUID, result json.RawMessage) error {
	return s.finish(taskID, domain.TaskStatusCompleted, result, "")
}

func (s *memTaskStore) MarkFailed(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return s.finish(taskID, domain.TaskStatusFailed, nil, errorMsg)
}

func (s *memTaskStore) finish(taskID uuid.UUID, status domain.TaskStatus, result json.RawMessage, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusProcessing {
		return store.ErrUpdateFailed
	}

	now := time.Now().UTC()
	task.Status = status
	task.Result = result
	task.ErrorMessage = errorMsg
	task.UpdatedAt = now
	task.CompletedAt = &now

	return nil
}

func (s *memTaskStore) ResetForRetry(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusFailed {
		return store.ErrUpdateFailed
	}

	task.Status = domain.TaskStatusPending
	task.Result = nil
	task.ErrorMessage = ""
	task.CompletedAt = nil
	task.UpdatedAt = time.Now().UTC()

	return nil
}

func (s *memTaskStore) CancelPending(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusPending {
		return store.ErrUpdateFailed
	}

	task.Status = domain.TaskStatusCancelled
	task.UpdatedAt = time.Now().UTC()

	return nil
}

func (s *memTaskStore) Counts(ctx context.Context) (store.TaskCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts store.TaskCounts
	for _, task := range s.tasks {
		switch task.Status {
		case domain.TaskStatusPending:
			counts.Pending++
		case domain.TaskStatusProcessing:
			counts.Processing++
		case domain.TaskStatusCompleted:
			counts.Completed++
		case domain.TaskStatusFailed:
			counts.Failed++
		}
	}

	return counts, nil
}

func (s *memTaskStore) DeletePending(ctx context.Context) (int64, error) {
	return s.deleteWhere(func(task *domain.Task) bool {
		return task.Status == domain.TaskStatusPending
	}), nil
}

func (s *memTaskStore) DeleteTerminal(ctx context.Context) (int64, error) {
	return s.deleteWhere(func(task *domain.Task) bool {
		return task.IsTerminal()
	}), nil
}

func (s *memTaskStore) deleteWhere(match func(*domain.Task) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, task := range s.tasks {
		if match(task) {
			delete(s.tasks, id)
			delete(s.seq, id)
			removed++
		}
	}

	return removed
}

func (s *memTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return s
}

// memCheckpointStore is an in-memory CheckpointStore.
type memCheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[uuid.UUID]*store.BatchCheckpoint
	saves       int
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{
		checkpoints: make(map[uuid.UUID]*store.BatchCheckpoint),
	}
}

var _ store.CheckpointStore = (*memCheckpointStore)(nil)

func (s *memCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *store.BatchCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *checkpoint
	copied.UpdatedAt = time.Now().UTC()
	s.checkpoints[checkpoint.TaskID] = &copied
	s.saves++

	return nil
}

func (s *memCheckpointStore) GetCheckpoint(ctx context.Context, taskID uuid.UUID) (*store.BatchCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkpoint, ok := s.checkpoints[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}

	copied := *checkpoint
	return &copied, nil
}

func (s *memCheckpointStore) DeleteCheckpoint(ctx context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, taskID)
	return nil
}
