// Package queue implements the background task queue on top of the durable
// task ledger. Workers poll the ledger and claim tasks atomically, so every
// accepted task survives restarts and is processed by exactly one worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/store"
)

const (
	// MinWorkers and MaxWorkers bound the configurable concurrency level.
	MinWorkers = 1
	MaxWorkers = 10

	// DefaultPollInterval is how long an idle worker sleeps between claim
	// attempts when not configured otherwise.
	DefaultPollInterval = 250 * time.Millisecond

	// vectorizeChunkSize caps how many image IDs one vectorize_batch task
	// carries. Larger submissions are split into multiple tasks.
	vectorizeChunkSize = 500
)

var (
	// ErrNotRetryable is returned by Retry for tasks whose type is outside
	// the retryable set or whose status is not failed.
	ErrNotRetryable = errors.New("task is not retryable")

	// ErrNoHandler is returned when a claimed task's type has no registered
	// handler. The task is marked failed; the worker keeps running.
	ErrNoHandler = errors.New("no handler registered for task type")
)

// Handler executes one task and returns its result document.
type Handler interface {
	Execute(ctx context.Context, task *domain.Task) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *domain.Task) (json.RawMessage, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	return f(ctx, task)
}

// Config holds the queue's runtime settings.
type Config struct {
	// MaxWorkers is the number of concurrent workers, between MinWorkers
	// and MaxWorkers inclusive.
	MaxWorkers int

	// PollInterval is the idle sleep between claim attempts.
	PollInterval time.Duration
}

// Status is a snapshot of queue state returned to callers.
type Status struct {
	Running    bool `json:"running"`
	MaxWorkers int  `json:"max_workers"`
	store.TaskCounts
}

// Queue coordinates task admission, worker lifecycle and retries over the
// ledger. All methods are safe for concurrent use.
type Queue struct {
	tasks  store.TaskStore
	logger *slog.Logger

	mu           sync.Mutex
	handlers     map[domain.TaskType]Handler
	maxWorkers   int
	pollInterval time.Duration
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewQueue creates a queue over the given ledger. An out-of-range worker
// count in cfg is rejected with domain.ErrInvalidConfig.
func NewQueue(tasks store.TaskStore, cfg Config, logger *slog.Logger) (*Queue, error) {
	if tasks == nil {
		panic("task store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers < MinWorkers || cfg.MaxWorkers > MaxWorkers {
		return nil, fmt.Errorf("%w: max_workers must be between %d and %d, got %d",
			domain.ErrInvalidConfig, MinWorkers, MaxWorkers, cfg.MaxWorkers)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Queue{
		tasks:        tasks,
		logger:       logger.With(slog.String("component", "task_queue")),
		handlers:     make(map[domain.TaskType]Handler),
		maxWorkers:   cfg.MaxWorkers,
		pollInterval: cfg.PollInterval,
	}, nil
}

// Register binds a handler to a task type. Registering a type twice replaces
// the previous handler.
func (q *Queue) Register(taskType domain.TaskType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = handler
}

// Configure changes the worker count. The new value takes effect the next
// time the queue starts; a running queue keeps its current workers.
func (q *Queue) Configure(maxWorkers int) error {
	if maxWorkers < MinWorkers || maxWorkers > MaxWorkers {
		return fmt.Errorf("%w: max_workers must be between %d and %d, got %d",
			domain.ErrInvalidConfig, MinWorkers, MaxWorkers, maxWorkers)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxWorkers = maxWorkers

	return nil
}

// Start launches the worker pool. Calling Start on a running queue is a
// no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.running = true

	for i := 0; i < q.maxWorkers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.logger.Info("task queue started", "max_workers", q.maxWorkers)
}

// Stop halts the worker pool cooperatively: workers finish the task they are
// executing and then exit. Calling Stop on a stopped queue is a no-op.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	q.logger.Info("task queue stopped")
}

// Enqueue validates and persists a new task in pending state. The task is
// picked up by a worker on its next claim cycle; no separate notification is
// needed.
func (q *Queue) Enqueue(ctx context.Context, taskType domain.TaskType, payload json.RawMessage) (*domain.Task, error) {
	task, err := domain.NewTask(taskType, payload)
	if err != nil {
		return nil, err
	}

	if err := q.tasks.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	return task, nil
}

// admitIDs drops non-positive and duplicate IDs, preserving the first-seen
// order of the rest.
func admitIDs(imageIDs []int64) []int64 {
	seen := make(map[int64]struct{}, len(imageIDs))
	admitted := make([]int64, 0, len(imageIDs))

	for _, id := range imageIDs {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		admitted = append(admitted, id)
	}

	return admitted
}

// EnqueueBatch admits a set of image IDs for analysis. Non-positive IDs and
// duplicates are dropped; each remaining ID becomes one analyze_image task,
// in first-seen order. It returns the admitted IDs, the number skipped and
// the created tasks.
func (q *Queue) EnqueueBatch(ctx context.Context, imageIDs []int64) ([]int64, int, []*domain.Task, error) {
	admitted := admitIDs(imageIDs)
	skipped := len(imageIDs) - len(admitted)

	tasks := make([]*domain.Task, 0, len(admitted))
	for _, id := range admitted {
		payload, err := domain.MarshalPayload(domain.AnalyzeImagePayload{ImageID: id})
		if err != nil {
			return admitted, skipped, tasks, err
		}

		task, err := q.Enqueue(ctx, domain.TaskTypeAnalyzeImage, payload)
		if err != nil {
			return admitted, skipped, tasks, err
		}
		tasks = append(tasks, task)
	}

	return admitted, skipped, tasks, nil
}

// EnqueueVectorize admits image IDs for embedding. The same admission rules
// apply; admitted IDs are persisted as one or more vectorize_batch tasks of
// at most vectorizeChunkSize IDs each.
func (q *Queue) EnqueueVectorize(ctx context.Context, imageIDs []int64) ([]int64, int, []*domain.Task, error) {
	admitted := admitIDs(imageIDs)
	skipped := len(imageIDs) - len(admitted)

	var tasks []*domain.Task
	for start := 0; start < len(admitted); start += vectorizeChunkSize {
		end := start + vectorizeChunkSize
		if end > len(admitted) {
			end = len(admitted)
		}

		payload, err := domain.MarshalPayload(domain.VectorizeBatchPayload{ImageIDs: admitted[start:end]})
		if err != nil {
			return admitted, skipped, tasks, err
		}

		task, err := q.Enqueue(ctx, domain.TaskTypeVectorizeBatch, payload)
		if err != nil {
			return admitted, skipped, tasks, err
		}
		tasks = append(tasks, task)
	}

	return admitted, skipped, tasks, nil
}

// Retry moves a failed task back to pending. Only analyze_image,
// rebuild_vector and storage_sync tasks are retryable; everything else gets
// ErrNotRetryable. The task re-enters the queue at its original position
// because its creation time is preserved.
func (q *Queue) Retry(ctx context.Context, taskID uuid.UUID) error {
	task, err := q.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if !domain.IsRetryableTaskType(task.Type) {
		return fmt.Errorf("%w: type %s", ErrNotRetryable, task.Type)
	}
	if task.Status != domain.TaskStatusFailed {
		return fmt.Errorf("%w: status %s", ErrNotRetryable, task.Status)
	}

	return q.tasks.ResetForRetry(ctx, taskID)
}

// Cancel marks a pending task cancelled. Tasks already claimed or finished
// are left untouched.
func (q *Queue) Cancel(ctx context.Context, taskID uuid.UUID) error {
	return q.tasks.CancelPending(ctx, taskID)
}

// Get returns a single task from the ledger.
func (q *Queue) Get(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return q.tasks.GetTask(ctx, taskID)
}

// Status returns the queue's running state and the ledger counters.
func (q *Queue) Status(ctx context.Context) (Status, error) {
	counts, err := q.tasks.Counts(ctx)
	if err != nil {
		return Status{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return Status{
		Running:    q.running,
		MaxWorkers: q.maxWorkers,
		TaskCounts: counts,
	}, nil
}

// ClearPending drops every pending task and reports how many were removed.
func (q *Queue) ClearPending(ctx context.Context) (int64, error) {
	return q.tasks.DeletePending(ctx)
}

// ClearFinished drops completed, failed and cancelled tasks and reports how
// many were removed.
func (q *Queue) ClearFinished(ctx context.Context) (int64, error) {
	return q.tasks.DeleteTerminal(ctx)
}

func (q *Queue) handlerFor(taskType domain.TaskType) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	handler, ok := q.handlers[taskType]
	return handler, ok
}
