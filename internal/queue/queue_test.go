package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/store"
)

func newTestQueue(t *testing.T, taskStore store.TaskStore, workers int) *Queue {
	t.Helper()

	q, err := NewQueue(taskStore, Config{
		MaxWorkers:   workers,
		PollInterval: 5 * time.Millisecond,
	}, slog.Default())
	require.NoError(t, err)

	return q
}

func TestEnqueueBatchAdmission(t *testing.T) {
	t.Parallel()

	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	admitted, skipped, tasks, err := q.EnqueueBatch(context.Background(), []int64{3, -1, 3, 0, 5})
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 5}, admitted)
	assert.Equal(t, 3, skipped)
	require.Len(t, tasks, 2)

	for i, wantID := range []int64{3, 5} {
		assert.Equal(t, domain.TaskTypeAnalyzeImage, tasks[i].Type)

		var payload domain.AnalyzeImagePayload
		require.NoError(t, domain.UnmarshalPayload(tasks[i].Payload, &payload))
		assert.Equal(t, wantID, payload.ImageID)
	}
}

func TestEnqueueVectorizeChunking(t *testing.T) {
	t.Parallel()

	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	ids := make([]int64, 0, vectorizeChunkSize+10)
	for i := int64(1); i <= vectorizeChunkSize+10; i++ {
		ids = append(ids, i)
	}

	admitted, skipped, tasks, err := q.EnqueueVectorize(context.Background(), ids)
	require.NoError(t, err)

	assert.Len(t, admitted, vectorizeChunkSize+10)
	assert.Zero(t, skipped)
	require.Len(t, tasks, 2)

	var first domain.VectorizeBatchPayload
	require.NoError(t, domain.UnmarshalPayload(tasks[0].Payload, &first))
	assert.Len(t, first.ImageIDs, vectorizeChunkSize)

	var second domain.VectorizeBatchPayload
	require.NoError(t, domain.UnmarshalPayload(tasks[1].Payload, &second))
	assert.Len(t, second.ImageIDs, 10)
}

func TestConfigureBounds(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newMemTaskStore(), 3)

	assert.ErrorIs(t, q.Configure(0), domain.ErrInvalidConfig)
	assert.ErrorIs(t, q.Configure(11), domain.ErrInvalidConfig)
	assert.NoError(t, q.Configure(1))
	assert.NoError(t, q.Configure(10))

	_, err := NewQueue(newMemTaskStore(), Config{MaxWorkers: 0}, slog.Default())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRetryRules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	seed := func(taskType domain.TaskType, status domain.TaskStatus) *domain.Task {
		task, err := domain.NewTask(taskType, []byte(`{}`))
		require.NoError(t, err)
		task.Status = status
		require.NoError(t, taskStore.SaveTask(ctx, task))
		return task
	}

	t.Run("failed retryable type resets to pending", func(t *testing.T) {
		task := seed(domain.TaskTypeAnalyzeImage, domain.TaskStatusFailed)
		require.NoError(t, q.Retry(ctx, task.ID))

		got, err := taskStore.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, got.Status)
	})

	t.Run("failed non-retryable type is rejected", func(t *testing.T) {
		task := seed(domain.TaskTypeVectorizeBatch, domain.TaskStatusFailed)
		assert.ErrorIs(t, q.Retry(ctx, task.ID), ErrNotRetryable)
	})

	t.Run("non-failed state is rejected", func(t *testing.T) {
		task := seed(domain.TaskTypeStorageSync, domain.TaskStatusCompleted)
		assert.ErrorIs(t, q.Retry(ctx, task.ID), ErrNotRetryable)
	})

	t.Run("unknown task", func(t *testing.T) {
		unknown, err := domain.NewTask(domain.TaskTypeAnalyzeImage, []byte(`{}`))
		require.NoError(t, err)
		assert.ErrorIs(t, q.Retry(ctx, unknown.ID), store.ErrTaskNotFound)
	})
}

func TestRetryKeepsQueuePosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	older, err := domain.NewTask(domain.TaskTypeAnalyzeImage, []byte(`{}`))
	require.NoError(t, err)
	older.Status = domain.TaskStatusFailed
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	require.NoError(t, taskStore.SaveTask(ctx, older))

	newer, err := domain.NewTask(domain.TaskTypeAnalyzeImage, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, taskStore.SaveTask(ctx, newer))

	require.NoError(t, q.Retry(ctx, older.ID))

	// The retried task kept its original creation time, so it claims first.
	claimed, err := taskStore.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, claimed.ID)
}

func TestWorkersRecordFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 2)

	q.Register(domain.TaskTypeAnalyzeImage, HandlerFunc(
		func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
			return nil, errors.New("vision model unavailable")
		}))

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, domain.TaskTypeAnalyzeImage, []byte(`{"image_id":1}`))
		require.NoError(t, err)
	}

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool {
		counts, err := taskStore.Counts(ctx)
		return err == nil && counts.Failed == 5
	}, 5*time.Second, 10*time.Millisecond)

	counts, err := taskStore.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Failed)
	assert.Zero(t, counts.Pending)
	assert.Zero(t, counts.Processing)
}

func TestUnknownTaskTypeFailsTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	// No handler registered for storage_sync.
	task, err := q.Enqueue(ctx, domain.TaskTypeStorageSync, []byte(`{"image_id":1}`))
	require.NoError(t, err)

	q.Register(domain.TaskTypeAnalyzeImage, HandlerFunc(
		func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
			return []byte(`{}`), nil
		}))
	followUp, err := q.Enqueue(ctx, domain.TaskTypeAnalyzeImage, []byte(`{"image_id":2}`))
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	// The unhandled task fails and the worker keeps going.
	assert.Eventually(t, func() bool {
		got, err := taskStore.GetTask(ctx, followUp.ID)
		return err == nil && got.Status == domain.TaskStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	got, err := taskStore.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "no handler")
}

func TestHandlerPanicFailsTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	q.Register(domain.TaskTypeRebuildVector, HandlerFunc(
		func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
			panic("corrupt payload")
		}))

	task, err := q.Enqueue(ctx, domain.TaskTypeRebuildVector, []byte(`{"image_id":1}`))
	require.NoError(t, err)

	q.Start()
	defer q.Stop()

	assert.Eventually(t, func() bool {
		got, err := taskStore.GetTask(ctx, task.ID)
		return err == nil && got.Status == domain.TaskStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	got, err := taskStore.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage, "panicked")
}

func TestStopLetsInFlightTaskFinish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	started := make(chan struct{})
	q.Register(domain.TaskTypeAnalyzeImage, HandlerFunc(
		func(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
			close(started)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(200 * time.Millisecond):
				return []byte(`{}`), nil
			}
		}))

	task, err := q.Enqueue(ctx, domain.TaskTypeAnalyzeImage, []byte(`{"image_id":1}`))
	require.NoError(t, err)

	q.Start()
	<-started
	// Stop blocks until the worker drains; the claimed task must not be
	// aborted by the shutdown.
	q.Stop()

	got, err := taskStore.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestClaimNextPendingIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	const pending = 3
	const claimers = 8

	for i := 0; i < pending; i++ {
		_, err := q.Enqueue(ctx, domain.TaskTypeAnalyzeImage, []byte(`{}`))
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		release = make(chan struct{})
		claimed = make(chan uuid.UUID, claimers)
		misses  = make(chan error, claimers)
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release

			task, err := taskStore.ClaimNextPending(ctx)
			if err != nil {
				misses <- err
				return
			}
			claimed <- task.ID
		}()
	}

	close(release)
	wg.Wait()
	close(claimed)
	close(misses)

	seen := make(map[uuid.UUID]int)
	for id := range claimed {
		seen[id]++
	}
	assert.Len(t, seen, pending)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s claimed more than once", id)
	}

	assert.Len(t, misses, claimers-pending)
	for err := range misses {
		assert.ErrorIs(t, err, store.ErrNoPendingTasks)
	}

	counts, err := taskStore.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, pending, counts.Processing)
	assert.Zero(t, counts.Pending)
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, newMemTaskStore(), 2)

	q.Start()
	q.Start()

	status, err := q.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.MaxWorkers)

	q.Stop()
	q.Stop()

	status, err = q.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Running)
}

func TestCancelPendingOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	task, err := q.Enqueue(ctx, domain.TaskTypeStorageDelete, []byte(`{"image_id":1}`))
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, task.ID))

	got, err := taskStore.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, got.Status)

	// A cancelled task cannot be cancelled again.
	assert.ErrorIs(t, q.Cancel(ctx, task.ID), store.ErrUpdateFailed)
}

func TestClearOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	taskStore := newMemTaskStore()
	q := newTestQueue(t, taskStore, 1)

	pending, err := q.Enqueue(ctx, domain.TaskTypeAnalyzeImage, []byte(`{}`))
	require.NoError(t, err)

	finished, err := domain.NewTask(domain.TaskTypeStorageSync, []byte(`{}`))
	require.NoError(t, err)
	finished.Status = domain.TaskStatusCompleted
	require.NoError(t, taskStore.SaveTask(ctx, finished))

	removed, err := q.ClearPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = taskStore.GetTask(ctx, pending.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	removed, err = q.ClearFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
