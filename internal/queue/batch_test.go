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

func fastRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxConcurrent:      3,
		RateLimit:          time.Millisecond,
		CheckpointInterval: 2,
		MaxFailedItems:     50,
	}
}

func TestRunnerProcessesAllItems(t *testing.T) {
	t.Parallel()

	checkpoints := newMemCheckpointStore()
	runner := NewRunner(checkpoints, fastRunnerConfig(), slog.Default())
	taskID := uuid.New()

	var mu sync.Mutex
	processed := make(map[int64]bool)

	result, err := runner.Run(context.Background(), taskID, []int64{1, 2, 3, 4, 5},
		func(ctx context.Context, imageID int64) error {
			mu.Lock()
			processed[imageID] = true
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Processed)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.Overflow)
	assert.Len(t, processed, 5)

	// Finished batches leave no checkpoint behind.
	_, err = checkpoints.GetCheckpoint(context.Background(), taskID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunnerRecordsItemFailures(t *testing.T) {
	t.Parallel()

	runner := NewRunner(newMemCheckpointStore(), fastRunnerConfig(), slog.Default())

	result, err := runner.Run(context.Background(), uuid.New(), []int64{1, 2, 3, 4},
		func(ctx context.Context, imageID int64) error {
			if imageID%2 == 0 {
				return errors.New("embedding failed")
			}
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.FailedItems, 2)

	failedIDs := []int64{result.FailedItems[0].ImageID, result.FailedItems[1].ImageID}
	assert.ElementsMatch(t, []int64{2, 4}, failedIDs)
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	checkpoints := newMemCheckpointStore()
	taskID := uuid.New()

	failedItems, err := json.Marshal([]domain.BatchError{{ImageID: 2, Error: "embedding failed"}})
	require.NoError(t, err)
	require.NoError(t, checkpoints.SaveCheckpoint(ctx, &store.BatchCheckpoint{
		TaskID:         taskID,
		Cursor:         2,
		ProcessedCount: 1,
		FailedCount:    1,
		FailedItems:    failedItems,
	}))

	runner := NewRunner(checkpoints, fastRunnerConfig(), slog.Default())

	var mu sync.Mutex
	var seen []int64

	result, err := runner.Run(ctx, taskID, []int64{1, 2, 3, 4},
		func(ctx context.Context, imageID int64) error {
			mu.Lock()
			seen = append(seen, imageID)
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	// Items before the cursor are not reprocessed.
	assert.ElementsMatch(t, []int64{3, 4}, seen)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.FailedItems, 1)
	assert.Equal(t, int64(2), result.FailedItems[0].ImageID)
}

func TestRunnerCapsRecordedFailures(t *testing.T) {
	t.Parallel()

	cfg := fastRunnerConfig()
	cfg.CheckpointInterval = 4
	cfg.MaxFailedItems = 3

	runner := NewRunner(newMemCheckpointStore(), cfg, slog.Default())

	var mu sync.Mutex
	attempted := 0

	result, err := runner.Run(context.Background(), uuid.New(),
		[]int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		func(ctx context.Context, imageID int64) error {
			mu.Lock()
			attempted++
			mu.Unlock()
			if imageID <= 8 {
				return errors.New("embedding failed")
			}
			return nil
		})
	require.NoError(t, err)

	// Failures past the cap never stop the batch; every item is attempted.
	assert.Equal(t, 10, attempted)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 8, result.Failed)
	assert.Len(t, result.FailedItems, 3)
	assert.Equal(t, 5, result.Overflow)
}

func TestRunnerCheckpointsAtInterval(t *testing.T) {
	t.Parallel()

	checkpoints := newMemCheckpointStore()
	cfg := fastRunnerConfig()
	cfg.CheckpointInterval = 2

	runner := NewRunner(checkpoints, cfg, slog.Default())

	_, err := runner.Run(context.Background(), uuid.New(), []int64{1, 2, 3, 4, 5, 6},
		func(ctx context.Context, imageID int64) error { return nil })
	require.NoError(t, err)

	// Three windows of two items each.
	assert.Equal(t, 3, checkpoints.saves)
}
