package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/store"
)

const (
	// DefaultMaxConcurrent is how many items a batch processes at once.
	DefaultMaxConcurrent = 3

	// DefaultRateLimit is the pause between item launches. It keeps the
	// batch from hammering downstream AI quotas.
	DefaultRateLimit = 100 * time.Millisecond

	// DefaultCheckpointInterval is how many items are processed between
	// checkpoint writes.
	DefaultCheckpointInterval = 50

	// DefaultMaxFailedItems caps how many individual failures are recorded
	// in the result. Failures past the cap are still counted, as overflow.
	DefaultMaxFailedItems = 50
)

// ItemFunc processes one image within a batch.
type ItemFunc func(ctx context.Context, imageID int64) error

// RunnerConfig tunes the batch runner. Zero values take the defaults above.
type RunnerConfig struct {
	MaxConcurrent      int
	RateLimit          time.Duration
	CheckpointInterval int
	MaxFailedItems     int
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.MaxFailedItems <= 0 {
		c.MaxFailedItems = DefaultMaxFailedItems
	}
	return c
}

// RunResult summarizes one batch run. Failed counts every item failure;
// FailedItems holds at most MaxFailedItems of them and Overflow is how many
// went unrecorded.
type RunResult struct {
	Processed   int
	Failed      int
	FailedItems []domain.BatchError
	Overflow    int
}

// Runner drives a batch of per-item work with bounded concurrency, pacing
// and durable checkpoints. A task interrupted mid-batch resumes from its
// last checkpoint instead of reprocessing finished items.
type Runner struct {
	checkpoints store.CheckpointStore
	cfg         RunnerConfig
	logger      *slog.Logger
}

// NewRunner creates a batch runner backed by the given checkpoint store.
func NewRunner(checkpoints store.CheckpointStore, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if checkpoints == nil {
		panic("checkpoint store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		checkpoints: checkpoints,
		cfg:         cfg.withDefaults(),
		logger:      logger.With(slog.String("component", "batch_runner")),
	}
}

// Run processes imageIDs with fn, checkpointing progress under taskID.
// Items are processed in checkpoint-sized windows; within a window up to
// MaxConcurrent items run in parallel, with RateLimit pacing between
// launches. Item failures never stop the batch: every item is attempted,
// the first MaxFailedItems failures are recorded and the rest only counted.
// The checkpoint is deleted once the batch finishes.
func (r *Runner) Run(ctx context.Context, taskID uuid.UUID, imageIDs []int64, fn ItemFunc) (*RunResult, error) {
	cursor, result, err := r.restore(ctx, taskID)
	if err != nil {
		return nil, err
	}

	log := r.logger.With(slog.String("task_id", taskID.String()))
	if cursor > 0 {
		log.Info("resuming batch from checkpoint",
			"cursor", cursor,
			"processed", result.Processed,
			"failed", result.Failed)
	}

	for cursor < len(imageIDs) {
		if err := ctx.Err(); err != nil {
			// Leave the checkpoint in place so a retried task resumes here.
			return result, err
		}

		end := cursor + r.cfg.CheckpointInterval
		if end > len(imageIDs) {
			end = len(imageIDs)
		}

		windowFailures := r.runWindow(ctx, imageIDs[cursor:end], fn)

		result.Processed += (end - cursor) - len(windowFailures)
		result.Failed += len(windowFailures)
		result.FailedItems = append(result.FailedItems, windowFailures...)
		if len(result.FailedItems) > r.cfg.MaxFailedItems {
			result.FailedItems = result.FailedItems[:r.cfg.MaxFailedItems]
		}
		result.Overflow = result.Failed - len(result.FailedItems)
		cursor = end

		if err := r.persist(ctx, taskID, cursor, result); err != nil {
			return result, err
		}
	}

	if err := r.checkpoints.DeleteCheckpoint(ctx, taskID); err != nil {
		log.Error("failed to delete batch checkpoint", "error", err)
	}

	return result, nil
}

// runWindow processes one window of items and returns the failures. Item
// errors never abort the window; only the overflow cap stops a batch.
func (r *Runner) runWindow(ctx context.Context, imageIDs []int64, fn ItemFunc) []domain.BatchError {
	var (
		group, groupCtx = errgroup.WithContext(ctx)
		failures        = make(chan domain.BatchError, len(imageIDs))
	)
	group.SetLimit(r.cfg.MaxConcurrent)

	for i, imageID := range imageIDs {
		if i > 0 {
			select {
			case <-groupCtx.Done():
			case <-time.After(r.cfg.RateLimit):
			}
		}

		id := imageID
		group.Go(func() error {
			if err := fn(groupCtx, id); err != nil {
				failures <- domain.BatchError{ImageID: id, Error: err.Error()}
			}
			return nil
		})
	}

	// Workers never return errors, so Wait only synchronizes.
	_ = group.Wait()
	close(failures)

	collected := make([]domain.BatchError, 0, len(failures))
	for failure := range failures {
		collected = append(collected, failure)
	}

	return collected
}

func (r *Runner) restore(ctx context.Context, taskID uuid.UUID) (int, *RunResult, error) {
	checkpoint, err := r.checkpoints.GetCheckpoint(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, &RunResult{}, nil
		}
		return 0, nil, fmt.Errorf("failed to load batch checkpoint: %w", err)
	}

	result := &RunResult{
		Processed: checkpoint.ProcessedCount,
		Failed:    checkpoint.FailedCount,
	}

	if len(checkpoint.FailedItems) > 0 {
		if err := json.Unmarshal(checkpoint.FailedItems, &result.FailedItems); err != nil {
			return 0, nil, fmt.Errorf("failed to decode checkpoint failed items: %w", err)
		}
	}
	result.Overflow = result.Failed - len(result.FailedItems)

	return checkpoint.Cursor, result, nil
}

func (r *Runner) persist(ctx context.Context, taskID uuid.UUID, cursor int, result *RunResult) error {
	failedItems, err := json.Marshal(result.FailedItems)
	if err != nil {
		return fmt.Errorf("failed to encode failed items: %w", err)
	}

	checkpoint := &store.BatchCheckpoint{
		TaskID:         taskID,
		Cursor:         cursor,
		ProcessedCount: result.Processed,
		FailedCount:    result.Failed,
		FailedItems:    failedItems,
	}

	if err := r.checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
		return fmt.Errorf("failed to save batch checkpoint: %w", err)
	}

	return nil
}
