package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/store"
)

// worker is the claim loop run by each pool goroutine. It drains the ledger
// one task at a time and sleeps for the poll interval when idle. The loop
// exits only when the queue's context is cancelled.
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	log := q.logger.With(slog.Int("worker_id", id))
	log.Debug("starting worker")

	for {
		select {
		case <-ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		task, err := q.tasks.ClaimNextPending(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNoPendingTasks) {
				q.sleep(ctx)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to claim task", "error", err)
			q.sleep(ctx)
			continue
		}

		q.processTask(ctx, task, log)
	}
}

// processTask runs the handler for one claimed task and records the outcome.
// Handler panics are captured as task failures so a single bad task cannot
// take down a worker.
func (q *Queue) processTask(ctx context.Context, task *domain.Task, log *slog.Logger) {
	taskLog := log.With(
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", string(task.Type)),
	)

	handler, ok := q.handlerFor(task.Type)
	if !ok {
		taskLog.Error("no handler registered for task type")
		q.markFailed(ctx, task, fmt.Errorf("%w: %s", ErrNoHandler, task.Type), taskLog)
		return
	}

	taskLog.Info("processing task")
	started := time.Now()

	// Detach the handler from the pool's cancel: a stop lets the claimed
	// task run to completion and only prevents further claims.
	result, err := q.execute(context.WithoutCancel(ctx), handler, task)
	if err != nil {
		taskLog.Error("task failed",
			"error", err,
			"duration_ms", time.Since(started).Milliseconds())
		q.markFailed(ctx, task, err, taskLog)
		return
	}

	// Detach so a shutdown arriving after the handler finished still gets
	// the completion recorded.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := q.tasks.MarkCompleted(recordCtx, task.ID, result); err != nil {
		taskLog.Error("failed to mark task completed", "error", err)
		return
	}

	taskLog.Info("task completed", "duration_ms", time.Since(started).Milliseconds())
}

// execute invokes the handler with panic recovery.
func (q *Queue) execute(ctx context.Context, handler Handler, task *domain.Task) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler.Execute(ctx, task)
}

func (q *Queue) markFailed(ctx context.Context, task *domain.Task, cause error, log *slog.Logger) {
	// Use a detached context so shutdown cannot leave the task stuck in
	// processing.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := q.tasks.MarkFailed(recordCtx, task.ID, cause.Error()); err != nil {
		log.Error("failed to mark task failed", "error", err)
	}
}

// sleep waits one poll interval or until shutdown, whichever comes first.
func (q *Queue) sleep(ctx context.Context) {
	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
