// Package service implements the application's task handlers: the glue
// between the queue, the catalog stores, the sync engine and the AI layer.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/imagevault/imagevault/internal/ai"
	"github.com/imagevault/imagevault/internal/cache"
	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/queue"
	"github.com/imagevault/imagevault/internal/replication"
	"github.com/imagevault/imagevault/internal/store"
	"github.com/imagevault/imagevault/internal/vector"
)

// TaskHandlers holds the dependencies shared by every task handler.
type TaskHandlers struct {
	images     store.ImageStore
	engine     *replication.Engine
	tagger     ai.Tagger
	vectors    *vector.Store
	batches    *queue.Runner
	categories *cache.Categories
	logger     *slog.Logger
}

// NewTaskHandlers wires the handler set.
func NewTaskHandlers(
	images store.ImageStore,
	engine *replication.Engine,
	tagger ai.Tagger,
	vectors *vector.Store,
	batches *queue.Runner,
	categories *cache.Categories,
	logger *slog.Logger,
) *TaskHandlers {
	if images == nil {
		panic("image store cannot be nil")
	}
	if engine == nil {
		panic("sync engine cannot be nil")
	}
	if tagger == nil {
		panic("tagger cannot be nil")
	}
	if vectors == nil {
		panic("vector store cannot be nil")
	}
	if batches == nil {
		panic("batch runner cannot be nil")
	}
	if categories == nil {
		panic("category cache cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskHandlers{
		images:     images,
		engine:     engine,
		tagger:     tagger,
		vectors:    vectors,
		batches:    batches,
		categories: categories,
		logger:     logger.With(slog.String("component", "task_handlers")),
	}
}

// Register binds every handler to its task type on the queue.
func (h *TaskHandlers) Register(q *queue.Queue) {
	q.Register(domain.TaskTypeAnalyzeImage, queue.HandlerFunc(h.AnalyzeImage))
	q.Register(domain.TaskTypeVectorizeBatch, queue.HandlerFunc(h.VectorizeBatch))
	q.Register(domain.TaskTypeRebuildVector, queue.HandlerFunc(h.RebuildVector))
	q.Register(domain.TaskTypeStorageSync, queue.HandlerFunc(h.StorageSync))
	q.Register(domain.TaskTypeStorageDelete, queue.HandlerFunc(h.StorageDelete))
	q.Register(domain.TaskTypeStorageUnlink, queue.HandlerFunc(h.StorageUnlink))
}

// AnalyzeImage runs the vision model over an image, stores the returned tags
// and refreshes the image's embedding.
func (h *TaskHandlers) AnalyzeImage(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var payload domain.AnalyzeImagePayload
	if err := domain.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}

	image, err := h.images.GetImage(ctx, payload.ImageID)
	if err != nil {
		return nil, err
	}

	body, err := h.engine.Open(ctx, image.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %d: %w", image.ID, err)
	}
	data, err := io.ReadAll(body)
	closeErr := body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read image %d: %w", image.ID, err)
	}
	if closeErr != nil {
		return nil, closeErr
	}

	tags, err := h.tagger.AnalyzeImage(ctx, data, image.ContentType)
	if err != nil {
		return nil, err
	}

	if err := h.images.UpdateTags(ctx, image.ID, tags); err != nil {
		return nil, err
	}

	image.Tags = tags
	if err := h.vectors.Upsert(ctx, image); err != nil {
		// Tags are saved; the embedding can be rebuilt later.
		h.logger.Error("failed to update embedding after analysis",
			"image_id", image.ID,
			"error", err)
	}

	return domain.MarshalPayload(domain.AnalyzeImageResult{Tags: tags})
}

// VectorizeBatch embeds a batch of already-tagged images with checkpointed
// progress. Items without tags fail individually without stopping the batch;
// failures beyond the recording cap appear as an overflow count in the
// result document.
func (h *TaskHandlers) VectorizeBatch(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var payload domain.VectorizeBatchPayload
	if err := domain.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}

	run, err := h.batches.Run(ctx, task.ID, payload.ImageIDs, func(ctx context.Context, imageID int64) error {
		image, err := h.images.GetImage(ctx, imageID)
		if err != nil {
			return err
		}
		if len(image.Tags) == 0 {
			return fmt.Errorf("image %d has no tags; analyze it first", imageID)
		}
		return h.vectors.Upsert(ctx, image)
	})
	if err != nil {
		return nil, err
	}

	return domain.MarshalPayload(domain.VectorizeBatchResult{
		Processed:   run.Processed,
		Failed:      run.Failed,
		FailedItems: run.FailedItems,
		Overflow:    run.Overflow,
	})
}

// RebuildVector drops and recreates one image's embedding from its stored
// tags.
func (h *TaskHandlers) RebuildVector(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var payload domain.RebuildVectorPayload
	if err := domain.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}

	image, err := h.images.GetImage(ctx, payload.ImageID)
	if err != nil {
		return nil, err
	}

	if err := h.vectors.Delete(ctx, image.ID); err != nil {
		return nil, err
	}
	if err := h.vectors.Upsert(ctx, image); err != nil {
		return nil, err
	}

	return nil, nil
}

// StorageSync replicates an image to its auto-sync targets.
func (h *TaskHandlers) StorageSync(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var payload domain.StorageSyncPayload
	if err := domain.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}

	result, err := h.engine.SyncImage(ctx, payload.ImageID)
	if err != nil {
		return nil, err
	}

	return domain.MarshalPayload(domain.StorageSyncResult{
		Synced:  result.Synced,
		Skipped: result.Skipped,
	})
}

// StorageDelete removes an image's objects. A full delete (no endpoint
// given) also drops the catalog row, the embedding and the cached category.
func (h *TaskHandlers) StorageDelete(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var payload domain.StorageDeletePayload
	if err := domain.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}

	if err := h.engine.DeleteImage(ctx, payload.ImageID, payload.EndpointID); err != nil {
		return nil, err
	}

	if payload.EndpointID == nil {
		if err := h.vectors.Delete(ctx, payload.ImageID); err != nil {
			h.logger.Error("failed to delete embedding",
				"image_id", payload.ImageID,
				"error", err)
		}
		h.categories.Invalidate(payload.ImageID)

		if err := h.images.DeleteImage(ctx, payload.ImageID); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

// StorageUnlink detaches an endpoint from every image it holds. The sync
// engine refuses when the endpoint holds the only primary copy of anything.
func (h *TaskHandlers) StorageUnlink(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var payload domain.StorageUnlinkPayload
	if err := domain.UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, err
	}

	if err := h.engine.UnlinkEndpoint(ctx, payload.EndpointID); err != nil {
		return nil, err
	}

	return nil, nil
}
