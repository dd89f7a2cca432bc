package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/imagevault/imagevault/internal/api/shared"
	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/queue"
	"github.com/imagevault/imagevault/internal/registry"
	"github.com/imagevault/imagevault/internal/replication"
	"github.com/imagevault/imagevault/internal/storage"
	"github.com/imagevault/imagevault/internal/store"
)

// maxUploadBytes caps the multipart memory buffer for uploads.
const maxUploadBytes = 64 << 20

// ImageHandler exposes image ingest and read resolution.
type ImageHandler struct {
	images    store.ImageStore
	locations store.LocationStore
	registry  *registry.Registry
	engine    *replication.Engine
	queue     *queue.Queue
	logger    *slog.Logger

	// runTx wraps the catalog writes of one upload in a transaction so a
	// failed object write never leaves an orphaned image row.
	runTx func(ctx context.Context, fn store.TxFn) error
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(
	db *sql.DB,
	images store.ImageStore,
	locations store.LocationStore,
	reg *registry.Registry,
	engine *replication.Engine,
	q *queue.Queue,
	logger *slog.Logger,
) *ImageHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &ImageHandler{
		images:    images,
		locations: locations,
		registry:  reg,
		engine:    engine,
		queue:     q,
		logger:    logger.With(slog.String("component", "image_handler")),
		runTx: func(ctx context.Context, fn store.TxFn) error {
			return store.RunInTransaction(ctx, db, fn)
		},
	}
}

// UploadResponse is the body returned after a successful ingest.
type UploadResponse struct {
	Image   *domain.Image `json:"image"`
	TaskIDs []string      `json:"task_ids"`
}

// Upload handles POST /images: stores the file on the default upload
// endpoint, records the primary location and enqueues the analysis and sync
// tasks.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid multipart request")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	category := r.FormValue("category")
	if category == "" {
		category = "general"
	}

	endpoint, err := h.registry.DefaultUpload(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrEndpointNotFound) {
			shared.RespondWithError(w, r, http.StatusServiceUnavailable,
				"No default upload endpoint configured")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to resolve upload endpoint", err)
		return
	}
	if !endpoint.AcceptsUploads() {
		shared.RespondWithError(w, r, http.StatusServiceUnavailable,
			"Default upload endpoint does not accept uploads")
		return
	}

	hash, size, err := storage.HashReader(file)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to read upload", err)
		return
	}
	if _, err := file.Seek(0, 0); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to rewind upload", err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(header.Filename))
	}

	image := &domain.Image{
		Filename:     header.Filename,
		Hash:         hash,
		ContentType:  contentType,
		SizeBytes:    size,
		CategoryCode: category,
	}

	objectKey := storage.ObjectKey(category, hash, path.Ext(header.Filename))

	adapter, err := h.registry.AdapterFor(r.Context(), endpoint)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to reach upload endpoint", err)
		return
	}

	// The image row and its primary location commit together. A failed
	// object write rolls both back instead of stranding a catalog row
	// without a stored copy.
	var putErr error
	txErr := h.runTx(r.Context(), func(ctx context.Context, tx *sql.Tx) error {
		if err := h.images.WithTx(tx).CreateImage(ctx, image); err != nil {
			return fmt.Errorf("failed to record image: %w", err)
		}

		if err := adapter.Put(ctx, objectKey, file, size, contentType); err != nil {
			putErr = err
			return fmt.Errorf("failed to store upload: %w", err)
		}

		now := time.Now().UTC()
		location := &domain.ImageLocation{
			ImageID:      image.ID,
			EndpointID:   endpoint.ID,
			ObjectKey:    objectKey,
			IsPrimary:    true,
			SyncStatus:   domain.SyncStatusSynced,
			CategoryCode: category,
			SyncedAt:     &now,
		}
		if err := h.locations.WithTx(tx).UpsertLocation(ctx, location); err != nil {
			return fmt.Errorf("failed to record image location: %w", err)
		}

		return nil
	})
	if txErr != nil {
		if putErr != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadGateway,
				"Failed to store upload", txErr)
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to record image", txErr)
		return
	}

	taskIDs := make([]string, 0, 2)
	for _, spec := range []struct {
		taskType domain.TaskType
		payload  any
	}{
		{domain.TaskTypeAnalyzeImage, domain.AnalyzeImagePayload{ImageID: image.ID}},
		{domain.TaskTypeStorageSync, domain.StorageSyncPayload{ImageID: image.ID}},
	} {
		payload, err := domain.MarshalPayload(spec.payload)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to enqueue follow-up tasks", err)
			return
		}
		task, err := h.queue.Enqueue(r.Context(), spec.taskType, payload)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to enqueue follow-up tasks", err)
			return
		}
		taskIDs = append(taskIDs, task.ID.String())
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, UploadResponse{
		Image:   image,
		TaskIDs: taskIDs,
	})
}

// GetURL handles GET /images/{id}/url.
func (h *ImageHandler) GetURL(w http.ResponseWriter, r *http.Request) {
	id, err := parseImageID(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid image ID")
		return
	}

	url, err := h.engine.ResolveReadURL(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNoAvailableLocation) {
			shared.RespondWithError(w, r, http.StatusNotFound, "No available copy of image")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to resolve image URL", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"url": url})
}

// Get handles GET /images/{id}.
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseImageID(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid image ID")
		return
	}

	image, err := h.images.GetImage(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrImageNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Image not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load image", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, image)
}

// Delete handles DELETE /images/{id}: enqueues a storage_delete task that
// removes every copy along with the catalog row.
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseImageID(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid image ID")
		return
	}

	if _, err := h.images.GetImage(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrImageNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Image not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to load image", err)
		return
	}

	payload, err := domain.MarshalPayload(domain.StorageDeletePayload{ImageID: id})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to enqueue delete", err)
		return
	}

	task, err := h.queue.Enqueue(r.Context(), domain.TaskTypeStorageDelete, payload)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to enqueue delete", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{
		"task_id": task.ID.String(),
	})
}

func parseImageID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
