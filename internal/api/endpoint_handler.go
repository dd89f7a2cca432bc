package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/imagevault/imagevault/internal/api/shared"
	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/registry"
	"github.com/imagevault/imagevault/internal/store"
)

// EndpointHandler exposes storage endpoint administration.
type EndpointHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewEndpointHandler creates an EndpointHandler.
func NewEndpointHandler(reg *registry.Registry, logger *slog.Logger) *EndpointHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &EndpointHandler{
		registry: reg,
		logger:   logger.With(slog.String("component", "endpoint_handler")),
	}
}

// EndpointRequest is the body for creating or updating an endpoint. The
// default-upload flag is deliberately absent; it changes only through the
// set-default route.
type EndpointRequest struct {
	Name         string `json:"name"         validate:"required"`
	Role         string `json:"role"         validate:"required,oneof=primary backup"`
	Backend      string `json:"backend"      validate:"required,oneof=local s3"`
	BaseURL      string `json:"base_url"     validate:"required,url"`
	IsEnabled    bool   `json:"is_enabled"`
	ReadPriority int    `json:"read_priority" validate:"gte=0"`

	AutoSyncEnabled    bool   `json:"auto_sync_enabled"`
	SyncFromEndpointID *int64 `json:"sync_from_endpoint_id,omitempty"`

	BasePath       string `json:"base_path,omitempty"`
	Bucket         string `json:"bucket,omitempty"`
	Region         string `json:"region,omitempty"`
	S3EndpointURL  string `json:"s3_endpoint_url,omitempty"`
	AccessKeyEnv   string `json:"access_key_env,omitempty"`
	SecretKeyEnv   string `json:"secret_key_env,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty"`
}

func (req *EndpointRequest) toDomain() *domain.StorageEndpoint {
	return &domain.StorageEndpoint{
		Name:               req.Name,
		Role:               domain.EndpointRole(req.Role),
		Backend:            domain.EndpointBackend(req.Backend),
		BaseURL:            req.BaseURL,
		IsEnabled:          req.IsEnabled,
		ReadPriority:       req.ReadPriority,
		AutoSyncEnabled:    req.AutoSyncEnabled,
		SyncFromEndpointID: req.SyncFromEndpointID,
		BasePath:           req.BasePath,
		Bucket:             req.Bucket,
		Region:             req.Region,
		S3EndpointURL:      req.S3EndpointURL,
		AccessKeyEnv:       req.AccessKeyEnv,
		SecretKeyEnv:       req.SecretKeyEnv,
		ForcePathStyle:     req.ForcePathStyle,
	}
}

// Create handles POST /endpoints.
func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req EndpointRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid endpoint configuration")
		return
	}

	endpoint := req.toDomain()
	if err := h.registry.Create(r.Context(), endpoint); err != nil {
		if errors.Is(err, store.ErrEndpointNameExists) {
			shared.RespondWithError(w, r, http.StatusConflict, "Endpoint name already exists")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to create endpoint", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, endpoint)
}

// List handles GET /endpoints.
func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.registry.List(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to list endpoints", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, endpoints)
}

// Update handles PUT /endpoints/{id}.
func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseEndpointID(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid endpoint ID")
		return
	}

	var req EndpointRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid endpoint configuration")
		return
	}

	endpoint := req.toDomain()
	endpoint.ID = id
	if err := h.registry.Update(r.Context(), endpoint); err != nil {
		switch {
		case errors.Is(err, store.ErrEndpointNotFound):
			shared.RespondWithError(w, r, http.StatusNotFound, "Endpoint not found")
		case errors.Is(err, store.ErrEndpointNameExists):
			shared.RespondWithError(w, r, http.StatusConflict, "Endpoint name already exists")
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to update endpoint", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, endpoint)
}

// SetDefault handles POST /endpoints/{id}/set-default.
func (h *EndpointHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id, err := parseEndpointID(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid endpoint ID")
		return
	}

	if err := h.registry.SetDefaultUpload(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrEndpointNotFound):
			shared.RespondWithError(w, r, http.StatusNotFound, "Endpoint not found")
		case errors.Is(err, domain.ErrUploadNotAccepted):
			shared.RespondWithError(w, r, http.StatusBadRequest,
				"Endpoint must be enabled and primary-role to accept uploads")
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to set default upload endpoint", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]bool{"success": true})
}

func parseEndpointID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
