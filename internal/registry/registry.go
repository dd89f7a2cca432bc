// Package registry manages the set of configured storage endpoints: their
// roles, health, read priorities, default-upload designation and the object
// store adapter serving each one.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/storage"
	"github.com/imagevault/imagevault/internal/store"
)

// AdapterFactory builds an object store adapter for an endpoint.
type AdapterFactory func(ctx context.Context, endpoint *domain.StorageEndpoint) (storage.ObjectStore, error)

// Registry exposes endpoint configuration and per-endpoint adapters.
// Adapters are cached by endpoint ID and rebuilt after configuration edits.
type Registry struct {
	endpoints store.EndpointStore
	factory   AdapterFactory
	logger    *slog.Logger

	mu       sync.Mutex
	adapters map[int64]storage.ObjectStore
}

// NewRegistry creates a Registry over the given endpoint store. A nil
// factory falls back to DefaultAdapterFactory.
func NewRegistry(endpoints store.EndpointStore, factory AdapterFactory, logger *slog.Logger) *Registry {
	if endpoints == nil {
		panic("endpoint store cannot be nil")
	}

	if factory == nil {
		factory = DefaultAdapterFactory
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		endpoints: endpoints,
		factory:   factory,
		logger:    logger.With(slog.String("component", "endpoint_registry")),
		adapters:  make(map[int64]storage.ObjectStore),
	}
}

// DefaultAdapterFactory builds the adapter matching the endpoint's backend.
// S3 credentials are resolved from the environment variables named in the
// endpoint configuration.
func DefaultAdapterFactory(ctx context.Context, endpoint *domain.StorageEndpoint) (storage.ObjectStore, error) {
	switch endpoint.Backend {
	case domain.EndpointBackendLocal:
		return storage.NewLocalStore(endpoint.BasePath)
	case domain.EndpointBackendS3:
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          endpoint.Bucket,
			Region:          endpoint.Region,
			EndpointURL:     endpoint.S3EndpointURL,
			AccessKeyID:     os.Getenv(endpoint.AccessKeyEnv),
			SecretAccessKey: os.Getenv(endpoint.SecretKeyEnv),
			ForcePathStyle:  endpoint.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidEndpointBackend, endpoint.Backend)
	}
}

// Create persists a new endpoint.
func (r *Registry) Create(ctx context.Context, endpoint *domain.StorageEndpoint) error {
	return r.endpoints.CreateEndpoint(ctx, endpoint)
}

// Get retrieves an endpoint by ID.
func (r *Registry) Get(ctx context.Context, id int64) (*domain.StorageEndpoint, error) {
	return r.endpoints.GetEndpoint(ctx, id)
}

// List returns all configured endpoints ordered by read priority.
func (r *Registry) List(ctx context.Context) ([]*domain.StorageEndpoint, error) {
	return r.endpoints.ListEndpoints(ctx)
}

// Update persists configuration changes and drops the endpoint's cached
// adapter so the next use picks up the new settings.
func (r *Registry) Update(ctx context.Context, endpoint *domain.StorageEndpoint) error {
	if err := r.endpoints.UpdateEndpoint(ctx, endpoint); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.adapters, endpoint.ID)
	r.mu.Unlock()

	return nil
}

// SetDefaultUpload atomically designates the endpoint that accepts uploads.
// The target must exist, be enabled and have the primary role.
func (r *Registry) SetDefaultUpload(ctx context.Context, id int64) error {
	endpoint, err := r.endpoints.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}

	if !endpoint.AcceptsUploads() {
		return domain.ErrUploadNotAccepted
	}

	return r.endpoints.SetDefaultUpload(ctx, id)
}

// DefaultUpload returns the endpoint currently designated for uploads.
func (r *Registry) DefaultUpload(ctx context.Context) (*domain.StorageEndpoint, error) {
	return r.endpoints.GetDefaultUpload(ctx)
}

// UpdateHealth records a health probe outcome. It is a pure data mutation;
// in-flight sync operations against the endpoint are allowed to finish.
func (r *Registry) UpdateHealth(ctx context.Context, id int64, healthy bool, errorMsg string) error {
	return r.endpoints.UpdateHealth(ctx, id, healthy, errorMsg)
}

// AutoSyncTargets returns the enabled endpoints configured to replicate from
// the given source endpoint.
func (r *Registry) AutoSyncTargets(ctx context.Context, sourceID int64) ([]*domain.StorageEndpoint, error) {
	return r.endpoints.AutoSyncTargets(ctx, sourceID)
}

// AdapterFor returns the object store adapter serving an endpoint, building
// and caching it on first use.
func (r *Registry) AdapterFor(ctx context.Context, endpoint *domain.StorageEndpoint) (storage.ObjectStore, error) {
	r.mu.Lock()
	if adapter, ok := r.adapters[endpoint.ID]; ok {
		r.mu.Unlock()
		return adapter, nil
	}
	r.mu.Unlock()

	adapter, err := r.factory(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to build adapter for endpoint %q: %w", endpoint.Name, err)
	}

	r.mu.Lock()
	r.adapters[endpoint.ID] = adapter
	r.mu.Unlock()

	return adapter, nil
}
