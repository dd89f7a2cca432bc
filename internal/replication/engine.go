// Package replication keeps image bytes consistent across the configured
// storage endpoints. Given an image's current locations it decides which
// endpoints are missing the object and drives the copy, records per-target
// sync state, and resolves the best endpoint for reads.
package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/platform/logger"
	"github.com/imagevault/imagevault/internal/registry"
	"github.com/imagevault/imagevault/internal/storage"
	"github.com/imagevault/imagevault/internal/store"
)

// TargetFailure records one endpoint's failure during a sync fan-out.
type TargetFailure struct {
	EndpointID int64  `json:"endpoint_id"`
	Error      string `json:"error"`
}

// SyncResult summarizes one SyncImage run.
type SyncResult struct {
	ImageID  int64           `json:"image_id"`
	Synced   int             `json:"synced"`
	Skipped  int             `json:"skipped"`
	Failures []TargetFailure `json:"failures,omitempty"`
}

// Engine is the storage sync engine.
type Engine struct {
	registry  *registry.Registry
	locations store.LocationStore
	logger    *slog.Logger

	// inflight serializes sync attempts per image: adapters do not support
	// concurrent writes to the same object key.
	mu       sync.Mutex
	inflight map[int64]*sync.Mutex
}

// NewEngine creates a sync engine over the given registry and location store.
func NewEngine(reg *registry.Registry, locations store.LocationStore, log *slog.Logger) *Engine {
	if reg == nil {
		panic("registry cannot be nil")
	}
	if locations == nil {
		panic("location store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		registry:  reg,
		locations: locations,
		logger:    log.With(slog.String("component", "sync_engine")),
		inflight:  make(map[int64]*sync.Mutex),
	}
}

// SyncImage replicates an image from its primary location to every enabled
// endpoint configured to auto-sync from the primary's endpoint. Targets that
// already hold a synced copy are skipped. A failing target is recorded as
// failed on its location row and reported; it does not block other targets.
// The returned error wraps domain.ErrSyncFailure when any target failed.
func (e *Engine) SyncImage(ctx context.Context, imageID int64) (*SyncResult, error) {
	unlock := e.lockImage(imageID)
	defer unlock()

	log := logger.FromContextOrDefault(ctx, e.logger)

	primary, err := e.locations.GetPrimary(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve primary location for image %d: %w", imageID, err)
	}

	sourceEndpoint, err := e.registry.Get(ctx, primary.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source endpoint: %w", err)
	}

	sourceAdapter, err := e.registry.AdapterFor(ctx, sourceEndpoint)
	if err != nil {
		return nil, err
	}

	targets, err := e.registry.AutoSyncTargets(ctx, primary.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sync targets: %w", err)
	}

	result := &SyncResult{ImageID: imageID}

	for _, target := range targets {
		if target.ID == primary.EndpointID {
			continue
		}

		existing, err := e.locations.GetLocation(ctx, imageID, target.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return result, err
		}
		if existing != nil && existing.SyncStatus == domain.SyncStatusSynced {
			result.Skipped++
			continue
		}

		if err := e.copyToTarget(ctx, primary, sourceAdapter, target); err != nil {
			log.Error("sync to endpoint failed",
				"image_id", imageID,
				"endpoint_id", target.ID,
				"endpoint_name", target.Name,
				"error", err)
			result.Failures = append(result.Failures, TargetFailure{
				EndpointID: target.ID,
				Error:      err.Error(),
			})
			continue
		}

		result.Synced++
	}

	if len(result.Failures) > 0 {
		return result, fmt.Errorf("%w: %d of %d targets failed",
			domain.ErrSyncFailure, len(result.Failures), len(result.Failures)+result.Synced+result.Skipped)
	}

	return result, nil
}

// copyToTarget streams the primary copy to one target endpoint and records
// the outcome on the target's location row.
func (e *Engine) copyToTarget(
	ctx context.Context,
	primary *domain.ImageLocation,
	sourceAdapter storage.ObjectStore,
	target *domain.StorageEndpoint,
) error {
	markFailed := func(cause error) error {
		location := &domain.ImageLocation{
			ImageID:      primary.ImageID,
			EndpointID:   target.ID,
			ObjectKey:    primary.ObjectKey,
			SyncStatus:   domain.SyncStatusFailed,
			SyncError:    cause.Error(),
			CategoryCode: primary.CategoryCode,
		}
		if err := e.locations.UpsertLocation(ctx, location); err != nil {
			return fmt.Errorf("%v (additionally failed to record sync failure: %w)", cause, err)
		}
		return cause
	}

	targetAdapter, err := e.registry.AdapterFor(ctx, target)
	if err != nil {
		return markFailed(err)
	}

	body, err := sourceAdapter.Get(ctx, primary.ObjectKey)
	if err != nil {
		return markFailed(fmt.Errorf("failed to read primary copy: %w", err))
	}
	defer func() { _ = body.Close() }()

	if err := targetAdapter.Put(ctx, primary.ObjectKey, body, 0, ""); err != nil {
		return markFailed(fmt.Errorf("failed to write to endpoint %q: %w", target.Name, err))
	}

	now := time.Now().UTC()
	location := &domain.ImageLocation{
		ImageID:      primary.ImageID,
		EndpointID:   target.ID,
		ObjectKey:    primary.ObjectKey,
		SyncStatus:   domain.SyncStatusSynced,
		CategoryCode: primary.CategoryCode,
		SyncedAt:     &now,
	}

	return e.locations.UpsertLocation(ctx, location)
}

// DeleteImage removes an image's object from one endpoint, or from every
// endpoint when endpointID is nil, along with the matching location rows.
// An already-absent object counts as success.
func (e *Engine) DeleteImage(ctx context.Context, imageID int64, endpointID *int64) error {
	unlock := e.lockImage(imageID)
	defer unlock()

	var locations []*domain.ImageLocation

	if endpointID != nil {
		location, err := e.locations.GetLocation(ctx, imageID, *endpointID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		locations = append(locations, location)
	} else {
		all, err := e.locations.ListByImage(ctx, imageID)
		if err != nil {
			return err
		}
		locations = all
	}

	var errs []error
	for _, location := range locations {
		endpoint, err := e.registry.Get(ctx, location.EndpointID)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		adapter, err := e.registry.AdapterFor(ctx, endpoint)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := adapter.Delete(ctx, location.ObjectKey); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete from endpoint %q: %w", endpoint.Name, err))
			continue
		}

		if err := e.locations.DeleteLocation(ctx, imageID, location.EndpointID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// UnlinkEndpoint removes every object and location row held by an endpoint
// that is being decommissioned. It refuses when the endpoint holds the only
// primary copy of any image; the caller must re-designate primaries first.
func (e *Engine) UnlinkEndpoint(ctx context.Context, endpointID int64) error {
	primaries, err := e.locations.CountPrimaryOnEndpoint(ctx, endpointID)
	if err != nil {
		return err
	}
	if primaries > 0 {
		return fmt.Errorf("%w: endpoint %d holds %d primary copies",
			domain.ErrPrimaryCopy, endpointID, primaries)
	}

	endpoint, err := e.registry.Get(ctx, endpointID)
	if err != nil {
		return err
	}

	adapter, err := e.registry.AdapterFor(ctx, endpoint)
	if err != nil {
		return err
	}

	locations, err := e.locations.ListByEndpoint(ctx, endpointID)
	if err != nil {
		return err
	}

	var errs []error
	for _, location := range locations {
		if err := adapter.Delete(ctx, location.ObjectKey); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", location.ObjectKey, err))
		}
	}
	if len(errs) > 0 {
		// Leave the rows in place so a retry can finish the cleanup.
		return errors.Join(errs...)
	}

	return e.locations.DeleteByEndpoint(ctx, endpointID)
}

// ResolveReadURL returns the URL of the best available copy of an image:
// the lowest read-priority healthy enabled endpoint holding a synced copy,
// falling back to the primary location, and failing with
// domain.ErrNoAvailableLocation when no synced copy exists anywhere.
func (e *Engine) ResolveReadURL(ctx context.Context, imageID int64) (string, error) {
	location, endpoint, err := e.resolveRead(ctx, imageID)
	if err != nil {
		return "", err
	}

	return joinURL(endpoint.BaseURL, location.ObjectKey), nil
}

// Open returns a reader over the best available copy of an image. Callers
// own the returned reader.
func (e *Engine) Open(ctx context.Context, imageID int64) (io.ReadCloser, error) {
	location, endpoint, err := e.resolveRead(ctx, imageID)
	if err != nil {
		return nil, err
	}

	adapter, err := e.registry.AdapterFor(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return adapter.Get(ctx, location.ObjectKey)
}

// resolveRead walks endpoints by ascending read priority, skipping disabled
// and unhealthy ones, and returns the first synced location. The primary
// location is the fallback regardless of its endpoint's health flag.
func (e *Engine) resolveRead(ctx context.Context, imageID int64) (*domain.ImageLocation, *domain.StorageEndpoint, error) {
	endpoints, err := e.registry.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, endpoint := range endpoints {
		if !endpoint.IsEnabled || !endpoint.IsHealthy {
			continue
		}

		location, err := e.locations.GetLocation(ctx, imageID, endpoint.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}

		if location.SyncStatus == domain.SyncStatusSynced {
			return location, endpoint, nil
		}
	}

	primary, err := e.locations.GetPrimary(ctx, imageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, domain.ErrNoAvailableLocation
		}
		return nil, nil, err
	}

	if primary.SyncStatus != domain.SyncStatusSynced {
		return nil, nil, domain.ErrNoAvailableLocation
	}

	endpoint, err := e.registry.Get(ctx, primary.EndpointID)
	if err != nil {
		return nil, nil, err
	}

	return primary, endpoint, nil
}

// lockImage serializes operations per image and returns the unlock func.
func (e *Engine) lockImage(imageID int64) func() {
	e.mu.Lock()
	lock, ok := e.inflight[imageID]
	if !ok {
		lock = &sync.Mutex{}
		e.inflight[imageID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func joinURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}
