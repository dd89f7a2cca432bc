package store

import (
	"context"
	"database/sql"

	"github.com/imagevault/imagevault/internal/domain"
)

// EndpointStore defines the interface for persisting storage endpoints.
type EndpointStore interface {
	// CreateEndpoint persists a new endpoint and fills in its generated ID.
	CreateEndpoint(ctx context.Context, endpoint *domain.StorageEndpoint) error

	// GetEndpoint retrieves an endpoint by ID, or ErrEndpointNotFound.
	GetEndpoint(ctx context.Context, id int64) (*domain.StorageEndpoint, error)

	// ListEndpoints returns all configured endpoints ordered by read priority.
	ListEndpoints(ctx context.Context) ([]*domain.StorageEndpoint, error)

	// UpdateEndpoint persists configuration changes to an existing endpoint.
	// Health fields and the default-upload flag are not written by this
	// method; they have dedicated operations.
	UpdateEndpoint(ctx context.Context, endpoint *domain.StorageEndpoint) error

	// SetDefaultUpload atomically clears the default-upload flag on every
	// other endpoint and sets it on the target. No intermediate state with
	// zero or multiple defaults is ever observable.
	SetDefaultUpload(ctx context.Context, id int64) error

	// GetDefaultUpload returns the endpoint currently designated for
	// uploads, or ErrEndpointNotFound when none has been set.
	GetDefaultUpload(ctx context.Context) (*domain.StorageEndpoint, error)

	// UpdateHealth records the outcome of a health probe. It is a pure data
	// mutation with no effect on in-flight sync operations.
	UpdateHealth(ctx context.Context, id int64, healthy bool, errorMsg string) error

	// AutoSyncTargets returns the enabled endpoints configured to replicate
	// from the given source endpoint. No ordering is guaranteed.
	AutoSyncTargets(ctx context.Context, sourceID int64) ([]*domain.StorageEndpoint, error)

	// WithTx returns a new EndpointStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) EndpointStore
}
