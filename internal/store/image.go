package store

import (
	"context"
	"database/sql"

	"github.com/imagevault/imagevault/internal/domain"
)

// ImageStore defines the interface for persisting images.
type ImageStore interface {
	// CreateImage persists a new image and fills in its generated ID.
	CreateImage(ctx context.Context, image *domain.Image) error

	// GetImage retrieves an image by ID, or ErrImageNotFound.
	GetImage(ctx context.Context, id int64) (*domain.Image, error)

	// UpdateTags replaces an image's AI-generated tags.
	UpdateTags(ctx context.Context, id int64, tags []string) error

	// DeleteImage removes an image. Location rows cascade with it.
	DeleteImage(ctx context.Context, id int64) error

	// WithTx returns a new ImageStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) ImageStore
}

// LocationStore defines the interface for persisting image locations.
type LocationStore interface {
	// UpsertLocation inserts a location or, when one already exists for the
	// (image, endpoint) pair, updates its sync state. The object key and
	// category code are immutable once written.
	UpsertLocation(ctx context.Context, location *domain.ImageLocation) error

	// GetLocation retrieves the location for an (image, endpoint) pair,
	// or ErrLocationNotFound.
	GetLocation(ctx context.Context, imageID, endpointID int64) (*domain.ImageLocation, error)

	// GetPrimary returns the image's primary location, or ErrLocationNotFound.
	GetPrimary(ctx context.Context, imageID int64) (*domain.ImageLocation, error)

	// ListByImage returns every location of an image.
	ListByImage(ctx context.Context, imageID int64) ([]*domain.ImageLocation, error)

	// ListByEndpoint returns every location held by an endpoint.
	ListByEndpoint(ctx context.Context, endpointID int64) ([]*domain.ImageLocation, error)

	// DeleteLocation removes one (image, endpoint) placement.
	DeleteLocation(ctx context.Context, imageID, endpointID int64) error

	// DeleteByImage removes all of an image's locations.
	DeleteByImage(ctx context.Context, imageID int64) error

	// DeleteByEndpoint removes all locations held by an endpoint.
	DeleteByEndpoint(ctx context.Context, endpointID int64) error

	// CountPrimaryOnEndpoint returns how many images have their primary
	// copy on the given endpoint. Non-zero means unlinking the endpoint
	// would destroy canonical data.
	CountPrimaryOnEndpoint(ctx context.Context, endpointID int64) (int, error)

	// WithTx returns a new LocationStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) LocationStore
}
