package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/platform/logger"
	"github.com/imagevault/imagevault/internal/store"
)

// PostgresLocationStore implements the store.LocationStore interface using
// PostgreSQL. Location rows carry the mutable sync_status that concurrent
// workers touch, so every write here is a single guarded statement.
type PostgresLocationStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresLocationStore creates a new PostgreSQL implementation of the
// LocationStore interface.
func NewPostgresLocationStore(db store.DBTX, logger *slog.Logger) *PostgresLocationStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresLocationStore{
		db:     db,
		logger: logger.With(slog.String("component", "location_store")),
	}
}

// Ensure PostgresLocationStore implements store.LocationStore interface
var _ store.LocationStore = (*PostgresLocationStore)(nil)

const locationColumns = `id, image_id, endpoint_id, object_key, is_primary, sync_status, sync_error, category_code, created_at, synced_at`

// UpsertLocation inserts a location or updates the sync state of an existing
// one. The ON CONFLICT clause serializes concurrent upserts on the
// (image_id, endpoint_id) unique index, so two workers cannot leave the row
// in conflicting states. Object key and category code are never overwritten.
func (s *PostgresLocationStore) UpsertLocation(ctx context.Context, location *domain.ImageLocation) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := location.Validate(); err != nil {
		log.Warn("location validation failed during upsert",
			slog.String("error", err.Error()),
			slog.Int64("image_id", location.ImageID),
			slog.Int64("endpoint_id", location.EndpointID))
		return err
	}

	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}

	var syncErrArg any
	if location.SyncError != "" {
		syncErrArg = location.SyncError
	}

	query := `
		INSERT INTO image_locations (
			image_id, endpoint_id, object_key, is_primary, sync_status,
			sync_error, category_code, created_at, synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (image_id, endpoint_id) DO UPDATE
		SET is_primary = EXCLUDED.is_primary,
			sync_status = EXCLUDED.sync_status,
			sync_error = EXCLUDED.sync_error,
			synced_at = EXCLUDED.synced_at
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		location.ImageID,
		location.EndpointID,
		location.ObjectKey,
		location.IsPrimary,
		location.SyncStatus,
		syncErrArg,
		location.CategoryCode,
		location.CreatedAt,
		location.SyncedAt,
	).Scan(&location.ID)
	if err != nil {
		log.Error("failed to upsert location",
			slog.Int64("image_id", location.ImageID),
			slog.Int64("endpoint_id", location.EndpointID),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to upsert location: %w", MapError(err))
	}

	return nil
}

// GetLocation retrieves the location for an (image, endpoint) pair.
func (s *PostgresLocationStore) GetLocation(ctx context.Context, imageID, endpointID int64) (*domain.ImageLocation, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM image_locations WHERE image_id = $1 AND endpoint_id = $2`,
		locationColumns,
	)

	location, err := scanLocation(s.db.QueryRowContext(ctx, query, imageID, endpointID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrLocationNotFound
		}
		return nil, fmt.Errorf("failed to get location: %w", MapError(err))
	}

	return location, nil
}

// GetPrimary returns the image's primary location.
func (s *PostgresLocationStore) GetPrimary(ctx context.Context, imageID int64) (*domain.ImageLocation, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM image_locations WHERE image_id = $1 AND is_primary = TRUE`,
		locationColumns,
	)

	location, err := scanLocation(s.db.QueryRowContext(ctx, query, imageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrLocationNotFound
		}
		return nil, fmt.Errorf("failed to get primary location: %w", MapError(err))
	}

	return location, nil
}

// ListByImage returns every location of an image.
func (s *PostgresLocationStore) ListByImage(ctx context.Context, imageID int64) ([]*domain.ImageLocation, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM image_locations WHERE image_id = $1 ORDER BY endpoint_id ASC`,
		locationColumns,
	)

	return s.queryLocations(ctx, query, imageID)
}

// ListByEndpoint returns every location held by an endpoint.
func (s *PostgresLocationStore) ListByEndpoint(ctx context.Context, endpointID int64) ([]*domain.ImageLocation, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM image_locations WHERE endpoint_id = $1 ORDER BY image_id ASC`,
		locationColumns,
	)

	return s.queryLocations(ctx, query, endpointID)
}

// DeleteLocation removes one (image, endpoint) placement.
func (s *PostgresLocationStore) DeleteLocation(ctx context.Context, imageID, endpointID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM image_locations WHERE image_id = $1 AND endpoint_id = $2`,
		imageID, endpointID)
	if err != nil {
		return fmt.Errorf("failed to delete location: %w", MapError(err))
	}

	return nil
}

// DeleteByImage removes all of an image's locations.
func (s *PostgresLocationStore) DeleteByImage(ctx context.Context, imageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM image_locations WHERE image_id = $1`, imageID)
	if err != nil {
		return fmt.Errorf("failed to delete locations by image: %w", MapError(err))
	}

	return nil
}

// DeleteByEndpoint removes all locations held by an endpoint.
func (s *PostgresLocationStore) DeleteByEndpoint(ctx context.Context, endpointID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM image_locations WHERE endpoint_id = $1`, endpointID)
	if err != nil {
		return fmt.Errorf("failed to delete locations by endpoint: %w", MapError(err))
	}

	return nil
}

// CountPrimaryOnEndpoint returns how many images have their primary copy on
// the given endpoint.
func (s *PostgresLocationStore) CountPrimaryOnEndpoint(ctx context.Context, endpointID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image_locations WHERE endpoint_id = $1 AND is_primary = TRUE`,
		endpointID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count primary locations: %w", MapError(err))
	}

	return count, nil
}

// WithTx returns a new LocationStore instance that uses the provided transaction.
func (s *PostgresLocationStore) WithTx(tx *sql.Tx) store.LocationStore {
	return &PostgresLocationStore{
		db:     tx,
		logger: s.logger,
	}
}

func (s *PostgresLocationStore) queryLocations(ctx context.Context, query string, args ...any) ([]*domain.ImageLocation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var locations []*domain.ImageLocation
	for rows.Next() {
		location, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location row: %w", err)
		}
		locations = append(locations, location)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating location rows: %w", err)
	}

	return locations, nil
}

func scanLocation(row rowScanner) (*domain.ImageLocation, error) {
	var (
		location  domain.ImageLocation
		syncError sql.NullString
		syncedAt  sql.NullTime
	)

	err := row.Scan(
		&location.ID,
		&location.ImageID,
		&location.EndpointID,
		&location.ObjectKey,
		&location.IsPrimary,
		&location.SyncStatus,
		&syncError,
		&location.CategoryCode,
		&location.CreatedAt,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	location.SyncError = syncError.String
	if syncedAt.Valid {
		t := syncedAt.Time
		location.SyncedAt = &t
	}

	return &location, nil
}
