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

// PostgresEndpointStore implements the store.EndpointStore interface using
// PostgreSQL.
type PostgresEndpointStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresEndpointStore creates a new PostgreSQL implementation of the
// EndpointStore interface.
func NewPostgresEndpointStore(db store.DBTX, logger *slog.Logger) *PostgresEndpointStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresEndpointStore{
		db:     db,
		logger: logger.With(slog.String("component", "endpoint_store")),
	}
}

// Ensure PostgresEndpointStore implements store.EndpointStore interface
var _ store.EndpointStore = (*PostgresEndpointStore)(nil)

const endpointColumns = `id, name, role, backend, base_url, is_enabled, is_default_upload,
	read_priority, is_healthy, last_health_check, health_check_error,
	auto_sync_enabled, sync_from_endpoint_id,
	base_path, bucket, region, s3_endpoint_url, access_key_env, secret_key_env, force_path_style,
	created_at, updated_at`

// CreateEndpoint persists a new endpoint and fills in its generated ID.
func (s *PostgresEndpointStore) CreateEndpoint(ctx context.Context, endpoint *domain.StorageEndpoint) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := endpoint.Validate(); err != nil {
		log.Warn("endpoint validation failed during create",
			slog.String("error", err.Error()),
			slog.String("endpoint_name", endpoint.Name))
		return err
	}

	now := time.Now().UTC()
	endpoint.CreatedAt = now
	endpoint.UpdatedAt = now

	query := `
		INSERT INTO storage_endpoints (
			name, role, backend, base_url, is_enabled, is_default_upload,
			read_priority, is_healthy, auto_sync_enabled, sync_from_endpoint_id,
			base_path, bucket, region, s3_endpoint_url, access_key_env, secret_key_env, force_path_style,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		endpoint.Name,
		endpoint.Role,
		endpoint.Backend,
		endpoint.BaseURL,
		endpoint.IsEnabled,
		endpoint.ReadPriority,
		endpoint.IsHealthy,
		endpoint.AutoSyncEnabled,
		endpoint.SyncFromEndpointID,
		endpoint.BasePath,
		endpoint.Bucket,
		endpoint.Region,
		endpoint.S3EndpointURL,
		endpoint.AccessKeyEnv,
		endpoint.SecretKeyEnv,
		endpoint.ForcePathStyle,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	).Scan(&endpoint.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrEndpointNameExists
		}
		log.Error("failed to create endpoint",
			slog.String("endpoint_name", endpoint.Name),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create endpoint: %w", MapError(err))
	}

	return nil
}

// GetEndpoint retrieves an endpoint by ID.
func (s *PostgresEndpointStore) GetEndpoint(ctx context.Context, id int64) (*domain.StorageEndpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM storage_endpoints WHERE id = $1`, endpointColumns)

	endpoint, err := scanEndpoint(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("failed to get endpoint: %w", MapError(err))
	}

	return endpoint, nil
}

// ListEndpoints returns all configured endpoints ordered by read priority.
func (s *PostgresEndpointStore) ListEndpoints(ctx context.Context) ([]*domain.StorageEndpoint, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM storage_endpoints ORDER BY read_priority ASC, id ASC`,
		endpointColumns,
	)

	return s.queryEndpoints(ctx, query)
}

// UpdateEndpoint persists configuration changes to an existing endpoint.
func (s *PostgresEndpointStore) UpdateEndpoint(ctx context.Context, endpoint *domain.StorageEndpoint) error {
	if err := endpoint.Validate(); err != nil {
		return err
	}

	endpoint.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE storage_endpoints
		SET name = $1, role = $2, backend = $3, base_url = $4, is_enabled = $5,
			read_priority = $6, auto_sync_enabled = $7, sync_from_endpoint_id = $8,
			base_path = $9, bucket = $10, region = $11, s3_endpoint_url = $12,
			access_key_env = $13, secret_key_env = $14, force_path_style = $15,
			updated_at = $16
		WHERE id = $17
	`
	res, err := s.db.ExecContext(ctx, query,
		endpoint.Name,
		endpoint.Role,
		endpoint.Backend,
		endpoint.BaseURL,
		endpoint.IsEnabled,
		endpoint.ReadPriority,
		endpoint.AutoSyncEnabled,
		endpoint.SyncFromEndpointID,
		endpoint.BasePath,
		endpoint.Bucket,
		endpoint.Region,
		endpoint.S3EndpointURL,
		endpoint.AccessKeyEnv,
		endpoint.SecretKeyEnv,
		endpoint.ForcePathStyle,
		endpoint.UpdatedAt,
		endpoint.ID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return store.ErrEndpointNameExists
		}
		return fmt.Errorf("failed to update endpoint: %w", MapError(err))
	}

	return CheckRowsAffected(res, "endpoint")
}

// SetDefaultUpload atomically moves the default-upload flag to the target
// endpoint. Both statements run in one transaction when the store is used
// through WithTx; callers without a transaction still get atomicity because
// the clear and set are issued as a single CTE statement.
func (s *PostgresEndpointStore) SetDefaultUpload(ctx context.Context, id int64) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		WITH cleared AS (
			UPDATE storage_endpoints
			SET is_default_upload = FALSE, updated_at = $1
			WHERE is_default_upload = TRUE AND id <> $2
		)
		UPDATE storage_endpoints
		SET is_default_upload = TRUE, updated_at = $1
		WHERE id = $2
	`
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to set default upload endpoint",
			slog.Int64("endpoint_id", id),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to set default upload endpoint: %w", MapError(err))
	}

	return CheckRowsAffected(res, "endpoint")
}

// GetDefaultUpload returns the endpoint currently designated for uploads.
func (s *PostgresEndpointStore) GetDefaultUpload(ctx context.Context) (*domain.StorageEndpoint, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM storage_endpoints WHERE is_default_upload = TRUE`,
		endpointColumns,
	)

	endpoint, err := scanEndpoint(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("failed to get default upload endpoint: %w", MapError(err))
	}

	return endpoint, nil
}

// UpdateHealth records the outcome of a health probe.
func (s *PostgresEndpointStore) UpdateHealth(ctx context.Context, id int64, healthy bool, errorMsg string) error {
	var errArg any
	if errorMsg != "" {
		errArg = errorMsg
	}

	query := `
		UPDATE storage_endpoints
		SET is_healthy = $1, last_health_check = $2, health_check_error = $3, updated_at = $2
		WHERE id = $4
	`
	res, err := s.db.ExecContext(ctx, query, healthy, time.Now().UTC(), errArg, id)
	if err != nil {
		return fmt.Errorf("failed to update endpoint health: %w", MapError(err))
	}

	return CheckRowsAffected(res, "endpoint")
}

// AutoSyncTargets returns the enabled endpoints configured to replicate from
// the given source endpoint.
func (s *PostgresEndpointStore) AutoSyncTargets(ctx context.Context, sourceID int64) ([]*domain.StorageEndpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM storage_endpoints
		WHERE is_enabled = TRUE
			AND auto_sync_enabled = TRUE
			AND sync_from_endpoint_id = $1
	`, endpointColumns)

	return s.queryEndpoints(ctx, query, sourceID)
}

// WithTx returns a new EndpointStore instance that uses the provided transaction.
func (s *PostgresEndpointStore) WithTx(tx *sql.Tx) store.EndpointStore {
	return &PostgresEndpointStore{
		db:     tx,
		logger: s.logger,
	}
}

func (s *PostgresEndpointStore) queryEndpoints(ctx context.Context, query string, args ...any) ([]*domain.StorageEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var endpoints []*domain.StorageEndpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint row: %w", err)
		}
		endpoints = append(endpoints, endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoint rows: %w", err)
	}

	return endpoints, nil
}

func scanEndpoint(row rowScanner) (*domain.StorageEndpoint, error) {
	var (
		endpoint        domain.StorageEndpoint
		lastHealthCheck sql.NullTime
		healthErr       sql.NullString
		syncFrom        sql.NullInt64
	)

	err := row.Scan(
		&endpoint.ID,
		&endpoint.Name,
		&endpoint.Role,
		&endpoint.Backend,
		&endpoint.BaseURL,
		&endpoint.IsEnabled,
		&endpoint.IsDefaultUpload,
		&endpoint.ReadPriority,
		&endpoint.IsHealthy,
		&lastHealthCheck,
		&healthErr,
		&endpoint.AutoSyncEnabled,
		&syncFrom,
		&endpoint.BasePath,
		&endpoint.Bucket,
		&endpoint.Region,
		&endpoint.S3EndpointURL,
		&endpoint.AccessKeyEnv,
		&endpoint.SecretKeyEnv,
		&endpoint.ForcePathStyle,
		&endpoint.CreatedAt,
		&endpoint.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastHealthCheck.Valid {
		t := lastHealthCheck.Time
		endpoint.LastHealthCheck = &t
	}
	endpoint.HealthCheckError = healthErr.String
	if syncFrom.Valid {
		v := syncFrom.Int64
		endpoint.SyncFromEndpointID = &v
	}

	return &endpoint, nil
}
