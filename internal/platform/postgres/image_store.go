package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imagevault/imagevault/internal/domain"
	"github.com/imagevault/imagevault/internal/platform/logger"
	"github.com/imagevault/imagevault/internal/store"
)

// PostgresImageStore implements the store.ImageStore interface using PostgreSQL.
type PostgresImageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresImageStore creates a new PostgreSQL implementation of the
// ImageStore interface.
func NewPostgresImageStore(db store.DBTX, logger *slog.Logger) *PostgresImageStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresImageStore{
		db:     db,
		logger: logger.With(slog.String("component", "image_store")),
	}
}

// Ensure PostgresImageStore implements store.ImageStore interface
var _ store.ImageStore = (*PostgresImageStore)(nil)

// CreateImage persists a new image and fills in its generated ID.
func (s *PostgresImageStore) CreateImage(ctx context.Context, image *domain.Image) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := image.Validate(); err != nil {
		log.Warn("image validation failed during create",
			slog.String("error", err.Error()),
			slog.String("filename", image.Filename))
		return err
	}

	now := time.Now().UTC()
	image.CreatedAt = now
	image.UpdatedAt = now

	query := `
		INSERT INTO images (filename, hash, content_type, size_bytes, category_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		image.Filename,
		image.Hash,
		image.ContentType,
		image.SizeBytes,
		image.CategoryCode,
		image.CreatedAt,
		image.UpdatedAt,
	).Scan(&image.ID)
	if err != nil {
		log.Error("failed to create image",
			slog.String("filename", image.Filename),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create image: %w", MapError(err))
	}

	return nil
}

// GetImage retrieves an image by ID.
func (s *PostgresImageStore) GetImage(ctx context.Context, id int64) (*domain.Image, error) {
	query := `
		SELECT id, filename, hash, content_type, size_bytes, category_code, tags, created_at, updated_at
		FROM images
		WHERE id = $1
	`

	var (
		image domain.Image
		tags  []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&image.ID,
		&image.Filename,
		&image.Hash,
		&image.ContentType,
		&image.SizeBytes,
		&image.CategoryCode,
		&tags,
		&image.CreatedAt,
		&image.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to get image: %w", MapError(err))
	}

	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &image.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode image tags: %w", err)
		}
	}

	return &image, nil
}

// UpdateTags replaces an image's AI-generated tags.
func (s *PostgresImageStore) UpdateTags(ctx context.Context, id int64, tags []string) error {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode image tags: %w", err)
	}

	query := `UPDATE images SET tags = $1, updated_at = $2 WHERE id = $3`
	res, err := s.db.ExecContext(ctx, query, encoded, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update image tags: %w", MapError(err))
	}

	return CheckRowsAffected(res, "image")
}

// DeleteImage removes an image. Location rows cascade via the schema.
func (s *PostgresImageStore) DeleteImage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", MapError(err))
	}

	return CheckRowsAffected(res, "image")
}

// WithTx returns a new ImageStore instance that uses the provided transaction.
func (s *PostgresImageStore) WithTx(tx *sql.Tx) store.ImageStore {
	return &PostgresImageStore{
		db:     tx,
		logger: s.logger,
	}
}
