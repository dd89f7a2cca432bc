package domain

import (
	"errors"
	"time"
)

// SyncStatus represents the replication state of one image copy.
type SyncStatus string

// Possible sync status values
const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// Common validation errors for Image and ImageLocation
var (
	ErrEmptyImageFilename = errors.New("image filename cannot be empty")
	ErrEmptyImageHash     = errors.New("image hash cannot be empty")
	ErrEmptyObjectKey     = errors.New("object key cannot be empty")
)

// Image is an ingested image. Tags are filled in asynchronously by the
// analyze_image task; CategoryCode is immutable once set because the
// object key layout is derived from it.
type Image struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	Hash         string    `json:"hash"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CategoryCode string    `json:"category_code"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the image's invariants.
func (i *Image) Validate() error {
	if i.Filename == "" {
		return ErrEmptyImageFilename
	}

	if i.Hash == "" {
		return ErrEmptyImageHash
	}

	return nil
}

// ImageLocation records one image's presence (or sync state) at one
// endpoint. The object key is byte-identical across endpoints for a given
// image, and exactly one location per image carries IsPrimary.
type ImageLocation struct {
	ID           int64      `json:"id"`
	ImageID      int64      `json:"image_id"`
	EndpointID   int64      `json:"endpoint_id"`
	ObjectKey    string     `json:"object_key"`
	IsPrimary    bool       `json:"is_primary"`
	SyncStatus   SyncStatus `json:"sync_status"`
	SyncError    string     `json:"sync_error,omitempty"`
	CategoryCode string     `json:"category_code"`
	CreatedAt    time.Time  `json:"created_at"`
	SyncedAt     *time.Time `json:"synced_at,omitempty"`
}

// Validate checks the location's invariants.
func (l *ImageLocation) Validate() error {
	if l.ObjectKey == "" {
		return ErrEmptyObjectKey
	}

	switch l.SyncStatus {
	case SyncStatusSynced, SyncStatusPending, SyncStatusFailed:
		return nil
	default:
		return errors.New("invalid sync status")
	}
}
