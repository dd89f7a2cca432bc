package domain

import (
	"encoding/json"
	"fmt"
)

// Task payloads form a tagged union keyed by TaskType. Each task type has
// its own strongly-typed payload and result schema; the ledger stores them
// as JSON and handlers decode the variant matching the task's type.

// AnalyzeImagePayload is the payload for analyze_image tasks.
type AnalyzeImagePayload struct {
	ImageID int64 `json:"image_id"`
}

// AnalyzeImageResult is the success output of analyze_image tasks.
type AnalyzeImageResult struct {
	Tags []string `json:"tags"`
}

// VectorizeBatchPayload is the payload for vectorize_batch tasks.
type VectorizeBatchPayload struct {
	ImageIDs []int64 `json:"image_ids"`
}

// VectorizeBatchResult summarizes a bulk embedding run. FailedItems is
// capped; Overflow counts the failures that did not fit.
type VectorizeBatchResult struct {
	Processed   int          `json:"processed"`
	Failed      int          `json:"failed"`
	FailedItems []BatchError `json:"failed_items,omitempty"`
	Overflow    int          `json:"overflow,omitempty"`
}

// BatchError records one item's failure inside a bulk operation.
type BatchError struct {
	ImageID int64  `json:"image_id"`
	Error   string `json:"error"`
}

// RebuildVectorPayload is the payload for rebuild_vector tasks.
type RebuildVectorPayload struct {
	ImageID int64 `json:"image_id"`
}

// StorageSyncPayload is the payload for storage_sync tasks.
type StorageSyncPayload struct {
	ImageID int64 `json:"image_id"`
}

// StorageSyncResult is the success output of storage_sync tasks.
type StorageSyncResult struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
}

// StorageDeletePayload is the payload for storage_delete tasks.
// EndpointID nil means delete from every endpoint holding a copy.
type StorageDeletePayload struct {
	ImageID    int64  `json:"image_id"`
	EndpointID *int64 `json:"endpoint_id,omitempty"`
}

// StorageUnlinkPayload is the payload for storage_unlink tasks.
type StorageUnlinkPayload struct {
	EndpointID int64 `json:"endpoint_id"`
}

// MarshalPayload encodes a typed payload for storage in the ledger.
func MarshalPayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload decodes a ledger payload into the typed variant.
func UnmarshalPayload(data json.RawMessage, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	return nil
}
