// Package storage provides object store adapters for the configured
// storage endpoints. Adapters are safe for concurrent use across different
// object keys; concurrent writes to the same key are serialized by the
// replication engine, not here.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Get when the object does not exist.
// Delete treats a missing object as success (idempotent delete).
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the polymorphic capability over one concrete backend.
// One instance serves one storage endpoint.
type ObjectStore interface {
	// Put writes the object at key, replacing any existing content.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Get returns a reader over the object at key, or ErrObjectNotFound.
	// The caller owns the returned reader and must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Deleting an absent object is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)
}
