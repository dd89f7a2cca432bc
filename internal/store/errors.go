package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrTaskNotFound, ErrEndpointNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., an endpoint with the same name).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation fails, for example
	// because the entity does not exist or the update violates constraints.
	ErrUpdateFailed = errors.New("update failed")

	// ErrDeleteFailed is returned when a delete operation fails, for example
	// because the entity does not exist or is referenced by other entities.
	ErrDeleteFailed = errors.New("delete failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the ledger.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrImageNotFound indicates that the requested image does not exist in the store.
	ErrImageNotFound = fmt.Errorf("%w: image", ErrNotFound)

	// ErrEndpointNotFound indicates that the requested storage endpoint does not exist.
	ErrEndpointNotFound = fmt.Errorf("%w: endpoint", ErrNotFound)

	// ErrLocationNotFound indicates that the requested image location does not exist.
	ErrLocationNotFound = fmt.Errorf("%w: image location", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrEndpointNameExists indicates that an endpoint with the given name
	// already exists.
	ErrEndpointNameExists = fmt.Errorf("%w: endpoint name", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
