package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTaskType is returned when a task type is not part of the
	// fixed enumeration.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidConfig is returned when runtime configuration (for example
	// the worker count) falls outside its allowed bounds.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoAvailableLocation is returned when the read path exhausts every
	// healthy endpoint without finding a synced copy of an image.
	ErrNoAvailableLocation = errors.New("no available location for image")

	// ErrSyncFailure is returned when replication to an endpoint fails.
	// It is recorded on the affected location and propagated as the owning
	// task's failure; it is never retried automatically.
	ErrSyncFailure = errors.New("storage sync failed")

	// ErrPrimaryCopy is returned when unlinking an endpoint would destroy
	// the only primary copy of at least one image.
	ErrPrimaryCopy = errors.New("endpoint holds the only primary copy of an image")

	// ErrUploadNotAccepted is returned when an upload targets an endpoint
	// that is disabled or not primary-role.
	ErrUploadNotAccepted = errors.New("endpoint does not accept uploads")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)
