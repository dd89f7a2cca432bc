package domain

import (
	"errors"
	"time"
)

// EndpointRole distinguishes endpoints that accept direct uploads from
// endpoints populated only by sync jobs.
type EndpointRole string

// Possible endpoint roles
const (
	EndpointRolePrimary EndpointRole = "primary"
	EndpointRoleBackup  EndpointRole = "backup"
)

// EndpointBackend identifies the concrete object store behind an endpoint.
type EndpointBackend string

// Supported backends
const (
	EndpointBackendLocal EndpointBackend = "local"
	EndpointBackendS3    EndpointBackend = "s3"
)

// Common validation errors for StorageEndpoint
var (
	ErrEmptyEndpointName      = errors.New("endpoint name cannot be empty")
	ErrInvalidEndpointRole    = errors.New("invalid endpoint role")
	ErrInvalidEndpointBackend = errors.New("invalid endpoint backend")
)

// StorageEndpoint is one configured storage backend. Health fields are
// mutated only by the health-check routine, and the default-upload flag
// only by the registry's set-default operation.
type StorageEndpoint struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Role            EndpointRole    `json:"role"`
	Backend         EndpointBackend `json:"backend"`
	BaseURL         string          `json:"base_url"`
	IsEnabled       bool            `json:"is_enabled"`
	IsDefaultUpload bool            `json:"is_default_upload"`
	ReadPriority    int             `json:"read_priority"`

	IsHealthy        bool       `json:"is_healthy"`
	LastHealthCheck  *time.Time `json:"last_health_check,omitempty"`
	HealthCheckError string     `json:"health_check_error,omitempty"`

	AutoSyncEnabled    bool   `json:"auto_sync_enabled"`
	SyncFromEndpointID *int64 `json:"sync_from_endpoint_id,omitempty"`

	// Backend settings. Local endpoints use BasePath; S3 endpoints use the
	// bucket fields. Credentials are referenced by environment variable
	// names, never stored inline.
	BasePath       string `json:"base_path,omitempty"`
	Bucket         string `json:"bucket,omitempty"`
	Region         string `json:"region,omitempty"`
	S3EndpointURL  string `json:"s3_endpoint_url,omitempty"`
	AccessKeyEnv   string `json:"access_key_env,omitempty"`
	SecretKeyEnv   string `json:"secret_key_env,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the endpoint's invariants.
func (e *StorageEndpoint) Validate() error {
	if e.Name == "" {
		return ErrEmptyEndpointName
	}

	if e.Role != EndpointRolePrimary && e.Role != EndpointRoleBackup {
		return ErrInvalidEndpointRole
	}

	if e.Backend != EndpointBackendLocal && e.Backend != EndpointBackendS3 {
		return ErrInvalidEndpointBackend
	}

	return nil
}

// AcceptsUploads reports whether the endpoint may receive direct uploads.
// Backup-role endpoints are only ever populated by sync jobs.
func (e *StorageEndpoint) AcceptsUploads() bool {
	return e.Role == EndpointRolePrimary && e.IsEnabled
}
