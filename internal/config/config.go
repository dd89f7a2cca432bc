// Package config loads and validates application configuration.
package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"`
	AI       AIConfig       `mapstructure:"ai"       validate:"required"`
	Vector   VectorConfig   `mapstructure:"vector"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains the settings for the admin-surface bearer tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// QueueConfig contains task queue tuning settings.
type QueueConfig struct {
	MaxWorkers   int `mapstructure:"max_workers"    validate:"required,gte=1,lte=10"`
	PollInterval int `mapstructure:"poll_interval_ms" validate:"gte=0"`
}

// StorageConfig contains settings for the storage layer.
type StorageConfig struct {
	// HealthCheckInterval is how often endpoints are probed, in seconds.
	// Zero disables the background health checker.
	HealthCheckInterval int `mapstructure:"health_check_interval" validate:"gte=0"`
}

// AIConfig contains all AI integration related settings.
type AIConfig struct {
	GeminiAPIKey   string `mapstructure:"gemini_api_key" validate:"required"`
	VisionModel    string `mapstructure:"vision_model"   validate:"required"`
	EmbeddingModel string `mapstructure:"embedding_model" validate:"required"`
}

// VectorConfig contains settings for the embedded vector store.
type VectorConfig struct {
	PersistPath string `mapstructure:"persist_path"`
	Collection  string `mapstructure:"collection"`
}
