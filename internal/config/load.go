package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory or /etc/imagevault.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/imagevault")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment variables may carry everything.
	}

	// Environment variables use the IMAGEVAULT_ prefix with underscores,
	// e.g. IMAGEVAULT_DATABASE_URL maps to database.url.
	v.SetEnvPrefix("IMAGEVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("queue.max_workers", 3)
	v.SetDefault("queue.poll_interval_ms", 250)
	v.SetDefault("storage.health_check_interval", 60)
	v.SetDefault("ai.vision_model", "gemini-2.0-flash")
	v.SetDefault("ai.embedding_model", "text-embedding-004")
	v.SetDefault("vector.collection", "images")
}
