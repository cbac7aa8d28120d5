package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"ratelimiter/internal/models"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. RATELIMITER_SERVER_PORT.
const EnvPrefix = "RATELIMITER_"

// defaultEnvFile is read when present and no other env file was named.
const defaultEnvFile = ".env"

// Load builds the configuration from defaults, an optional .env file, an
// optional YAML file and RATELIMITER_* environment variables, in that order
// of increasing precedence. Variables already set in the process
// environment win over the .env file.
func Load(configPath, envFile string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	if err := loadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadEnvFile exports the variables of a dotenv file. A named file must
// exist; the default .env is optional.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = defaultEnvFile
	}
	return godotenv.Load(path)
}

// deprecatedConfig mirrors config keys from older layouts so that stale
// operator configs are reported instead of silently ignored.
type deprecatedConfig struct {
	Storage  interface{} `yaml:"storage"`
	Security struct {
		EnableAuth interface{} `yaml:"enable_auth"`
		APIKeys    interface{} `yaml:"api_keys"`
	} `yaml:"security"`
	Logging struct {
		MaxSize interface{} `yaml:"max_size"`
	} `yaml:"logging"`
	Observability struct {
		ServiceVersion string `yaml:"service_version"`
	} `yaml:"observability"`
}

// warnDeprecatedKeys logs a warning for each removed config key found in the YAML data.
// The service continues to start normally - these keys are ignored by the main decoder.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Storage != nil {
		slog.Warn("Config key has been renamed; move these settings under persistence.", "config_key", "storage")
	}
	if dep.Security.EnableAuth != nil || dep.Security.APIKeys != nil {
		slog.Warn("Config key is no longer supported; put authentication in front of the service.", "config_key", "security.enable_auth")
	}
	if dep.Logging.MaxSize != nil {
		slog.Warn("Config key is no longer supported; rotate log files externally.", "config_key", "logging.max_size")
	}
	if dep.Observability.ServiceVersion != "" {
		slog.Warn("Config key is no longer supported; version is set at build time via ldflags.", "config_key", "observability.service_version")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment overrides fields whose RATELIMITER_* variable is set.
// Unset variables leave the current value alone.
func loadFromEnvironment(config *models.Config) error {
	return env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix})
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Example persistence and self-protection settings
	config.Persistence.Type = models.StorageTypeJSON
	config.Persistence.Path = "./data/buckets.json"
	config.Security.RateLimit.Enabled = true
	config.Limits.IdleTTL = config.Limits.EvictionInterval * 10

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
