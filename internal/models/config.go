// Package models - Service configuration and operational settings.
//
// Configuration is layered: NewDefaultConfig supplies working defaults, a
// YAML file overrides them, and RATELIMITER_* environment variables override
// the file. Every section validates itself through struct tags plus a few
// hand-written cross-field rules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Persistence backend constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeJSON     = "json"
	StorageTypeSQLite   = "sqlite"
	StorageTypePostgres = "postgres"
	StorageTypeRedis    = "redis"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server" envPrefix:"SERVER_"`
	Limits        LimitsConfig        `yaml:"limits" json:"limits" envPrefix:"LIMITS_"`
	Persistence   PersistenceConfig   `yaml:"persistence" json:"persistence" envPrefix:"PERSISTENCE_"`
	Security      SecurityConfig      `yaml:"security" json:"security" envPrefix:"SECURITY_"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging" envPrefix:"LOG_"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability" envPrefix:"OBSERVABILITY_"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" json:"port" env:"PORT" validate:"min=1,max=65535"`
	Host            string        `yaml:"host" json:"host" env:"HOST" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT" validate:"min=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT" validate:"min=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"min=0"`
	TLSEnabled      bool          `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED"`
	TLSCertFile     string        `yaml:"tls_cert_file" json:"tls_cert_file" env:"TLS_CERT_FILE" validate:"required_if=TLSEnabled true"`
	TLSKeyFile      string        `yaml:"tls_key_file" json:"tls_key_file" env:"TLS_KEY_FILE" validate:"required_if=TLSEnabled true"`
	CORS            CORSConfig    `yaml:"cors" json:"cors" envPrefix:"CORS_"`
}

// CORSConfig lets a dashboard served from another origin call the API.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" env:"ENABLED"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" env:"ALLOWED_ORIGINS"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods" env:"ALLOWED_METHODS"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers" env:"ALLOWED_HEADERS"`
	MaxAge         int      `yaml:"max_age" json:"max_age" env:"MAX_AGE" validate:"min=0"`
}

// LimitsConfig shapes the admission engine.
type LimitsConfig struct {
	// Bucket shape used when a check request does not carry its own.
	DefaultCapacity   float64 `yaml:"default_capacity" json:"default_capacity" env:"DEFAULT_CAPACITY" validate:"gt=0"`
	DefaultRefillRate float64 `yaml:"default_refill_rate" json:"default_refill_rate" env:"DEFAULT_REFILL_RATE" validate:"gt=0"`

	LogCapacity int `yaml:"log_capacity" json:"log_capacity" env:"LOG_CAPACITY" validate:"min=1"`
	RecentLogs  int `yaml:"recent_logs" json:"recent_logs" env:"RECENT_LOGS" validate:"min=0"`
	Shards      int `yaml:"shards" json:"shards" env:"SHARDS" validate:"min=1,max=65536"`

	// IdleTTL of zero keeps buckets forever.
	IdleTTL          time.Duration `yaml:"idle_ttl" json:"idle_ttl" env:"IDLE_TTL" validate:"min=0"`
	EvictionInterval time.Duration `yaml:"eviction_interval" json:"eviction_interval" env:"EVICTION_INTERVAL" validate:"min=0"`
}

// PersistenceConfig selects where bucket snapshots are written. The memory
// backend keeps nothing across restarts.
type PersistenceConfig struct {
	Type             string         `yaml:"type" json:"type" env:"TYPE" validate:"oneof=memory json sqlite postgres redis"`
	Path             string         `yaml:"path" json:"path" env:"PATH"`
	SnapshotInterval time.Duration  `yaml:"snapshot_interval" json:"snapshot_interval" env:"SNAPSHOT_INTERVAL" validate:"min=0"`
	Database         DatabaseConfig `yaml:"database" json:"database" envPrefix:"DATABASE_"`
	Redis            RedisConfig    `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" validate:"min=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" env:"ADDR"`
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"DB" validate:"min=0"`
	PoolSize int    `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE" validate:"min=0"`
	Key      string `yaml:"key" json:"key" env:"KEY"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// RateLimitConfig throttles callers of the HTTP API itself, per client IP.
// It is independent of the buckets the API manages on behalf of clients.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled" env:"ENABLED"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute" env:"REQUESTS_PER_MINUTE" validate:"min=0"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size" env:"BURST_SIZE" validate:"min=0"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" env:"CLEANUP_INTERVAL" validate:"min=0"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" json:"format" env:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" json:"output" env:"OUTPUT" validate:"oneof=stdout stderr file"`
	FilePath string `yaml:"file_path" json:"file_path" env:"FILE_PATH" validate:"required_if=Output file"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" json:"path" env:"PATH"`
	Port    int    `yaml:"port" json:"port" env:"PORT"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name" env:"SERVICE_NAME" validate:"required"`
	Environment string        `yaml:"environment" json:"environment" env:"ENVIRONMENT"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing" envPrefix:"TRACING_"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Exporter     string  `yaml:"exporter" json:"exporter" env:"EXPORTER" validate:"omitempty,oneof=stdout otlp"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure bool    `yaml:"otlp_insecure" json:"otlp_insecure" env:"OTLP_INSECURE"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE" validate:"min=0,max=1"`
}

// NewDefaultConfig creates a configuration that runs out of the box: a
// 100 requests/minute default bucket, in-memory state, JSON logs to stdout
// and Prometheus metrics on a separate port.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         3600,
			},
		},
		Limits: LimitsConfig{
			DefaultCapacity:   100,
			DefaultRefillRate: 100.0 / 60.0,
			LogCapacity:       100,
			RecentLogs:        20,
			Shards:            32,
			IdleTTL:           0,
			EvictionInterval:  time.Minute,
		},
		Persistence: PersistenceConfig{
			Type:             StorageTypeMemory,
			Path:             "./data/buckets.json",
			SnapshotInterval: 30 * time.Second,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Key:  "ratelimiter:buckets",
			},
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 600,
				BurstSize:         100,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "ratelimiter",
			Environment: "development",
			Tracing: TracingConfig{
				Enabled:      false,
				Exporter:     "stdout",
				OTLPInsecure: true,
				SampleRate:   1.0,
			},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("invalid limits config: %w", err)
	}

	if err := c.Persistence.Validate(); err != nil {
		return fmt.Errorf("invalid persistence config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	return validateStruct(sc)
}

func (lc *LimitsConfig) Validate() error {
	if err := validateStruct(lc); err != nil {
		return err
	}
	if lc.RecentLogs > lc.LogCapacity {
		return errors.New("recent_logs cannot exceed log_capacity")
	}
	if lc.IdleTTL > 0 && lc.EvictionInterval <= 0 {
		return errors.New("eviction_interval must be positive when idle_ttl is set")
	}
	return nil
}

func (pc *PersistenceConfig) Validate() error {
	if err := validateStruct(pc); err != nil {
		return err
	}

	switch pc.Type {
	case StorageTypeJSON:
		if pc.Path == "" {
			return errors.New("path is required for JSON persistence")
		}
	case StorageTypeSQLite, StorageTypePostgres:
		if pc.Database.DSN == "" {
			return errors.New("database DSN is required for database persistence")
		}
	case StorageTypeRedis:
		if pc.Redis.Addr == "" {
			return errors.New("redis address is required for redis persistence")
		}
		if pc.Redis.Key == "" {
			return errors.New("redis key is required for redis persistence")
		}
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if err := validateStruct(sec); err != nil {
		return err
	}
	if sec.RateLimit.Enabled {
		if sec.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("requests per minute must be positive when rate limiting is enabled")
		}
		if sec.RateLimit.BurstSize <= 0 {
			return errors.New("burst size must be positive when rate limiting is enabled")
		}
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	return validateStruct(lc)
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if err := validateStruct(oc); err != nil {
		return err
	}
	if oc.Tracing.Enabled {
		switch oc.Tracing.Exporter {
		case "stdout":
		case "otlp":
			if oc.Tracing.OTLPEndpoint == "" {
				return errors.New("otlp endpoint is required when the otlp exporter is selected")
			}
		default:
			return fmt.Errorf("unsupported trace exporter: %q", oc.Tracing.Exporter)
		}
	}
	return nil
}

// validateStruct runs tag validation and flattens the result into one
// readable error.
func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatFieldError(e))
	}
	return errors.New(strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
