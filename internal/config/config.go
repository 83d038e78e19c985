// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Storage backend names for the audit trail.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Audit storage backend: memory, file, or postgres
	StorageBackend string `koanf:"storage_backend"`
	StorageDir     string `koanf:"storage_dir"` // file backend only
	DatabaseURL    string `koanf:"database_url"`

	// Audit chain signing key (hex or raw). Required in production;
	// generated per-process otherwise.
	SigningKey string `koanf:"signing_key"`

	// JWT Authentication. The previous secret keeps tokens valid across a
	// key rotation.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Redis (shared activity tracking; in-memory tracker when unset)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// S3-compatible WORM archive for audit entries (optional)
	ArchiveEnabled   bool   `koanf:"archive_enabled"`
	ArchiveBucket    string `koanf:"archive_bucket"`
	ArchiveEndpoint  string `koanf:"archive_endpoint"`
	ArchiveRegion    string `koanf:"archive_region"`
	ArchiveAccessKey string `koanf:"archive_access_key"`
	ArchiveSecretKey string `koanf:"archive_secret_key"`

	// Security team alerting webhooks (optional; log-only when unset)
	AlertWebhookURL         string `koanf:"alert_webhook_url"`
	AlertCriticalWebhookURL string `koanf:"alert_critical_webhook_url"`

	// CORS
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Rate limiting
	GlobalRateLimit int `koanf:"global_rate_limit"` // requests per minute
	ExportRateLimit int `koanf:"export_rate_limit"` // requests per minute

	// IANA timezone the after-hours detection rule evaluates in.
	// Empty means the host's local zone.
	DetectionTimezone string `koanf:"detection_timezone"`

	// Observability
	TracingEnabled   bool   `koanf:"tracing_enabled"`
	TracingEndpoint  string `koanf:"tracing_endpoint"`
	ProfilingEnabled bool   `koanf:"profiling_enabled"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret      = errors.New("SENTINEL_JWT_SECRET is required")
	ErrMissingSigningKey     = errors.New("SENTINEL_SIGNING_KEY is required in production")
	ErrMissingDatabaseURL    = errors.New("SENTINEL_DATABASE_URL is required for the postgres backend")
	ErrMissingStorageDir     = errors.New("SENTINEL_STORAGE_DIR is required for the file backend")
	ErrInvalidStorageBackend = errors.New("SENTINEL_STORAGE_BACKEND must be memory, file, or postgres")
	ErrMissingArchiveBucket  = errors.New("SENTINEL_ARCHIVE_BUCKET is required when archiving is enabled")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
	ErrInvalidTimezone       = errors.New("SENTINEL_DETECTION_TIMEZONE must be a valid IANA timezone name")
)

// Default values for non-secret configuration.
const (
	DefaultPort            = 8080
	DefaultEnv             = "development"
	DefaultStorageBackend  = StorageMemory
	DefaultGlobalRateLimit = 100
	DefaultExportRateLimit = 30
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	port, portErr := getEnvIntOrDefaultMulti([]string{"SENTINEL_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	globalLimit, limitErr := getEnvIntOrDefault("SENTINEL_GLOBAL_RATE_LIMIT", k.Int("global_rate_limit"), DefaultGlobalRateLimit)
	if limitErr != nil {
		loadErrs = append(loadErrs, limitErr)
	}
	exportLimit, limitErr := getEnvIntOrDefault("SENTINEL_EXPORT_RATE_LIMIT", k.Int("export_rate_limit"), DefaultExportRateLimit)
	if limitErr != nil {
		loadErrs = append(loadErrs, limitErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:           port,
		Env:            getEnvOrDefaultMulti([]string{"SENTINEL_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		StorageBackend: getEnvOrDefault("SENTINEL_STORAGE_BACKEND", k.String("storage_backend"), DefaultStorageBackend),
		StorageDir:     getEnvOrKoanf("SENTINEL_STORAGE_DIR", k, "storage_dir"),
		DatabaseURL:    getEnvOrKoanf("SENTINEL_DATABASE_URL", k, "database_url"),

		SigningKey: getEnvOrKoanf("SENTINEL_SIGNING_KEY", k, "signing_key"),

		JWTSecret:         getEnvOrKoanf("SENTINEL_JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret: getEnvOrKoanf("SENTINEL_JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),

		RedisAddr:     getEnvOrKoanf("SENTINEL_REDIS_ADDR", k, "redis_addr"),
		RedisPassword: getEnvOrKoanf("SENTINEL_REDIS_PASSWORD", k, "redis_password"),

		ArchiveEnabled:   getEnvBool("SENTINEL_ARCHIVE_ENABLED", k, "archive_enabled"),
		ArchiveBucket:    getEnvOrKoanf("SENTINEL_ARCHIVE_BUCKET", k, "archive_bucket"),
		ArchiveEndpoint:  getEnvOrKoanf("SENTINEL_ARCHIVE_ENDPOINT", k, "archive_endpoint"),
		ArchiveRegion:    getEnvOrKoanf("SENTINEL_ARCHIVE_REGION", k, "archive_region"),
		ArchiveAccessKey: getEnvOrKoanf("SENTINEL_ARCHIVE_ACCESS_KEY", k, "archive_access_key"),
		ArchiveSecretKey: getEnvOrKoanf("SENTINEL_ARCHIVE_SECRET_KEY", k, "archive_secret_key"),

		AlertWebhookURL:         getEnvOrKoanf("SENTINEL_ALERT_WEBHOOK_URL", k, "alert_webhook_url"),
		AlertCriticalWebhookURL: getEnvOrKoanf("SENTINEL_ALERT_CRITICAL_WEBHOOK_URL", k, "alert_critical_webhook_url"),

		CORSAllowedOrigins: getEnvList("SENTINEL_CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),

		GlobalRateLimit: globalLimit,
		ExportRateLimit: exportLimit,

		DetectionTimezone: getEnvOrKoanf("SENTINEL_DETECTION_TIMEZONE", k, "detection_timezone"),

		TracingEnabled:   getEnvBool("SENTINEL_TRACING_ENABLED", k, "tracing_enabled"),
		TracingEndpoint:  getEnvOrKoanf("SENTINEL_TRACING_ENDPOINT", k, "tracing_endpoint"),
		ProfilingEnabled: getEnvBool("SENTINEL_PROFILING_ENABLED", k, "profiling_enabled"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBool returns the environment variable as bool if set, otherwise the koanf value.
func getEnvBool(envKey string, k *koanf.Koanf, koanfKey string) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return k.Bool(koanfKey)
}

// getEnvList returns a comma-separated environment variable as a slice,
// otherwise the koanf list value.
func getEnvList(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageFile:
		if c.StorageDir == "" {
			errs = append(errs, ErrMissingStorageDir)
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
	default:
		errs = append(errs, ErrInvalidStorageBackend)
	}

	// A per-process generated key would orphan entries written by previous
	// runs, so production requires an explicit one.
	if c.IsProduction() && c.SigningKey == "" {
		errs = append(errs, ErrMissingSigningKey)
	}

	if c.ArchiveEnabled && c.ArchiveBucket == "" {
		errs = append(errs, ErrMissingArchiveBucket)
	}

	if c.DetectionTimezone != "" {
		if _, err := time.LoadLocation(c.DetectionTimezone); err != nil {
			errs = append(errs, ErrInvalidTimezone)
		}
	}

	return errs
}

// DetectionLocation resolves the configured detection timezone. Returns nil
// when unset; Validate has already rejected unloadable names.
func (c *Config) DetectionLocation() *time.Location {
	if c.DetectionTimezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.DetectionTimezone)
	if err != nil {
		return nil
	}
	return loc
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":              fmt.Sprintf("%d", c.Port),
		"env":               c.Env,
		"storage_backend":   c.StorageBackend,
		"storage_dir":       c.StorageDir,
		"database_url":      maskDatabaseURL(c.DatabaseURL),
		"signing_key":       maskSecret(c.SigningKey),
		"jwt_secret":        maskSecret(c.JWTSecret),
		"redis_addr":        c.RedisAddr,
		"archive_enabled":   fmt.Sprintf("%t", c.ArchiveEnabled),
		"archive_bucket":    c.ArchiveBucket,
		"archive_endpoint":  c.ArchiveEndpoint,
		"alert_webhook_url": c.AlertWebhookURL,
		"global_rate_limit": fmt.Sprintf("%d", c.GlobalRateLimit),
		"export_rate_limit": fmt.Sprintf("%d", c.ExportRateLimit),
		"tracing_enabled":   fmt.Sprintf("%t", c.TracingEnabled),
		"profiling_enabled": fmt.Sprintf("%t", c.ProfilingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
