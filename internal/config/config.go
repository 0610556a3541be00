// Package config loads and validates the AdminGuard configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AG_ prefix (e.g., AG_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The AG_JWT_SECRET variable is read directly by internal/auth rather than
// through this package so that token verification has no dependency on config
// loading order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds Redis connection configuration. Redis is optional: when
// Enabled is false, rate limit counters live in process memory and the global
// throttle is skipped.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// AdminTokenHash is the bcrypt hash of the provisioned admin token.
	// Generate a token pair with the hash-admin-token command. Empty disables
	// admin token auth; JWTs still work.
	AdminTokenHash string `mapstructure:"admin_token_hash"`
	// JWTExpiry is the lifetime of tokens issued by this service.
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS     CORSConfig     `mapstructure:"cors"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	TLS      TLSConfig      `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// ThrottleConfig holds the coarse per-client request throttle configuration.
// Requires Redis; ignored when redis.enabled is false.
type ThrottleConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// RateLimitConfig holds per-action rate limiting configuration
type RateLimitConfig struct {
	// Actions overrides individual entries of the built-in policy table,
	// keyed by action name (e.g. "settings_save").
	Actions map[string]ActionPolicyConfig `mapstructure:"actions"`
	// PruneInterval is how often expired in-memory counters are evicted.
	// Only relevant without Redis.
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// ActionPolicyConfig is one action's limit override
type ActionPolicyConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// WebhookConfig holds webhook delivery configuration
type WebhookConfig struct {
	// Workers is the number of concurrent delivery goroutines
	Workers int `mapstructure:"workers"`
	// QueueSize bounds the in-process dispatch queue
	QueueSize int `mapstructure:"queue_size"`
	// MaxAttempts is the delivery attempt ceiling before a delivery is marked exhausted
	MaxAttempts int `mapstructure:"max_attempts"`
	// Timeout bounds one delivery HTTP request
	Timeout time.Duration `mapstructure:"timeout"`
	// BackoffBase is the delay before the second attempt; doubles per attempt
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// BackoffCap is the upper bound on the retry delay
	BackoffCap time.Duration `mapstructure:"backoff_cap"`
	// RetryInterval is how often the retry job scans for due deliveries
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	// RetryBatchSize is the maximum deliveries re-enqueued per scan
	RetryBatchSize int `mapstructure:"retry_batch_size"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Lookback is how far back the suspicious-activity scan reaches
	Lookback time.Duration `mapstructure:"lookback"`
	// FailureThreshold is the failed-entry count per actor that flags suspicion
	FailureThreshold int `mapstructure:"failure_threshold"`
	// Shippers configures external log shipping destinations
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Type is the shipper type: "http" or "file"
	Type    string            `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Path    string            `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.enabled",
		"redis.address",
		"redis.password",
		"redis.db",

		// Auth
		"auth.admin_token_hash",
		"auth.jwt_expiry",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.throttle.enabled",
		"security.throttle.requests_per_minute",
		"security.throttle.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Rate limiting
		"ratelimit.prune_interval",

		// Webhooks
		"webhook.workers",
		"webhook.queue_size",
		"webhook.max_attempts",
		"webhook.timeout",
		"webhook.backoff_base",
		"webhook.backoff_cap",
		"webhook.retry_interval",
		"webhook.retry_batch_size",

		// Audit
		"audit.lookback",
		"audit.failure_threshold",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/adminguard")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("AG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.AdminTokenHash = expandEnv(cfg.Auth.AdminTokenHash)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "adminguard")
	v.SetDefault("database.user", "adminguard")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "1h")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.throttle.enabled", true)
	v.SetDefault("security.throttle.requests_per_minute", 300)
	v.SetDefault("security.throttle.burst", 50)
	v.SetDefault("security.tls.enabled", false)

	// Rate limiting defaults
	v.SetDefault("ratelimit.prune_interval", "5m")

	// Webhook defaults
	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.queue_size", 256)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.backoff_base", "30s")
	v.SetDefault("webhook.backoff_cap", "30m")
	v.SetDefault("webhook.retry_interval", "30s")
	v.SetDefault("webhook.retry_batch_size", 100)

	// Audit defaults
	v.SetDefault("audit.lookback", "15m")
	v.SetDefault("audit.failure_threshold", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "adminguard")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate Redis if enabled
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when Redis is enabled")
	}

	// Validate rate limit overrides
	for action, policy := range c.RateLimit.Actions {
		if policy.Limit < 1 {
			return fmt.Errorf("ratelimit.actions.%s.limit must be positive", action)
		}
		if policy.Window < time.Second {
			return fmt.Errorf("ratelimit.actions.%s.window must be at least 1s", action)
		}
	}

	// Validate webhook tuning
	if c.Webhook.MaxAttempts < 1 {
		return fmt.Errorf("webhook.max_attempts must be positive")
	}
	if c.Webhook.BackoffBase <= 0 || c.Webhook.BackoffCap < c.Webhook.BackoffBase {
		return fmt.Errorf("webhook backoff misconfigured: base %v, cap %v", c.Webhook.BackoffBase, c.Webhook.BackoffCap)
	}

	// Validate audit shippers
	for i, s := range c.Audit.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "http":
			if s.URL == "" {
				return fmt.Errorf("audit.shippers[%d]: http shipper requires url", i)
			}
		case "file":
			if s.Path == "" {
				return fmt.Errorf("audit.shippers[%d]: file shipper requires path", i)
			}
		default:
			return fmt.Errorf("audit.shippers[%d]: unknown type %q", i, s.Type)
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
