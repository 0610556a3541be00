package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("database.ssl_mode = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Redis.Enabled {
		t.Error("redis.enabled should default to false")
	}
	if cfg.Webhook.MaxAttempts != 5 {
		t.Errorf("webhook.max_attempts = %d, want 5", cfg.Webhook.MaxAttempts)
	}
	if cfg.Webhook.BackoffBase != 30*time.Second {
		t.Errorf("webhook.backoff_base = %v, want 30s", cfg.Webhook.BackoffBase)
	}
	if cfg.Webhook.BackoffCap != 30*time.Minute {
		t.Errorf("webhook.backoff_cap = %v, want 30m", cfg.Webhook.BackoffCap)
	}
	if cfg.Audit.FailureThreshold != 5 {
		t.Errorf("audit.failure_threshold = %d, want 5", cfg.Audit.FailureThreshold)
	}
	if cfg.Audit.Lookback != 15*time.Minute {
		t.Errorf("audit.lookback = %v, want 15m", cfg.Audit.Lookback)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Telemetry.Metrics.PrometheusPort != 9090 {
		t.Errorf("telemetry.metrics.prometheus_port = %d, want 9090", cfg.Telemetry.Metrics.PrometheusPort)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	// An explicit path that does not exist is an error; only discovery mode
	// tolerates a missing file.
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load with explicit missing path should error")
	}
}

// ---------------------------------------------------------------------------
// File values and env overrides
// ---------------------------------------------------------------------------

func TestLoad_FileValues(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `
server:
  port: 9999
database:
  name: guard_test
  password: hunter2
ratelimit:
  actions:
    settings_save:
      limit: 20
      window: 120s
webhook:
  max_attempts: 3
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Name != "guard_test" {
		t.Errorf("database.name = %q, want guard_test", cfg.Database.Name)
	}
	policy, ok := cfg.RateLimit.Actions["settings_save"]
	if !ok {
		t.Fatal("ratelimit.actions.settings_save not loaded")
	}
	if policy.Limit != 20 || policy.Window != 2*time.Minute {
		t.Errorf("settings_save policy = %+v, want {20 2m}", policy)
	}
	if cfg.Webhook.MaxAttempts != 3 {
		t.Errorf("webhook.max_attempts = %d, want 3", cfg.Webhook.MaxAttempts)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("AG_DATABASE_HOST", "db.internal")
	t.Setenv("AG_SERVER_PORT", "7777")
	t.Setenv("AG_REDIS_ENABLED", "true")
	t.Setenv("AG_REDIS_ADDRESS", "redis.internal:6379")

	cfg, err := Load(writeConfigFile(t, `
database:
  host: file-host
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Errorf("database.host = %q, want db.internal (env wins)", cfg.Database.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("server.port = %d, want 7777", cfg.Server.Port)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Address != "redis.internal:6379" {
		t.Errorf("redis = %+v, want enabled at redis.internal:6379", cfg.Redis)
	}
}

func TestLoad_ExpandsPasswordEnvRef(t *testing.T) {
	t.Setenv("DB_SECRET", "s3cret-from-vault")
	cfg, err := Load(writeConfigFile(t, `
database:
  password: ${DB_SECRET}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Password != "s3cret-from-vault" {
		t.Errorf("database.password = %q, want expanded secret", cfg.Database.Password)
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 99999\n"},
		{"empty db host", "database:\n  host: \"\"\n"},
		{"redis enabled without address", "redis:\n  enabled: true\n  address: \"\"\n"},
		{"zero limit override", "ratelimit:\n  actions:\n    op:\n      limit: 0\n      window: 60s\n"},
		{"sub-second window", "ratelimit:\n  actions:\n    op:\n      limit: 5\n      window: 100ms\n"},
		{"zero webhook attempts", "webhook:\n  max_attempts: 0\n"},
		{"backoff cap below base", "webhook:\n  backoff_base: 1m\n  backoff_cap: 30s\n"},
		{"unknown shipper type", "audit:\n  shippers:\n    - enabled: true\n      type: syslog\n"},
		{"http shipper without url", "audit:\n  shippers:\n    - enabled: true\n      type: http\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"tls without cert", "security:\n  tls:\n    enabled: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfigFile(t, tc.yaml)); err == nil {
				t.Errorf("Load accepted invalid config:\n%s", tc.yaml)
			}
		})
	}
}

func TestValidate_DisabledShipperSkipsChecks(t *testing.T) {
	_, err := Load(writeConfigFile(t, `
audit:
  shippers:
    - enabled: false
      type: syslog
`))
	if err != nil {
		t.Errorf("disabled shipper should not be validated: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Helpers on config types
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "db", Port: 5433, User: "guard", Password: "pw",
		Name: "adminguard", SSLMode: "disable",
	}
	want := "host=db port=5433 user=guard password=pw dbname=adminguard sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}

func TestGetAddress(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if got := c.GetAddress(); got != "127.0.0.1:8080" {
		t.Errorf("GetAddress() = %q, want 127.0.0.1:8080", got)
	}
}
