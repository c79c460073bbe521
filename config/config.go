// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/credix/creditgate/domain/cost"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Metering MeteringConfig `yaml:"metering"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig configures the SSI backend the gateway meters.
type UpstreamConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// DatabaseConfig configures the ledger database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the recharge session lookup.
// When Addr is empty the in-memory session store is used; recharge
// sessions then only exist for tests and local development.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	// JWTSecret verifies the recharge tokens minted by the billing
	// dashboard.
	JWTSecret string `yaml:"jwt_secret"`

	// AdminKeyHash is the bcrypt hash of the operator API key that
	// guards plan administration. Prefer the CREDITGATE_ADMIN_KEY_HASH
	// environment variable: the $ characters in a bcrypt hash collide
	// with env expansion in the YAML file.
	AdminKeyHash string `yaml:"admin_key_hash,omitempty"`

	// ServiceHeader carries the tenant identifier (default: X-Service-Id).
	ServiceHeader string `yaml:"service_header"`
}

// MeteringConfig configures pricing and billing exemptions.
type MeteringConfig struct {
	// ExemptOrigin marks dashboard read traffic as free. GET requests
	// whose Origin or Referer starts with this value are not billed,
	// so include the scheme (e.g. "https://dashboard.example.com").
	ExemptOrigin string `yaml:"exempt_origin,omitempty"`

	// Price overrides. Entries missing here keep the built-in prices.
	APICosts           map[string]int64 `yaml:"api_costs,omitempty"`
	StorageCosts       map[string]int64 `yaml:"storage_costs,omitempty"`
	AttestationCosts   map[string]int64 `yaml:"attestation_costs,omitempty"`
	AttestationDefault int64            `yaml:"attestation_default,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CostTable builds the effective price table: built-in defaults with
// the configured overrides applied on top.
func (m MeteringConfig) CostTable() cost.Table {
	t := cost.DefaultTable()
	for method, price := range m.APICosts {
		t.API[strings.ToUpper(method)] = price
	}
	for typ, price := range m.StorageCosts {
		t.Storage[cost.StorageType(strings.ToUpper(typ))] = price
	}
	for typ, price := range m.AttestationCosts {
		t.Attestation[cost.AttestationType(strings.ToUpper(typ))] = price
	}
	if m.AttestationDefault > 0 {
		t.AttestationDefault = m.AttestationDefault
	}
	return t
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	CREDITGATE_UPSTREAM_URL    - SSI backend URL (required)
//	CREDITGATE_DATABASE_DSN    - Ledger database path (default: creditgate.db)
//	CREDITGATE_SERVER_HOST     - Server host (default: 0.0.0.0)
//	CREDITGATE_SERVER_PORT     - Server port (default: 8080)
//	CREDITGATE_REDIS_ADDR      - Redis address for recharge sessions
//	CREDITGATE_JWT_SECRET      - Recharge token verification secret (required)
//	CREDITGATE_ADMIN_KEY_HASH  - bcrypt hash of the operator API key
//	CREDITGATE_EXEMPT_ORIGIN   - Origin whose GET traffic is free
//	CREDITGATE_LOG_LEVEL       - Log level (default: info)
//	CREDITGATE_LOG_FORMAT      - json or console (default: json)
//	CREDITGATE_METRICS_ENABLED - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables. This is the recommended method for Docker deployments.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("CREDITGATE_UPSTREAM_URL") != "" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set CREDITGATE_UPSTREAM_URL")
}

// applyEnvOverrides applies CREDITGATE_* environment variables to the
// config. Environment variables always override file-based values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CREDITGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CREDITGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CREDITGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("CREDITGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("CREDITGATE_UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("CREDITGATE_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.Timeout = d
		}
	}

	if v := os.Getenv("CREDITGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CREDITGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("CREDITGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CREDITGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CREDITGATE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	if v := os.Getenv("CREDITGATE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("CREDITGATE_ADMIN_KEY_HASH"); v != "" {
		cfg.Auth.AdminKeyHash = v
	}
	if v := os.Getenv("CREDITGATE_SERVICE_HEADER"); v != "" {
		cfg.Auth.ServiceHeader = v
	}

	if v := os.Getenv("CREDITGATE_EXEMPT_ORIGIN"); v != "" {
		cfg.Metering.ExemptOrigin = v
	}

	if v := os.Getenv("CREDITGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CREDITGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("CREDITGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("CREDITGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "creditgate.db"
	}

	if cfg.Auth.ServiceHeader == "" {
		cfg.Auth.ServiceHeader = "X-Service-Id"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	for method, price := range cfg.Metering.APICosts {
		if price < 0 {
			return fmt.Errorf("metering.api_costs[%s] must not be negative", method)
		}
	}
	for typ, price := range cfg.Metering.StorageCosts {
		if price < 0 {
			return fmt.Errorf("metering.storage_costs[%s] must not be negative", typ)
		}
	}
	for typ, price := range cfg.Metering.AttestationCosts {
		if price < 0 {
			return fmt.Errorf("metering.attestation_costs[%s] must not be negative", typ)
		}
	}

	return nil
}
