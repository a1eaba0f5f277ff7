package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Deployment profile
	// Values: "lite" (embedded storage, single-node) or "standard" (Postgres+Redis, HA)
	Profile DeploymentProfile `mapstructure:"profile"`

	// Storage backend configuration
	Storage StorageConfig `mapstructure:"storage"`

	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Lock      LockConfig      `mapstructure:"lock"`
	App       AppConfig       `mapstructure:"app"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
	Retention RetentionConfig `mapstructure:"retention"`
	Pseudonym PseudonymConfig `mapstructure:"pseudonym"`
}

// DeploymentProfile represents the deployment profile type
type DeploymentProfile string

const (
	// ProfileLite is single-node deployment with embedded storage (SQLite)
	// No external dependencies (no Postgres, no Redis required)
	// Persistent storage via PVC (Kubernetes) or local filesystem
	// Use case: development, testing, small tenants
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard is HA-ready deployment with external storage (Postgres+Redis)
	// Requires: PostgreSQL (required), Redis (optional but needed for the
	// cached sample bridge and the agreement-recompute worker's distributed lock)
	// Use case: production, multi-replica, multi-tenant workloads
	ProfileStandard DeploymentProfile = "standard"
)

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	// Backend determines storage implementation
	// Values: "filesystem" (Lite), "postgres" (Standard)
	Backend StorageBackend `mapstructure:"backend"`

	// FilesystemPath is the path for embedded storage (Lite profile)
	// Default: /data/labelqueue.db (SQLite)
	FilesystemPath string `mapstructure:"filesystem_path"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// BridgeConfig configures how assignments resolve sample content from the
// system of record (§4.2 sample bridge).
type BridgeConfig struct {
	// Mode selects the SampleBridge implementation: "direct" (in-process store),
	// "http" (remote forge service over HTTP, with circuit breaker + retry), or
	// "cached" (http wrapped in a local LRU + Redis TTL tier).
	Mode            string        `mapstructure:"mode"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	LocalCacheSize  int           `mapstructure:"local_cache_size"`
	WarmConcurrency int           `mapstructure:"warm_concurrency"`
	CircuitMaxFails int           `mapstructure:"circuit_max_failures"`
	CircuitWindow   time.Duration `mapstructure:"circuit_window"`
	CircuitReset    time.Duration `mapstructure:"circuit_reset_timeout"`
}

// LogConfig holds logging-related configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	MaxTTL          time.Duration `mapstructure:"max_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxKeys         int64         `mapstructure:"max_keys"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
}

// LockConfig holds distributed lock configuration
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Name          string        `mapstructure:"name"`
	Version       string        `mapstructure:"version"`
	Environment   string        `mapstructure:"environment"`
	Debug         bool          `mapstructure:"debug"`
	Timezone      string        `mapstructure:"timezone"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`

	// DispatcherMaxCASRetries bounds FetchNext's optimistic-lock retry loop (§4.5).
	DispatcherMaxCASRetries int `mapstructure:"dispatcher_max_cas_retries"`
	// DispatcherPermissiveSubmit allows SubmitLabel against a Pending assignment, not just Reserved.
	DispatcherPermissiveSubmit bool `mapstructure:"dispatcher_permissive_submit"`
	// TimeoutSweepInterval is how often the timeout worker scans for expired reservations (§4.6).
	TimeoutSweepInterval time.Duration `mapstructure:"timeout_sweep_interval"`
	// TimeoutMaxRequeues bounds how many times a reservation can be requeued before timing out for good.
	TimeoutMaxRequeues int `mapstructure:"timeout_max_requeues"`
	// TimeoutRequeueDelay holds a requeued reservation back from immediate re-dispatch.
	TimeoutRequeueDelay time.Duration `mapstructure:"timeout_requeue_delay"`
	// AgreementRecomputeInterval is how often the agreement worker checks for due queues (§4.8).
	AgreementRecomputeInterval time.Duration `mapstructure:"agreement_recompute_interval"`
	// AgreementMinRaters is the minimum rater count before a sample's agreement is computed.
	AgreementMinRaters int `mapstructure:"agreement_min_raters"`
	// RetentionSweepInterval is how often the retention worker walks labels for expired fields (§4.10).
	RetentionSweepInterval time.Duration `mapstructure:"retention_sweep_interval"`
	// AuditRetention bounds how long audit log rows are kept before being trimmed.
	AuditRetention time.Duration `mapstructure:"audit_retention"`
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// ExportConfig holds export pipeline configuration (§4.9).
type ExportConfig struct {
	OutputDir      string `mapstructure:"output_dir"`
	DefaultFormat  string `mapstructure:"default_format"`
	BatchSize      int    `mapstructure:"batch_size"`
	SignedURLTTL   time.Duration `mapstructure:"signed_url_ttl"`
}

// RetentionConfig holds data-retention and audit-trim configuration (§4.10).
type RetentionConfig struct {
	DefaultFieldRetentionDays int  `mapstructure:"default_field_retention_days"`
	HardDeleteEnabled         bool `mapstructure:"hard_delete_enabled"`
}

// PseudonymConfig holds the HMAC secret used to derive labeler-facing pseudonyms (§4.11).
type PseudonymConfig struct {
	Secret string `mapstructure:"secret"`
}

// StorageBackend represents the storage implementation
type StorageBackend string

const (
	// StorageBackendFilesystem uses embedded storage (SQLite)
	// Used by Lite profile
	StorageBackendFilesystem StorageBackend = "filesystem"

	// StorageBackendPostgres uses PostgreSQL external storage
	// Used by Standard profile
	StorageBackendPostgres StorageBackend = "postgres"
)

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Set default values first
	setDefaults()

	// Enable automatic environment variable binding
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Try to read configuration file if it exists
	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, continue with defaults and env vars
		}
	}

	// Unmarshal configuration
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables only
func LoadConfigFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	setDefaults()

	// Unmarshal configuration
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Deployment profile defaults
	viper.SetDefault("profile", "standard")
	viper.SetDefault("storage.backend", "postgres")
	viper.SetDefault("storage.filesystem_path", "/data/labelqueue.db")

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	// Database defaults
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "labelqueue")
	viper.SetDefault("database.username", "dev")
	viper.SetDefault("database.password", "dev")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	// Sample bridge defaults
	viper.SetDefault("bridge.mode", "direct")
	viper.SetDefault("bridge.base_url", "")
	viper.SetDefault("bridge.timeout", "10s")
	viper.SetDefault("bridge.cache_ttl", "5m")
	viper.SetDefault("bridge.local_cache_size", 2048)
	viper.SetDefault("bridge.warm_concurrency", 8)
	viper.SetDefault("bridge.circuit_max_failures", 5)
	viper.SetDefault("bridge.circuit_window", "10s")
	viper.SetDefault("bridge.circuit_reset_timeout", "30s")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// Cache defaults
	viper.SetDefault("cache.default_ttl", "1h")
	viper.SetDefault("cache.max_ttl", "24h")
	viper.SetDefault("cache.cleanup_interval", "10m")
	viper.SetDefault("cache.max_keys", 10000)
	viper.SetDefault("cache.enable_metrics", true)

	// Lock defaults
	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "100ms")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.release_timeout", "2s")
	viper.SetDefault("lock.value_prefix", "lock")

	// App defaults
	viper.SetDefault("app.name", "labelqueue")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.timezone", "UTC")
	viper.SetDefault("app.max_workers", 10)
	viper.SetDefault("app.worker_timeout", "5m")
	viper.SetDefault("app.dispatcher_max_cas_retries", 5)
	viper.SetDefault("app.dispatcher_permissive_submit", false)
	viper.SetDefault("app.timeout_sweep_interval", "15s")
	viper.SetDefault("app.timeout_max_requeues", 3)
	viper.SetDefault("app.timeout_requeue_delay", "30s")
	viper.SetDefault("app.agreement_recompute_interval", "5m")
	viper.SetDefault("app.agreement_min_raters", 2)
	viper.SetDefault("app.retention_sweep_interval", "1h")
	viper.SetDefault("app.audit_retention", "8760h") // 1 year

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 8080)

	// Export defaults
	viper.SetDefault("export.output_dir", "/data/exports")
	viper.SetDefault("export.default_format", "jsonl")
	viper.SetDefault("export.batch_size", 1000)
	viper.SetDefault("export.signed_url_ttl", "15m")

	// Retention defaults
	viper.SetDefault("retention.default_field_retention_days", 365)
	viper.SetDefault("retention.hard_delete_enabled", true)

	// Pseudonym defaults
	viper.SetDefault("pseudonym.secret", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate deployment profile
	if err := c.validateProfile(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	// Skip database validation for Lite profile
	if c.Profile == ProfileStandard {
		if c.Database.Driver == "" {
			return fmt.Errorf("database driver cannot be empty (required for standard profile)")
		}

		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty (required for standard profile)")
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name cannot be empty (required for standard profile)")
		}
	}

	if c.Bridge.Mode != "direct" && c.Bridge.Mode != "http" && c.Bridge.Mode != "cached" {
		return fmt.Errorf("invalid bridge mode: %s (must be 'direct', 'http', or 'cached')", c.Bridge.Mode)
	}
	if (c.Bridge.Mode == "http" || c.Bridge.Mode == "cached") && c.Bridge.BaseURL == "" {
		return fmt.Errorf("bridge.base_url is required for bridge mode %q", c.Bridge.Mode)
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	return nil
}

// validateProfile validates deployment profile configuration
func (c *Config) validateProfile() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %s (must be 'lite' or 'standard')", c.Profile)
	}

	if c.Storage.Backend != StorageBackendFilesystem && c.Storage.Backend != StorageBackendPostgres {
		return fmt.Errorf("invalid storage backend: %s (must be 'filesystem' or 'postgres')", c.Storage.Backend)
	}

	switch c.Profile {
	case ProfileLite:
		if c.Storage.Backend != StorageBackendFilesystem {
			return fmt.Errorf("lite profile requires storage.backend='filesystem' (got '%s')", c.Storage.Backend)
		}
		if c.Storage.FilesystemPath == "" {
			return fmt.Errorf("lite profile requires storage.filesystem_path (e.g., /data/labelqueue.db)")
		}

	case ProfileStandard:
		if c.Storage.Backend != StorageBackendPostgres {
			return fmt.Errorf("standard profile requires storage.backend='postgres' (got '%s')", c.Storage.Backend)
		}
	}

	return nil
}

// GetDatabaseURL constructs database URL from configuration
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug returns true if debug mode is enabled
func (c *Config) IsDebug() bool {
	return c.App.Debug || c.IsDevelopment()
}

// IsLiteProfile returns true if running in Lite deployment profile
func (c *Config) IsLiteProfile() bool {
	return c.Profile == ProfileLite
}

// IsStandardProfile returns true if running in Standard deployment profile
func (c *Config) IsStandardProfile() bool {
	return c.Profile == ProfileStandard
}

// RequiresPostgres returns true if Postgres is required for this profile
func (c *Config) RequiresPostgres() bool {
	return c.Profile == ProfileStandard
}

// RequiresRedis returns true if Redis is required for this profile (the cached
// bridge variant and the agreement worker's distributed lock both need it).
func (c *Config) RequiresRedis() bool {
	return c.Profile == ProfileStandard && (c.Bridge.Mode == "cached" || c.App.AgreementRecomputeInterval > 0)
}

// UsesEmbeddedStorage returns true if using embedded storage (SQLite)
func (c *Config) UsesEmbeddedStorage() bool {
	return c.Storage.Backend == StorageBackendFilesystem
}

// UsesPostgresStorage returns true if using PostgreSQL storage
func (c *Config) UsesPostgresStorage() bool {
	return c.Storage.Backend == StorageBackendPostgres
}

// GetProfileName returns human-readable profile name
func (c *Config) GetProfileName() string {
	switch c.Profile {
	case ProfileLite:
		return "Lite (Embedded Storage)"
	case ProfileStandard:
		return "Standard (HA-Ready)"
	default:
		return string(c.Profile)
	}
}

// GetProfileDescription returns detailed profile description
func (c *Config) GetProfileDescription() string {
	switch c.Profile {
	case ProfileLite:
		return "Single-node deployment with embedded storage (SQLite). No external dependencies. Persistent via PVC."
	case ProfileStandard:
		return "HA-ready deployment with PostgreSQL and optional Redis. Supports multiple replicas and horizontal scaling."
	default:
		return "Unknown profile"
	}
}
