// Package config provides configuration management for MerchPulse.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	River     RiverConfig     `mapstructure:"river"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// ServerConfig contains HTTP server settings for the operational surface.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// A single pgxpool is shared by the repositories and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	// AutoMigrate applies the embedded schema and River migrations on
	// startup. Disable when migrations are managed externally.
	AutoMigrate bool `mapstructure:"auto_migrate"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// RedisConfig contains key-value store settings (progress runs, caches,
// pub/sub, tenant locks).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings. Each named queue carries its
// own concurrency limit: sync jobs are tenant-partitioned and moderate,
// single-customer RFM jobs are cheap and run wide, bulk analytics sweeps
// are resource-heavy and run narrow.
type RiverConfig struct {
	SyncWorkers                 int           `mapstructure:"sync_workers"`
	RFMWorkers                  int           `mapstructure:"rfm_workers"`
	SegmentWorkers              int           `mapstructure:"segment_workers"`
	WebhookWorkers              int           `mapstructure:"webhook_workers"`
	BulkWorkers                 int           `mapstructure:"bulk_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// PlatformConfig contains commerce platform API client settings.
type PlatformConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIVersion     string        `mapstructure:"api_version"`
	PageSize       int           `mapstructure:"page_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RequestsPerSecond throttles outbound API calls per client.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	RequestBurst      int     `mapstructure:"request_burst"`
}

// AnalyticsConfig contains RFM/churn/segment tuning knobs.
type AnalyticsConfig struct {
	// RFMBatchSize is the number of customers written per transaction
	// during a scoring sweep.
	RFMBatchSize int `mapstructure:"rfm_batch_size"`
	// HighValuePercentile marks customers at or above this spend
	// percentile as high-value.
	HighValuePercentile float64 `mapstructure:"high_value_percentile"`
	// ChurnRiskDays is the coarse recency cutoff for the isChurnRisk flag
	// set during RFM scoring.
	ChurnRiskDays int `mapstructure:"churn_risk_days"`
	// MinExpectedIntervalDays floors the per-customer expected order
	// interval used by the churn model.
	MinExpectedIntervalDays int `mapstructure:"min_expected_interval_days"`
	// DefaultExpectedIntervalDays is the fallback when neither the
	// customer nor the tenant has enough order history.
	DefaultExpectedIntervalDays int `mapstructure:"default_expected_interval_days"`
	// SegmentRefreshStagger spaces out segment recompute jobs enqueued
	// after an RFM sweep so they do not land simultaneously.
	SegmentRefreshStagger time.Duration `mapstructure:"segment_refresh_stagger"`
	// TenantLockTTL bounds the redis lock held during a tenant sweep.
	TenantLockTTL time.Duration `mapstructure:"tenant_lock_ttl"`
	// CacheTTL bounds tenant analytics summary caches.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ProgressConfig contains sync-progress store settings.
type ProgressConfig struct {
	// TTL is the lifetime of a progress record; records are never deleted
	// explicitly, they expire.
	TTL time.Duration `mapstructure:"ttl"`
	// PublishInterval is the per-run publish throttle window. Terminal
	// transitions always publish regardless.
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	// StaleAfter is how long a running sync may go without progress
	// before the periodic sweep marks it failed.
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// SubscriberBuffer is the per-subscriber channel depth in the
	// broadcaster; the oldest event is dropped when full.
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize   int `mapstructure:"general_pool_size"`
	BroadcastPoolSize int `mapstructure:"broadcast_pool_size"`
}

// Load reads configuration from file and environment variables.
// Standard environment variables without prefix (DATABASE_URL, SERVER_PORT, etc.).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/merchpulse")

	// Environment variable override.
	// Maps nested config: database.max_conns → DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Progress.PublishInterval <= 0 {
		return fmt.Errorf("progress.publish_interval must be positive")
	}
	if c.Progress.TTL < time.Minute {
		return fmt.Errorf("progress.ttl must be at least one minute")
	}
	if c.Analytics.RFMBatchSize <= 0 {
		return fmt.Errorf("analytics.rfm_batch_size must be positive")
	}
	if c.Analytics.HighValuePercentile <= 0 || c.Analytics.HighValuePercentile >= 1 {
		return fmt.Errorf("analytics.high_value_percentile must be in (0, 1)")
	}
	if c.Platform.PageSize <= 0 {
		return fmt.Errorf("platform.page_size must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database (shared pool)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "merchpulse")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "merchpulse")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")

	// Redis
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River queues
	v.SetDefault("river.sync_workers", 5)
	v.SetDefault("river.rfm_workers", 20)
	v.SetDefault("river.segment_workers", 10)
	v.SetDefault("river.webhook_workers", 10)
	v.SetDefault("river.bulk_workers", 2)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Platform API
	v.SetDefault("platform.api_version", "2024-10")
	v.SetDefault("platform.page_size", 250)
	v.SetDefault("platform.request_timeout", "30s")
	v.SetDefault("platform.requests_per_second", 2.0)
	v.SetDefault("platform.request_burst", 4)

	// Analytics
	v.SetDefault("analytics.rfm_batch_size", 100)
	v.SetDefault("analytics.high_value_percentile", 0.9)
	v.SetDefault("analytics.churn_risk_days", 90)
	v.SetDefault("analytics.min_expected_interval_days", 7)
	v.SetDefault("analytics.default_expected_interval_days", 90)
	v.SetDefault("analytics.segment_refresh_stagger", "2s")
	v.SetDefault("analytics.tenant_lock_ttl", "10m")
	v.SetDefault("analytics.cache_ttl", "1h")

	// Progress
	v.SetDefault("progress.ttl", "24h")
	v.SetDefault("progress.publish_interval", "500ms")
	v.SetDefault("progress.stale_after", "15m")
	v.SetDefault("progress.subscriber_buffer", 16)

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.broadcast_pool_size", 50)
}
