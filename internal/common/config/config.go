// Package config loads GenieFlow's process configuration from environment
// variables and an optional YAML file via viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig controls the HTTP front door.
type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	ReadTimeoutMS   int    `mapstructure:"read_timeout_ms"`
	WriteTimeoutMS  int    `mapstructure:"write_timeout_ms"`
	ShutdownGraceMS int    `mapstructure:"shutdown_grace_ms"`
	Debug           bool   `mapstructure:"debug"`
	RoutePrefix     string `mapstructure:"route_prefix"`
}

// ReadTimeoutDuration returns the configured read timeout as a Duration.
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeoutDuration returns the configured write timeout as a Duration.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// ShutdownGraceDuration returns the configured graceful shutdown window.
func (s ServerConfig) ShutdownGraceDuration() time.Duration {
	return time.Duration(s.ShutdownGraceMS) * time.Millisecond
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NATSConfig controls the worker task queue transport.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// RedisConfig controls the primary Store backend (object/lock/progress).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	ObjectDB int    `mapstructure:"object_db"`
	LockDB   int    `mapstructure:"lock_db"`
	ProgDB   int    `mapstructure:"progress_db"`
}

// SQLiteConfig controls the local/dev alternate Store backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls the secondary durable archival store.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// StoreConfig controls session object/lock/progress lifetimes and the
// `"{schema_version}:{compression_flag}:{payload}"` wire format, per spec §4.6/§6.
type StoreConfig struct {
	AppPrefix                 string `mapstructure:"app_prefix"`
	Backend                   string `mapstructure:"backend"` // "redis" or "sqlite"
	ObjectExpirationSeconds   int    `mapstructure:"object_expiration_seconds"`
	LockExpirationSeconds     int    `mapstructure:"lock_expiration_seconds"`
	ProgressExpirationSeconds int    `mapstructure:"progress_expiration_seconds"`
	Compression               bool   `mapstructure:"compression"`
}

// WorkerConfig controls the Worker Runtime.
type WorkerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	RetryLimit         int `mapstructure:"retry_limit"`
	RetryDelayMS       int `mapstructure:"retry_delay_ms"`
	ReaperIntervalCron string `mapstructure:"reaper_interval_cron"`
	ReaperGraceSeconds int `mapstructure:"reaper_grace_seconds"`
}

// RetryDelayDuration returns the configured retry delay as a Duration.
func (w WorkerConfig) RetryDelayDuration() time.Duration {
	return time.Duration(w.RetryDelayMS) * time.Millisecond
}

// Config is the root configuration object for every GenieFlow process.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Store    StoreConfig    `mapstructure:"store"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout_ms", 15000)
	v.SetDefault("server.write_timeout_ms", 15000)
	v.SetDefault("server.shutdown_grace_ms", 30000)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.route_prefix", "/api")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "genieflow.tasks")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.object_db", 0)
	v.SetDefault("redis.lock_db", 1)
	v.SetDefault("redis.progress_db", 2)

	v.SetDefault("sqlite.path", "./genieflow.db")

	v.SetDefault("store.app_prefix", "genieflow")
	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.object_expiration_seconds", 86400)
	v.SetDefault("store.lock_expiration_seconds", 120)
	v.SetDefault("store.progress_expiration_seconds", 86400)
	v.SetDefault("store.compression", false)

	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.retry_limit", 3)
	v.SetDefault("worker.retry_delay_ms", 500)
	v.SetDefault("worker.reaper_interval_cron", "@every 1m")
	v.SetDefault("worker.reaper_grace_seconds", 300)
}

// Load builds a Config from (in increasing priority) defaults, an optional
// YAML file named by GENIEFLOW_CONFIG_FILE, and GENIEFLOW_*-prefixed
// environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GENIEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config_file"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
