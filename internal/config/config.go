// Package config provides configuration management for dashflow using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8888
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultUpstreamTimeout       = 30 * time.Second
	defaultRetryAttempts         = 3
	defaultRetryDelay            = 1 * time.Second
	defaultRetryMaxDelay         = 30 * time.Second
	defaultCircuitBreakerThresh  = 5
	defaultCircuitBreakerTimeout = 30 * time.Second

	defaultCacheWorkers    = 4
	defaultInitSegmentTTL  = time.Hour
	defaultManifestTTL     = time.Hour
	defaultSpeedtestTTL    = time.Hour
	defaultExtractorTTL    = 5 * time.Minute
	defaultInitSegmentCap  = 500 * MiB
	defaultManifestCap     = 100 * MiB
	defaultSpeedtestCap    = 50 * MiB
	defaultExtractorCap    = 50 * MiB
	defaultJanitorSchedule = "0 */15 * * * *" // every 15 minutes, 6-field cron
	defaultJanitorEnabled  = true
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the listen address in host:port form.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CacheTierConfig holds the policy for a single named cache.
type CacheTierConfig struct {
	// Label names the cache and its directory under the cache base directory.
	Label string `mapstructure:"label"`
	// TTL is the default entry lifetime.
	TTL time.Duration `mapstructure:"ttl"`
	// MaxMemory is the in-memory LRU byte capacity.
	// Supports human-readable values like "500MiB" or raw byte counts.
	MaxMemory ByteSize `mapstructure:"max_memory"`
}

// CacheConfig holds the configuration for all named caches.
type CacheConfig struct {
	// BaseDir is where hybrid caches keep their directories.
	// Empty means the system temp directory.
	BaseDir string `mapstructure:"base_dir"`
	// Workers is the file-I/O worker pool size per hybrid cache.
	Workers int `mapstructure:"workers"`

	InitSegment CacheTierConfig `mapstructure:"init_segment"`
	Manifest    CacheTierConfig `mapstructure:"manifest"`
	Speedtest   CacheTierConfig `mapstructure:"speedtest"`
	Extractor   CacheTierConfig `mapstructure:"extractor"`

	// JanitorEnabled turns on the scheduled sweep of expired cache files.
	JanitorEnabled bool `mapstructure:"janitor_enabled"`
	// JanitorSchedule is a 6-field cron expression for the sweep.
	JanitorSchedule string `mapstructure:"janitor_schedule"`
}

// UpstreamConfig holds the downstream HTTP fetch configuration.
type UpstreamConfig struct {
	Timeout                 time.Duration `mapstructure:"timeout"`
	RetryAttempts           int           `mapstructure:"retry_attempts"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay           time.Duration `mapstructure:"retry_max_delay"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	UserAgent               string        `mapstructure:"user_agent"`
}

// AuthConfig holds API-password and URL-signing configuration.
type AuthConfig struct {
	// APIPassword protects the proxy endpoints when set.
	APIPassword string `mapstructure:"api_password"`
	// SigningSecret derives the key for opaque token URLs. Required when
	// clients request encrypted proxy URLs.
	SigningSecret string `mapstructure:"signing_secret"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with DASHFLOW_, using underscores for nesting.
// Example: DASHFLOW_SERVER_PORT=8888.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dashflow")
		v.AddConfigPath("$HOME/.dashflow")
	}

	v.SetEnvPrefix("DASHFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	// The text unmarshaller hook lets ByteSize fields accept values like
	// "500MiB" from files and environment variables.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("cache.base_dir", "")
	v.SetDefault("cache.workers", defaultCacheWorkers)
	v.SetDefault("cache.init_segment.label", "init_segment_cache")
	v.SetDefault("cache.init_segment.ttl", defaultInitSegmentTTL)
	v.SetDefault("cache.init_segment.max_memory", int64(defaultInitSegmentCap))
	v.SetDefault("cache.manifest.label", "manifest_cache")
	v.SetDefault("cache.manifest.ttl", defaultManifestTTL)
	v.SetDefault("cache.manifest.max_memory", int64(defaultManifestCap))
	v.SetDefault("cache.speedtest.label", "speedtest_cache")
	v.SetDefault("cache.speedtest.ttl", defaultSpeedtestTTL)
	v.SetDefault("cache.speedtest.max_memory", int64(defaultSpeedtestCap))
	v.SetDefault("cache.extractor.label", "extractor_cache")
	v.SetDefault("cache.extractor.ttl", defaultExtractorTTL)
	v.SetDefault("cache.extractor.max_memory", int64(defaultExtractorCap))
	v.SetDefault("cache.janitor_enabled", defaultJanitorEnabled)
	v.SetDefault("cache.janitor_schedule", defaultJanitorSchedule)

	v.SetDefault("upstream.timeout", defaultUpstreamTimeout)
	v.SetDefault("upstream.retry_attempts", defaultRetryAttempts)
	v.SetDefault("upstream.retry_delay", defaultRetryDelay)
	v.SetDefault("upstream.retry_max_delay", defaultRetryMaxDelay)
	v.SetDefault("upstream.circuit_breaker_threshold", defaultCircuitBreakerThresh)
	v.SetDefault("upstream.circuit_breaker_timeout", defaultCircuitBreakerTimeout)
	v.SetDefault("upstream.user_agent", "dashflow/1.0")

	v.SetDefault("auth.api_password", "")
	v.SetDefault("auth.signing_secret", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Cache.Workers < 1 {
		return fmt.Errorf("cache.workers must be at least 1")
	}
	for _, tier := range []CacheTierConfig{c.Cache.InitSegment, c.Cache.Manifest, c.Cache.Speedtest, c.Cache.Extractor} {
		if tier.Label == "" {
			return fmt.Errorf("cache tier labels are required")
		}
		if tier.MaxMemory <= 0 {
			return fmt.Errorf("cache.%s.max_memory must be positive", tier.Label)
		}
		if tier.TTL <= 0 {
			return fmt.Errorf("cache.%s.ttl must be positive", tier.Label)
		}
	}

	if c.Upstream.RetryAttempts < 0 {
		return fmt.Errorf("upstream.retry_attempts must not be negative")
	}

	return nil
}
