// Package config loads the market engine's configuration from defaults, an
// optional config file, a .env file and MARKET_ENGINE_* environment
// variables, in increasing order of precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// MARKET_ENGINE_SERVER_PORT.
const EnvPrefix = "MARKET_ENGINE"

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Trade    TradeConfig    `mapstructure:"trade"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

// RedisConfig holds cache and lock settings. An empty URL disables both.
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	LockRetry time.Duration `mapstructure:"lock_retry"`
}

// LimitsConfig holds per-user position limits. Zero disables a limit.
type LimitsConfig struct {
	MaxPerContract float64 `mapstructure:"max_per_contract"`
	MaxPerCategory float64 `mapstructure:"max_per_category"`
}

// TradeConfig holds trade execution settings
type TradeConfig struct {
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	PayoutWorkers int           `mapstructure:"payout_workers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps keys to the unprefixed variables deployments already set.
var legacyEnv = map[string]string{
	"server.port":  "PORT",
	"database.url": "DATABASE_URL",
	"redis.url":    "REDIS_URL",
}

// Load reads configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "30s")
	v.SetDefault("redis.lock_ttl", "10s")
	v.SetDefault("redis.lock_retry", "25ms")

	v.SetDefault("limits.max_per_contract", 1000)
	v.SetDefault("limits.max_per_category", 5000)

	v.SetDefault("trade.lock_timeout", "5s")
	v.SetDefault("trade.payout_workers", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if c.Redis.URL != "" {
		if c.Redis.CacheTTL <= 0 {
			return fmt.Errorf("redis.cache_ttl must be positive")
		}
		if c.Redis.LockTTL <= c.Trade.LockTimeout {
			return fmt.Errorf("redis.lock_ttl must exceed trade.lock_timeout")
		}
		if c.Redis.LockRetry <= 0 {
			return fmt.Errorf("redis.lock_retry must be positive")
		}
	}

	if c.Limits.MaxPerContract < 0 || c.Limits.MaxPerCategory < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	if c.Trade.LockTimeout <= 0 {
		return fmt.Errorf("trade.lock_timeout must be positive")
	}
	if c.Trade.PayoutWorkers < 1 {
		return fmt.Errorf("trade.payout_workers must be at least 1")
	}

	if _, err := c.Logging.level(); err != nil {
		return err
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}

func (l LoggingConfig) level() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level must be one of: debug, info, warn, error")
}

// NewLogger builds a logger writing to w at the configured level and
// format. An invalid level falls back to info.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
