// Package config loads callqueue settings through viper: defaults, then the
// config file, then CALLQUEUE_* environment variables, then bound flags.
package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fentz26/callqueue/internal/claim"
	"github.com/fentz26/callqueue/internal/identity"
	"github.com/fentz26/callqueue/internal/refresh"
)

// EnvPrefix prefixes every environment override, e.g. CALLQUEUE_STORE_BACKEND.
const EnvPrefix = "CALLQUEUE"

// Config represents the complete callqueue configuration
type Config struct {
	Operator OperatorConfig `mapstructure:"operator"`
	Store    StoreConfig    `mapstructure:"store"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Claim    ClaimConfig    `mapstructure:"claim"`
	Refresh  refresh.Config `mapstructure:"refresh"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// OperatorConfig names the operator. An empty name defers to the saved
// profile and then the OS user.
type OperatorConfig struct {
	Name string `mapstructure:"name"`
	// Known lists colleagues offered as transfer targets.
	Known []string `mapstructure:"known"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Backend is one of "sqlite", "redis", "http", "memory".
	Backend string `mapstructure:"backend"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path"`
	// RedisAddr, RedisPassword and RedisDB address the redis backend.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// APIURL is the record server used by the http backend.
	APIURL string `mapstructure:"api_url"`
	// MemoryLatency delays every call of the memory backend, for demos.
	MemoryLatency time.Duration `mapstructure:"memory_latency"`
}

// RealtimeConfig selects how change events travel between operators.
type RealtimeConfig struct {
	// Transport is one of "none", "sse", "redis". Empty picks one from the
	// store backend.
	Transport string `mapstructure:"transport"`
	// Topic is the redis pub/sub channel.
	Topic string `mapstructure:"topic"`
}

// ClaimConfig tunes the claim protocol.
type ClaimConfig struct {
	PropagationDelay time.Duration `mapstructure:"propagation_delay"`
	FailedClearAfter time.Duration `mapstructure:"failed_clear_after"`
	RetryOffset      time.Duration `mapstructure:"retry_offset"`
}

// Coordinator converts to the claim package's config.
func (c ClaimConfig) Coordinator() claim.Config {
	return claim.Config{
		PropagationDelay: c.PropagationDelay,
		FailedClearAfter: c.FailedClearAfter,
		RetryOffset:      c.RetryOffset,
	}
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File receives console logs so they never draw over the terminal UI.
	// Empty means <config dir>/console.log.
	File string `mapstructure:"file"`
}

// ServerConfig configures `callqueue serve`.
type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	Metrics bool   `mapstructure:"metrics"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cc := claim.DefaultConfig()
	return &Config{
		Store: StoreConfig{
			Backend:   "sqlite",
			Path:      filepath.Join(ConfigDir(), "callqueue.db"),
			RedisAddr: "localhost:6379",
			APIURL:    "http://127.0.0.1:7477",
		},
		Realtime: RealtimeConfig{
			Topic: "callqueue:events",
		},
		Claim: ClaimConfig{
			PropagationDelay: cc.PropagationDelay,
			FailedClearAfter: cc.FailedClearAfter,
			RetryOffset:      cc.RetryOffset,
		},
		Refresh: refresh.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr:    "127.0.0.1:7477",
			Metrics: true,
		},
	}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("operator.name", defaults.Operator.Name)
	v.SetDefault("operator.known", []string{})

	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.path", defaults.Store.Path)
	v.SetDefault("store.redis_addr", defaults.Store.RedisAddr)
	v.SetDefault("store.redis_password", defaults.Store.RedisPassword)
	v.SetDefault("store.redis_db", defaults.Store.RedisDB)
	v.SetDefault("store.api_url", defaults.Store.APIURL)
	v.SetDefault("store.memory_latency", defaults.Store.MemoryLatency)

	v.SetDefault("realtime.transport", defaults.Realtime.Transport)
	v.SetDefault("realtime.topic", defaults.Realtime.Topic)

	v.SetDefault("claim.propagation_delay", defaults.Claim.PropagationDelay)
	v.SetDefault("claim.failed_clear_after", defaults.Claim.FailedClearAfter)
	v.SetDefault("claim.retry_offset", defaults.Claim.RetryOffset)

	v.SetDefault("refresh.active_interval", defaults.Refresh.ActiveInterval)
	v.SetDefault("refresh.idle_interval", defaults.Refresh.IdleInterval)
	v.SetDefault("refresh.min_interval", defaults.Refresh.MinInterval)
	v.SetDefault("refresh.max_interval", defaults.Refresh.MaxInterval)
	v.SetDefault("refresh.backoff_multiplier", defaults.Refresh.BackoffMultiplier)
	v.SetDefault("refresh.inactivity_threshold", defaults.Refresh.InactivityThreshold)
	v.SetDefault("refresh.activity_debounce", defaults.Refresh.ActivityDebounce)
	v.SetDefault("refresh.visibility_threshold", defaults.Refresh.VisibilityThreshold)
	v.SetDefault("refresh.visibility_min_interval", defaults.Refresh.VisibilityMinInterval)
	v.SetDefault("refresh.hint_settle", defaults.Refresh.HintSettle)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.file", defaults.Logging.File)

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.metrics", defaults.Server.Metrics)
}

// New returns a viper instance with defaults, the env prefix and the
// search path set. file, when non-empty, is the only config file read.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return v
	}
	v.SetConfigName("callqueue")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath("$HOME/.callqueue")
	v.AddConfigPath(".")
	return v
}

// Load reads the config file if there is one, unmarshals and validates.
// A missing file in the search path is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the callqueue config directory.
func ConfigDir() string {
	dir, err := identity.DefaultConfigDir()
	if err != nil {
		return ".callqueue"
	}
	return dir
}

// RealtimeTransport resolves an empty transport from the store backend:
// redis stores use redis pub/sub, http stores use the server's event stream.
func (c *Config) RealtimeTransport() string {
	if c.Realtime.Transport != "" {
		return c.Realtime.Transport
	}
	switch c.Store.Backend {
	case "redis":
		return "redis"
	case "http":
		return "sse"
	default:
		return "none"
	}
}

// LogFile returns the console log path.
func (c *Config) LogFile() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(ConfigDir(), "console.log")
}
