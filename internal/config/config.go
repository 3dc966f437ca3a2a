// Package config loads engine configuration from casesync.yaml and
// CASESYNC_* environment variables. Every knob has a default; a missing
// config file is not an error.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full engine configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Bus          BusConfig          `mapstructure:"bus"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
}

// ServerConfig points at the authoritative server
type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects and locates the durable store adapter
type StorageConfig struct {
	// Driver is "bolt" or "sqlite"
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// QueueConfig bounds the offline queue
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// DispatchConfig tunes the sync dispatcher
type DispatchConfig struct {
	Workers        int           `mapstructure:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

// BusConfig tunes the event bus and its optional cross-process bridge
type BusConfig struct {
	// Staleness drops remote events older than this on receipt
	Staleness time.Duration `mapstructure:"staleness"`

	// RedisAddr enables the Redis broadcaster when non-empty
	RedisAddr string `mapstructure:"redis_addr"`

	// Channel is the shared pub/sub channel name
	Channel string `mapstructure:"channel"`
}

// ConnectivityConfig tunes the reachability probe
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.timeout", 15*time.Second)

	v.SetDefault("storage.driver", "bolt")
	v.SetDefault("storage.path", "casesync.db")

	v.SetDefault("queue.capacity", 1000)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.initial_backoff", 500*time.Millisecond)
	v.SetDefault("dispatch.max_backoff", 30*time.Second)
	v.SetDefault("dispatch.attempt_timeout", 15*time.Second)
	v.SetDefault("dispatch.flush_interval", 30*time.Second)

	v.SetDefault("bus.staleness", 5*time.Second)
	v.SetDefault("bus.redis_addr", "")
	v.SetDefault("bus.channel", "casesync:events")

	v.SetDefault("connectivity.probe_interval", 15*time.Second)
}

// Load reads the configuration. With an empty path the file casesync.yaml
// is looked up in the working directory and ~/.casesync; environment
// variables CASESYNC_* override file values either way.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CASESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("casesync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.casesync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	if c.Queue.Capacity <= 0 {
		return errors.New("queue.capacity must be positive")
	}
	if c.Dispatch.Workers <= 0 {
		return errors.New("dispatch.workers must be positive")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return errors.New("dispatch.max_attempts must be positive")
	}
	return nil
}
