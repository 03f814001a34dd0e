// Package config loads runtime configuration for the AFitness sync core from
// an optional YAML file, a .env file and AFITNESS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// AFITNESS_REMOTE_BASE_URL.
const EnvPrefix = "AFITNESS"

// DefaultFileName is looked up in the working directory and the data
// directory when no explicit config path is given.
const DefaultFileName = "afitness.yaml"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir      string
	Storage      StorageConfig
	Queue        QueueConfig
	Remote       RemoteConfig
	Retry        RetryConfig
	Connectivity ConnectivityConfig
	Scheduler    SchedulerConfig
	Server       ServerConfig
	Log          LogConfig
}

type StorageConfig struct {
	Backend string
	// EncryptionKey is a 32-byte key, hex or base64 encoded. Empty disables
	// at-rest encryption of queued items.
	EncryptionKey string
}

type QueueConfig struct {
	// MaxSize bounds the number of stored items. Zero means unbounded.
	MaxSize int
}

type RemoteConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

type ConnectivityConfig struct {
	InitialOnline    bool
	ProbeInterval    time.Duration
	FailureThreshold int
	SignalFile       string
}

type SchedulerConfig struct {
	// SyncInterval is the period of background drains. Zero disables the
	// scheduler.
	SyncInterval time.Duration
}

type ServerConfig struct {
	Addr string
}

type LogConfig struct {
	Level   string
	File    string
	Console bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.encryption_key", "")
	v.SetDefault("queue.max_size", 0)
	v.SetDefault("remote.base_url", "http://localhost:8080/api")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("connectivity.initial_online", false)
	v.SetDefault("connectivity.probe_interval", 30*time.Second)
	v.SetDefault("connectivity.failure_threshold", 2)
	v.SetDefault("connectivity.signal_file", "")
	v.SetDefault("scheduler.sync_interval", 5*time.Minute)
	v.SetDefault("server.addr", "127.0.0.1:8090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.console", true)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".afitness"
	}
	return filepath.Join(home, ".afitness")
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

// Load reads configuration. path may be empty, in which case afitness.yaml is
// looked up in the working directory and is optional. A .env file in the
// working directory is loaded into the environment first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		DataDir: v.GetString("data_dir"),
		Storage: StorageConfig{
			Backend:       strings.ToLower(v.GetString("storage.backend")),
			EncryptionKey: v.GetString("storage.encryption_key"),
		},
		Queue: QueueConfig{
			MaxSize: v.GetInt("queue.max_size"),
		},
		Remote: RemoteConfig{
			BaseURL: strings.TrimRight(v.GetString("remote.base_url"), "/"),
			Token:   v.GetString("remote.token"),
			Timeout: v.GetDuration("remote.timeout"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
			Multiplier:  v.GetFloat64("retry.multiplier"),
		},
		Connectivity: ConnectivityConfig{
			InitialOnline:    v.GetBool("connectivity.initial_online"),
			ProbeInterval:    v.GetDuration("connectivity.probe_interval"),
			FailureThreshold: v.GetInt("connectivity.failure_threshold"),
			SignalFile:       v.GetString("connectivity.signal_file"),
		},
		Scheduler: SchedulerConfig{
			SyncInterval: v.GetDuration("scheduler.sync_interval"),
		},
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
		Log: LogConfig{
			Level:   v.GetString("log.level"),
			File:    v.GetString("log.file"),
			Console: v.GetBool("log.console"),
		},
	}
}

// Validate checks the configuration for values the subsystem cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("invalid storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != BackendMemory && c.DataDir == "" {
		return errors.New("data_dir is required for persistent storage")
	}
	if c.Queue.MaxSize < 0 {
		return errors.New("queue.max_size must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be at least 1")
	}
	if c.Remote.Timeout <= 0 {
		return errors.New("remote.timeout must be positive")
	}
	if c.Connectivity.FailureThreshold < 1 {
		return errors.New("connectivity.failure_threshold must be at least 1")
	}
	if c.Scheduler.SyncInterval < 0 {
		return errors.New("scheduler.sync_interval must not be negative")
	}
	return nil
}

// BadgerDir returns the directory of the Badger store inside the data
// directory.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.DataDir, "queue.badger")
}
