package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the api, worker and mintctl binaries.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Store    StoreConfig    `yaml:"store"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Temporal TemporalConfig `yaml:"temporal"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig points at the backend that owns mint orders.
type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
	Timeout   string `yaml:"timeout"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file, ":memory:" for a throwaway store
	Key  string `yaml:"key"`
}

type RecoveryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BackoffBase string `yaml:"backoff_base"`
}

type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the settings used for local development.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8081/api",
			Timeout: "45s",
		},
		Store: StoreConfig{
			Path: "data/pending_confirms.db",
			Key:  "laura_pending_mint_confirms_v1",
		},
		Recovery: RecoveryConfig{
			MaxAttempts: 4,
			BackoffBase: "1200ms",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "MINT_CONFIRM_TASK_QUEUE",
		},
		HTTP:    HTTPConfig{Addr: ":8090"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MINT_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("MINT_AUTH_TOKEN"); v != "" {
		c.API.AuthToken = v
	}
	if v := os.Getenv("MINT_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("TEMPORAL_HOSTPORT"); v != "" {
		c.Temporal.HostPort = v
	}
	if v := os.Getenv("MINT_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("MINT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MINT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recovery.MaxAttempts = n
		}
	}
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url is required")
	}
	if c.Store.Path == "" {
		return errors.New("config: store.path is required")
	}
	if c.Recovery.MaxAttempts < 1 {
		return fmt.Errorf("config: recovery.max_attempts must be at least 1, got %d", c.Recovery.MaxAttempts)
	}
	if _, err := parseDuration("recovery.backoff_base", c.Recovery.BackoffBase); err != nil {
		return err
	}
	if _, err := parseDuration("api.timeout", c.API.Timeout); err != nil {
		return err
	}
	return nil
}

func (c *Config) BackoffBase() time.Duration {
	d, _ := parseDuration("recovery.backoff_base", c.Recovery.BackoffBase)
	return d
}

func (c *Config) APITimeout() time.Duration {
	d, _ := parseDuration("api.timeout", c.API.Timeout)
	return d
}

// parseDuration treats an empty value as "use the package default" (zero).
func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", field, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", field)
	}
	return d, nil
}
