package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Authority string        `yaml:"authority"`
	GRPC      ListenConfig  `yaml:"grpc"`
	HTTP      ListenConfig  `yaml:"http"`
	Metrics   ListenConfig  `yaml:"metrics"`
	Storage   StorageConfig `yaml:"storage"`
	Auth      AuthConfig    `yaml:"auth"`
	NATS      NATSConfig    `yaml:"nats"`
	Tracing   TracingConfig `yaml:"tracing"`
	Log       LogConfig     `yaml:"log"`
}

type ListenConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	AllowIssue bool          `yaml:"allow_issue"`
}

type NATSConfig struct {
	URL             string        `yaml:"url"`
	EventsSubject   string        `yaml:"events_subject"`
	TransferSubject string        `yaml:"transfer_subject"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads a YAML config file. An empty path yields the defaults, which
// still need a JWT secret before they validate.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":50051"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/badger"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.NATS.EventsSubject == "" {
		c.NATS.EventsSubject = "agrox.events"
	}
	if c.NATS.TransferTimeout == 0 {
		c.NATS.TransferTimeout = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Authority == "" {
		return fmt.Errorf("authority is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.GRPC.Addr == "" || c.HTTP.Addr == "" || c.Metrics.Addr == "" {
		return fmt.Errorf("grpc.addr, http.addr and metrics.addr are required")
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.NATS.TransferSubject != "" && c.NATS.URL == "" {
		return fmt.Errorf("nats.transfer_subject needs nats.url")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
