package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sicko7947/world"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendSQL      = "sql"
	BackendDynamoDB = "dynamodb"
)

// Config is the daemon configuration file
type Config struct {
	Listen   string `yaml:"listen"`
	Backend  string `yaml:"backend"`
	LogLevel string `yaml:"log_level"`

	// DatabaseURL selects PostgreSQL (postgres://…) or SQLite (sqlite:path)
	DatabaseURL string `yaml:"database_url"`

	DynamoDB DynamoDBConfig `yaml:"dynamodb"`

	// ProcessorURL receives forwarded jobs at <url>/workflow and <url>/step.
	// Without it the lane consumers are not started.
	ProcessorURL   string        `yaml:"processor_url"`
	ForwardTimeout time.Duration `yaml:"forward_timeout"`

	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	StreamBucket      string        `yaml:"stream_bucket"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	World world.Config `yaml:"world"`
}

// DynamoDBConfig selects the DynamoDB table
type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// SQL backend URL used for the lanes, which DynamoDB does not provide.
	// Empty means in-memory lanes.
	LaneDatabaseURL string `yaml:"lane_database_url"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		Listen:            ":3000",
		Backend:           BackendMemory,
		LogLevel:          "info",
		ForwardTimeout:    30 * time.Second,
		VisibilityTimeout: 30 * time.Second,
		StreamBucket:      "streams",
		ShutdownTimeout:   5 * time.Second,
		World:             world.DefaultConfig,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge applies the non-empty fields of flags
func (c *Config) Merge(flags Config) {
	if flags.Listen != "" {
		c.Listen = flags.Listen
	}
	if flags.Backend != "" {
		c.Backend = flags.Backend
	}
	if flags.LogLevel != "" {
		c.LogLevel = flags.LogLevel
	}
	if flags.DatabaseURL != "" {
		c.DatabaseURL = flags.DatabaseURL
	}
	if flags.DynamoDB.Table != "" {
		c.DynamoDB.Table = flags.DynamoDB.Table
	}
	if flags.ProcessorURL != "" {
		c.ProcessorURL = flags.ProcessorURL
	}
}

// Validate checks that the selected backend is fully configured
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQL:
		if c.DatabaseURL == "" {
			return fmt.Errorf("backend %q requires database_url", c.Backend)
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("backend %q requires dynamodb.table", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.StreamBucket == "" {
		return fmt.Errorf("stream_bucket must not be empty")
	}
	return nil
}
