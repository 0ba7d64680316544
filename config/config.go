// Copyright 2021 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads engine configuration from environment variables
// prefixed with HTTPQ_.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name.
const Prefix = "HTTPQ_"

// Cache backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Config is the engine configuration.
type Config struct {
	// PoolSize is the number of network dispatchers.
	PoolSize int `env:"POOL_SIZE" envDefault:"4"`
	// DefaultTimeout, MaxRetries and BackoffMultiplier form the retry
	// policy given to requests which do not set their own.
	DefaultTimeout    time.Duration `env:"DEFAULT_TIMEOUT" envDefault:"2500ms"`
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"1"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"1.0"`
	// SlowThreshold is the lifetime past which requests and responses
	// are logged as slow.
	SlowThreshold time.Duration `env:"SLOW_THRESHOLD" envDefault:"3s"`

	Image ImageConfig `envPrefix:"IMAGE_"`
	Cache CacheConfig `envPrefix:"CACHE_"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// MetricsAddr is the listen address of the Prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `env:"METRICS_ADDR"`
}

// ImageConfig configures the image loader.
type ImageConfig struct {
	BatchDelay time.Duration `env:"BATCH_DELAY" envDefault:"100ms"`
	CacheBytes int64         `env:"CACHE_BYTES" envDefault:"33554432"`
}

// CacheConfig selects and configures the response cache.
type CacheConfig struct {
	Backend       string        `env:"BACKEND" envDefault:"none"`
	MemoryEntries int           `env:"MEMORY_ENTRIES" envDefault:"1024"`
	DynamoDBTable string        `env:"DYNAMODB_TABLE"`
	Retention     time.Duration `env:"RETENTION" envDefault:"24h"`
	PostgresDSN   string        `env:"POSTGRES_DSN"`
	PurgeInterval time.Duration `env:"PURGE_INTERVAL" envDefault:"1h"`
}

// Load reads the configuration from the process environment and
// validates it.
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads the configuration from environ, a map of variable
// names to values, and validates it. A nil environ means the process
// environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("httpq/config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool size must be positive, got %d", c.PoolSize))
	}
	if c.DefaultTimeout < 0 {
		errs = append(errs, errors.New("default timeout must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.BackoffMultiplier < 0 {
		errs = append(errs, errors.New("backoff multiplier must not be negative"))
	}
	if c.SlowThreshold < 0 {
		errs = append(errs, errors.New("slow threshold must not be negative"))
	}
	if c.Image.BatchDelay < 0 {
		errs = append(errs, errors.New("image batch delay must not be negative"))
	}
	switch c.Cache.Backend {
	case BackendNone, BackendMemory:
	case BackendDynamoDB:
		if c.Cache.DynamoDBTable == "" {
			errs = append(errs, errors.New("dynamodb cache backend needs a table"))
		}
	case BackendPostgres:
		if c.Cache.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres cache backend needs a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.PurgeInterval < 0 {
		errs = append(errs, errors.New("purge interval must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("httpq/config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
