// Package config loads drillflow configuration from a YAML file, DRILLFLOW_*
// environment variables and built-in defaults, in increasing precedence of
// defaults < file < environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ierrors "drillflow/internal/errors"
	"drillflow/internal/executor"
	"drillflow/internal/observability"
	"drillflow/internal/progression"
)

// Config is the full drillflow configuration.
type Config struct {
	Engine        EngineConfig                 `yaml:"engine" mapstructure:"engine"`
	Cache         executor.CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Retry         ierrors.RetryConfig          `yaml:"retry" mapstructure:"retry"`
	Breaker       ierrors.CircuitBreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	Store         StoreConfig                  `yaml:"store" mapstructure:"store"`
	Server        ServerConfig                 `yaml:"server" mapstructure:"server"`
	Collaborators CollaboratorsConfig          `yaml:"collaborators" mapstructure:"collaborators"`
	Observability observability.Config         `yaml:"observability" mapstructure:"observability"`
}

// EngineConfig groups the executor and progression settings under one key.
type EngineConfig struct {
	Executor    executor.Config    `yaml:",inline" mapstructure:",squash"`
	Progression progression.Config `yaml:",inline" mapstructure:",squash"`
}

// StoreConfig locates the task snapshot store. An empty Dir keeps tasks in
// memory only.
type StoreConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RunTimeout      time.Duration `yaml:"run_timeout" mapstructure:"run_timeout"`
}

// CollaboratorsConfig selects the planner, decider, synthesizer and runner
// implementations. Script points at a scripted YAML file; RunnerURL, when
// set, replaces the scripted runner with the HTTP runner.
type CollaboratorsConfig struct {
	Script        string        `yaml:"script" mapstructure:"script"`
	RunnerURL     string        `yaml:"runner_url" mapstructure:"runner_url"`
	RunnerAPIKey  string        `yaml:"runner_api_key" mapstructure:"runner_api_key"`
	RunnerTimeout time.Duration `yaml:"runner_timeout" mapstructure:"runner_timeout"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Executor:    executor.DefaultConfig(),
			Progression: progression.DefaultConfig(),
		},
		Cache:   executor.DefaultCacheConfig(),
		Retry:   ierrors.DefaultRetryConfig(),
		Breaker: ierrors.DefaultCircuitBreakerConfig(),
		Store:   StoreConfig{Dir: "~/.drillflow/tasks"},
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			RunTimeout:      10 * time.Minute,
		},
		Collaborators: CollaboratorsConfig{
			RunnerTimeout: 5 * time.Minute,
		},
		Observability: observability.DefaultConfig(),
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.Executor.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_workers must be positive, got %d", c.Engine.Executor.MaxWorkers))
	}
	if c.Engine.Executor.RunnerTimeout < 0 {
		errs = append(errs, errors.New("engine.runner_timeout must not be negative"))
	}
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts))
	}
	if c.Breaker.Enabled && c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must be positive when the breaker is enabled"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Observability.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.level %q is not a known level", c.Observability.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(c.Observability.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.format must be text or json, got %q", c.Observability.Logging.Format))
	}
	return errors.Join(errs...)
}
