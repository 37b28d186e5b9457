package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. DRILLFLOW_ENGINE_MAX_WORKERS.
	EnvPrefix = "DRILLFLOW"
	// FileName is the config file name searched for without extension.
	FileName = "drillflow"
)

// Metadata describes where a loaded configuration came from.
type Metadata struct {
	ConfigFile string
	LoadedAt   time.Time
}

type loadOptions struct {
	configFile  string
	searchPaths []string
	homeDir     func() (string, error)
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigFile reads exactly this file. A missing file is an error.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = strings.TrimSpace(path) }
}

// WithSearchPaths replaces the directories searched for drillflow.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) { o.searchPaths = paths }
}

// WithHomeDir overrides home directory resolution.
func WithHomeDir(fn func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = fn }
}

// Load resolves the configuration. Without an explicit file it searches
// $HOME/.drillflow and the working directory; finding nothing is not an
// error.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{homeDir: os.UserHomeDir}
	for _, opt := range opts {
		opt(&options)
	}
	if options.searchPaths == nil {
		if home, err := options.homeDir(); err == nil && home != "" {
			options.searchPaths = append(options.searchPaths, filepath.Join(home, ".drillflow"))
		}
		options.searchPaths = append(options.searchPaths, ".")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
	} else {
		v.SetConfigName(FileName)
		for _, path := range options.searchPaths {
			v.AddConfigPath(path)
		}
	}

	meta := Metadata{LoadedAt: time.Now()}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if options.configFile != "" || !errors.As(err, &notFound) {
			return Config{}, Metadata{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		meta.ConfigFile = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, meta, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("engine.max_workers", d.Engine.Executor.MaxWorkers)
	v.SetDefault("engine.exactly_once", d.Engine.Executor.ExactlyOnce)
	v.SetDefault("engine.runner_timeout", d.Engine.Executor.RunnerTimeout)
	v.SetDefault("engine.progressive_analysis", d.Engine.Progression.ProgressiveAnalysis)
	v.SetDefault("engine.single_result_fast_path", d.Engine.Progression.SingleResultFastPath)

	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.jitter_factor", d.Retry.JitterFactor)

	v.SetDefault("breaker.enabled", d.Breaker.Enabled)
	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.success_threshold", d.Breaker.SuccessThreshold)
	v.SetDefault("breaker.timeout", d.Breaker.Timeout)

	v.SetDefault("store.dir", d.Store.Dir)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.run_timeout", d.Server.RunTimeout)

	v.SetDefault("collaborators.script", d.Collaborators.Script)
	v.SetDefault("collaborators.runner_url", d.Collaborators.RunnerURL)
	v.SetDefault("collaborators.runner_api_key", d.Collaborators.RunnerAPIKey)
	v.SetDefault("collaborators.runner_timeout", d.Collaborators.RunnerTimeout)

	obs := d.Observability
	v.SetDefault("observability.logging.level", obs.Logging.Level)
	v.SetDefault("observability.logging.format", obs.Logging.Format)
	v.SetDefault("observability.logging.file", obs.Logging.File)
	v.SetDefault("observability.logging.max_size_mb", obs.Logging.MaxSizeMB)
	v.SetDefault("observability.logging.max_backups", obs.Logging.MaxBackups)
	v.SetDefault("observability.logging.max_age_days", obs.Logging.MaxAgeDays)
	v.SetDefault("observability.metrics.enabled", obs.Metrics.Enabled)
	v.SetDefault("observability.tracing.enabled", obs.Tracing.Enabled)
	v.SetDefault("observability.tracing.exporter", obs.Tracing.Exporter)
	v.SetDefault("observability.tracing.otlp_endpoint", obs.Tracing.OTLPEndpoint)
	v.SetDefault("observability.tracing.zipkin_endpoint", obs.Tracing.ZipkinEndpoint)
	v.SetDefault("observability.tracing.sample_rate", obs.Tracing.SampleRate)
	v.SetDefault("observability.tracing.service_name", obs.Tracing.ServiceName)
	v.SetDefault("observability.tracing.service_version", obs.Tracing.ServiceVersion)
}

func normalize(cfg *Config) {
	cfg.Store.Dir = strings.TrimSpace(cfg.Store.Dir)
	cfg.Observability.Logging.File = ExpandHome(strings.TrimSpace(cfg.Observability.Logging.File))
	cfg.Server.Addr = strings.TrimSpace(cfg.Server.Addr)
	cfg.Collaborators.Script = strings.TrimSpace(cfg.Collaborators.Script)
	cfg.Collaborators.RunnerURL = strings.TrimSpace(cfg.Collaborators.RunnerURL)
	cfg.Collaborators.RunnerAPIKey = strings.TrimSpace(cfg.Collaborators.RunnerAPIKey)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
