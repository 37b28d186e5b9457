package observability

import (
	"io"

	"github.com/natefinch/lumberjack"
)

// Config represents the complete observability configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// LoggingConfig configures logging. When File is set, logs go to a
// size-rotated file instead of stderr.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"` // json, text
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

func (c LoggingConfig) output() io.Writer {
	if c.File == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   true,
	}
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    defaultServiceName,
			ServiceVersion: "0.1.0",
		},
	}
}

// Stack bundles the initialised observability components.
type Stack struct {
	Logger  *Logger
	Tracer  *TracerProvider
	Metrics *MetricsCollector
}

// Setup builds the logger, tracer and metrics collector described by config.
func Setup(config Config) (*Stack, error) {
	logger := NewLogger(LogConfig{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
		Output: config.Logging.output(),
	})
	tracer, err := NewTracerProvider(config.Tracing)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetricsCollector(config.Metrics)
	if err != nil {
		return nil, err
	}
	return &Stack{Logger: logger, Tracer: tracer, Metrics: metrics}, nil
}
