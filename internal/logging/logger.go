package logging

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"drillflow/internal/observability"
)

// Logger defines a minimal, printf-style logging contract.
//
// Engine packages depend on this interface rather than on a concrete
// handler so callers can plug in any sink.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var defaultLogger atomic.Pointer[observability.Logger]

// SetDefault replaces the process-wide logger used by NewComponentLogger.
// Loggers created before the call keep their original sink.
func SetDefault(logger *observability.Logger) {
	if logger == nil {
		return
	}
	defaultLogger.Store(logger)
}

// Default returns the process-wide observability logger.
func Default() *observability.Logger {
	if logger := defaultLogger.Load(); logger != nil {
		return logger
	}
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	if defaultLogger.CompareAndSwap(nil, logger) {
		return logger
	}
	return defaultLogger.Load()
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return FromObservabilityWithComponent(Default(), component)
}

type observabilityPrintfLogger struct {
	logger *observability.Logger
}

// FromObservabilityWithComponent wraps an observability logger and preserves
// printf-style call sites by formatting the message before emitting it.
func FromObservabilityWithComponent(logger *observability.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	scoped := logger
	if component != "" {
		scoped = scoped.With("component", component)
	}
	return &observabilityPrintfLogger{logger: scoped}
}

func (l *observabilityPrintfLogger) withAttr(key, value string) Logger {
	return &observabilityPrintfLogger{logger: l.logger.With(key, value)}
}

func (l *observabilityPrintfLogger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *observabilityPrintfLogger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *observabilityPrintfLogger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *observabilityPrintfLogger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
