package logging

import (
	"context"
	"strings"

	"drillflow/internal/observability"
)

// attrCapable loggers attach correlation fields natively instead of
// prefixing the message.
type attrCapable interface {
	withAttr(key, value string) Logger
}

// WithLogID tags logger with a request correlation id.
func WithLogID(logger Logger, logID string) Logger {
	return withAttr(logger, "log_id", logID)
}

// WithTaskID tags logger with a task id.
func WithTaskID(logger Logger, taskID string) Logger {
	return withAttr(logger, "task_id", taskID)
}

// FromContext tags logger with the task id and log id carried by ctx.
// Without either, logger is returned unchanged.
func FromContext(ctx context.Context, logger Logger) Logger {
	logger = WithTaskID(logger, observability.TaskIDFromContext(ctx))
	return WithLogID(logger, observability.LogIDFromContext(ctx))
}

func withAttr(logger Logger, key, value string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if value == "" {
		return logger
	}
	if capable, ok := logger.(attrCapable); ok {
		return capable.withAttr(key, value)
	}
	if tagged, ok := logger.(*taggedLogger); ok {
		return &taggedLogger{logger: tagged.logger, prefix: tagged.prefix + key + "=" + value + " "}
	}
	return &taggedLogger{logger: logger, prefix: key + "=" + value + " "}
}

// taggedLogger prefixes messages of loggers that have no structured fields.
type taggedLogger struct {
	logger Logger
	prefix string
}

func (l *taggedLogger) format(format string) string {
	return l.prefix + strings.TrimLeft(format, " ")
}

func (l *taggedLogger) Debug(format string, args ...any) { l.logger.Debug(l.format(format), args...) }
func (l *taggedLogger) Info(format string, args ...any)  { l.logger.Info(l.format(format), args...) }
func (l *taggedLogger) Warn(format string, args ...any)  { l.logger.Warn(l.format(format), args...) }
func (l *taggedLogger) Error(format string, args ...any) { l.logger.Error(l.format(format), args...) }
