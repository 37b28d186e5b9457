package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"drillflow/internal/logging"
)

// RetryConfig configures retry behavior for runner calls.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"` // extra attempts after the first call
	BaseDelay    time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor" mapstructure:"jitter_factor"` // 0.25 = ±25%
}

// DefaultRetryConfig performs a single attempt. Raising MaxAttempts enables
// exponential backoff for transient failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  0,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryWithResult executes a function that returns a result with retry logic
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryWithResultAndLog(ctx, config, fn, nil)
}

// RetryWithResultAndLog executes fn until it succeeds, returns a
// non-transient error, or the attempt budget is spent.
func RetryWithResultAndLog[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)

	var lastErr error
	var zeroValue T

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, stopping retries")
			return zeroValue, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			logger.Debug("Retrying (attempt %d/%d)", attempt+1, config.MaxAttempts+1)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded after %d attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return zeroValue, err
		}

		if attempt == config.MaxAttempts {
			if config.MaxAttempts > 0 {
				logger.Warn("Max retries (%d) exhausted", config.MaxAttempts+1)
			}
			break
		}

		delay := calculateBackoff(attempt, config)
		logger.Debug("Attempt %d failed (%v), waiting %v", attempt+1, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zeroValue, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	if config.MaxAttempts == 0 {
		return zeroValue, lastErr
	}
	return zeroValue, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff calculates exponential backoff with jitter
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	// baseDelay * 2^attempt
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(config.BaseDelay) * multiplier)

	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		jitterAmount := (rand.Float64()*2 - 1) * jitter
		delay = time.Duration(float64(delay) + jitterAmount)

		if delay < 0 {
			delay = config.BaseDelay
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return delay
}
