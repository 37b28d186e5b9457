package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypePermanent},
		{"transient wrapper", NewTransientError(errors.New("x"), ""), ErrorTypeTransient},
		{"permanent wrapper", fmt.Errorf("wrap: %w", NewPermanentError(errors.New("x"), "")), ErrorTypePermanent},
		{"degraded", NewDegradedError(errors.New("x"), "fallback used", "report"), ErrorTypeDegraded},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrorTypeTransient},
		{"503", &HTTPStatusError{StatusCode: 503}, ErrorTypeTransient},
		{"404", &HTTPStatusError{StatusCode: 404}, ErrorTypePermanent},
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), ErrorTypePermanent},
		{"plain", errors.New("table missing"), ErrorTypePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorType(tt.err))
		})
	}
}

func TestFailure(t *testing.T) {
	assert.Nil(t, NewFailure(PlanningFailure, "initial", nil))

	base := errors.New("model offline")
	err := NewFailure(DecisionFailure, "", base)
	assert.Equal(t, "decision_failure: model offline", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Equal(t, DecisionFailure, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, FailureKind(""), KindOf(base))

	var failure *Failure
	require.ErrorAs(t, NewFailure(PlanningFailure, "drilldown", ErrEmptyPlan), &failure)
	assert.Equal(t, "drilldown", failure.Stage)
	assert.ErrorIs(t, failure, ErrEmptyPlan)
	assert.Contains(t, failure.Error(), "(drilldown stage)")
}

func TestRetryDefaultIsSingleAttempt(t *testing.T) {
	var calls int32
	base := NewTransientError(errors.New("boom"), "")
	_, err := RetryWithResult(context.Background(), DefaultRetryConfig(), func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, base
	})
	assert.Same(t, base, err)
	assert.Equal(t, int32(1), calls)
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	var calls int32
	config := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	got, err := RetryWithResult(context.Background(), config, func(context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", &HTTPStatusError{StatusCode: 502}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	var calls int32
	config := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}
	_, err := RetryWithResult(context.Background(), config, func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, NewPermanentError(errors.New("bad sql"), "")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestRetryExhaustion(t *testing.T) {
	config := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	_, err := RetryWithResult(context.Background(), config, func(context.Context) (int, error) {
		return 0, NewTransientError(errors.New("flaky"), "")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryWithResult(ctx, DefaultRetryConfig(), func(context.Context) (int, error) {
		t.Fatalf("fn must not run after cancellation")
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoffCapped(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, time.Second, calculateBackoff(0, config))
	assert.Equal(t, 2*time.Second, calculateBackoff(1, config))
	assert.Equal(t, 3*time.Second, calculateBackoff(5, config))
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("runner", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, nil)
	cb.now = func() time.Time { return now }

	failing := func(context.Context) (int, error) { return 0, errors.New("down") }
	_, _ = ExecuteFunc(cb, context.Background(), failing)
	assert.Equal(t, StateClosed, cb.State())
	_, _ = ExecuteFunc(cb, context.Background(), failing)
	assert.Equal(t, StateOpen, cb.State())

	_, err := ExecuteFunc(cb, context.Background(), func(context.Context) (int, error) {
		t.Fatalf("open breaker must not call through")
		return 0, nil
	})
	assert.True(t, IsDegraded(err))

	now = now.Add(time.Minute)
	got, err := ExecuteFunc(cb, context.Background(), func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("runner", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second}, nil)
	cb.now = func() time.Time { return now }

	cb.Mark(errors.New("down"))
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.Mark(errors.New("still down"))
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestNilCircuitBreakerPassesThrough(t *testing.T) {
	var cb *CircuitBreaker
	got, err := ExecuteFunc(cb, context.Background(), func(context.Context) (string, error) { return "x", nil })
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}
