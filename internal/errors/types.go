package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorType represents the classification of errors for retry logic
type ErrorType int

const (
	// ErrorTypeTransient - retry-able errors
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent - non-retry-able errors
	ErrorTypePermanent
	// ErrorTypeDegraded - the engine can continue with a fallback
	ErrorTypeDegraded
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// TransientError represents an error that can be retried
type TransientError struct {
	Err        error
	StatusCode int // HTTP status code if applicable
	Message    string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError represents an error that should not be retried
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// DegradedError marks a failure the engine absorbs by falling back.
type DegradedError struct {
	Err      error
	Fallback string
	Message  string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error {
	return e.Err
}

// FailureKind names the ways the engine absorbs a collaborator failure
// without failing the task.
type FailureKind string

const (
	// ExecutionFailure - the runner errored; recorded on the query, batch continues.
	ExecutionFailure FailureKind = "execution_failure"
	// PartialResult - the runner returned no usable data; recorded, never cached.
	PartialResult FailureKind = "partial_result"
	// PlanningFailure - the planner errored or proposed nothing; fallback instruction used.
	PlanningFailure FailureKind = "planning_failure"
	// DecisionFailure - the decider errored; no drilldown.
	DecisionFailure FailureKind = "decision_failure"
	// SynthesisFailure - the synthesizer errored; report assembled from the records.
	SynthesisFailure FailureKind = "synthesis_failure"
)

// ErrNoUsableData is recorded on partial queries.
var ErrNoUsableData = errors.New("instruction returned no usable data")

// ErrEmptyPlan is reported when the planner proposes no instructions.
var ErrEmptyPlan = errors.New("planner returned no instructions")

// Failure wraps an absorbed collaborator error with its kind and the stage
// it happened in.
type Failure struct {
	Kind  FailureKind
	Stage string
	Err   error
}

func (e *Failure) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s stage): %v", e.Kind, e.Stage, e.Err)
}

func (e *Failure) Unwrap() error {
	return e.Err
}

// NewFailure wraps err. A nil err yields nil.
func NewFailure(kind FailureKind, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the failure kind carried by err, or "" when err is not a
// Failure.
func KindOf(err error) FailureKind {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return ""
}

// IsTransient checks if an error is retry-able
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	// Caller cancellation is never worth retrying.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return isTransientHTTPStatus(statusErr.StatusCode)
	}

	return isSyscallError(err)
}

// IsPermanent checks if an error is non-retry-able
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return isPermanentHTTPStatus(statusErr.StatusCode)
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range []string{"not found", "permission denied", "invalid", "unauthorized", "forbidden", "bad request"} {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

// IsDegraded checks if an error allows degraded service
func IsDegraded(err error) bool {
	var degradedErr *DegradedError
	return errors.As(err, &degradedErr)
}

// GetErrorType classifies an error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if IsDegraded(err) {
		return ErrorTypeDegraded
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	// Default to permanent to avoid infinite retries
	return ErrorTypePermanent
}

// HTTPStatusError carries a non-2xx response status from a remote runner.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, body)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "i/o timeout"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isPermanentHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
		http.StatusGone,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// NewTransientError creates a new transient error
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewDegradedError creates a new degraded error with fallback content
func NewDegradedError(err error, message, fallback string) *DegradedError {
	return &DegradedError{Err: err, Message: message, Fallback: fallback}
}
