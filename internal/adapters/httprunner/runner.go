// Package httprunner executes instructions by posting them to a remote
// analytics execution endpoint.
package httprunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ierrors "drillflow/internal/errors"
	"drillflow/internal/httpclient"
	"drillflow/internal/logging"
	"drillflow/internal/planparse"
	"drillflow/internal/ports"
)

const (
	defaultTimeout       = 5 * time.Minute
	defaultMaxBodyBytes  = 8 << 20
	maxErrorBodyInResult = 512
)

// Config configures a Runner.
type Config struct {
	URL          string
	APIKey       string
	Timeout      time.Duration
	MaxBodyBytes int64
	Breaker      ierrors.CircuitBreakerConfig
}

// Runner implements ports.Runner over HTTP. The endpoint receives
// {"instruction": "..."} and answers either with a JSON run result or with a
// plain-text report.
type Runner struct {
	url     string
	apiKey  string
	maxBody int64
	client  *http.Client
	logger  logging.Logger
}

type runRequest struct {
	Instruction string `json:"instruction"`
}

// New creates a Runner.
func New(cfg Config, logger logging.Logger) (*Runner, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("httprunner: url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("httprunner: unsupported url %q", url)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger = logging.OrNop(logger)
	return &Runner{
		url:     url,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		maxBody: cfg.MaxBodyBytes,
		client:  httpclient.NewWithCircuitBreaker(cfg.Timeout, logger, "httprunner", cfg.Breaker),
		logger:  logger,
	}, nil
}

// RunInstruction posts instruction and decodes the response. Transport
// failures and non-2xx statuses are returned as errors; the executor
// classifies them for retry.
func (r *Runner) RunInstruction(ctx context.Context, instruction string) (ports.RunResult, error) {
	body, err := json.Marshal(runRequest{Instruction: instruction})
	if err != nil {
		return ports.RunResult{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return ports.RunResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return ports.RunResult{}, err
	}
	data, err := httpclient.ReadBody(resp, r.maxBody)
	if httpclient.IsResponseTooLarge(err) {
		return ports.RunResult{}, ierrors.NewPermanentError(err, "runner response too large")
	}
	if err != nil {
		return ports.RunResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(data)
		if len(text) > maxErrorBodyInResult {
			text = text[:maxErrorBodyInResult]
		}
		return ports.RunResult{}, &ierrors.HTTPStatusError{StatusCode: resp.StatusCode, Body: text}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var result ports.RunResult
		if err := json.Unmarshal(data, &result); err != nil {
			return ports.RunResult{}, ierrors.NewPermanentError(err, "runner returned malformed JSON")
		}
		if result.Status == "" {
			result.Status = ports.RunSuccess
		}
		return result, nil
	}
	result := planparse.ParseRunReport(string(data))
	r.logger.Debug("Parsed text report: artifact=%v", result.Artifact != nil)
	return result, nil
}
