// Package httpclient builds the HTTP clients used by remote collaborators.
package httpclient

import (
	"net/http"
	"time"

	"drillflow/internal/logging"
)

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

// New returns a client with the given overall timeout whose requests are
// logged at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("%s %s failed after %s: %v", req.Method, req.URL.Redacted(), time.Since(start), err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %s", req.Method, req.URL.Redacted(), resp.StatusCode, time.Since(start))
	return resp, nil
}
