package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	ierrors "drillflow/internal/errors"
)

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewWithCircuitBreaker(time.Second, nil, "runner", ierrors.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		resp.Body.Close()
	}

	_, err := client.Get(srv.URL)
	if err == nil {
		t.Fatal("expected breaker to reject the third request")
	}
	if !ierrors.IsDegraded(err) {
		t.Fatalf("expected degraded error, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected 2 upstream hits, got %d", got)
	}
}

func TestDisabledBreakerPassesThrough(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewWithCircuitBreaker(time.Second, nil, "runner", ierrors.CircuitBreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		resp.Body.Close()
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 upstream hits, got %d", got)
	}
}

func TestIsBreakerFailureStatus(t *testing.T) {
	cases := map[int]bool{
		http.StatusOK:                  false,
		http.StatusBadRequest:          false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusGatewayTimeout:      true,
	}
	for status, want := range cases {
		if got := isBreakerFailureStatus(status); got != want {
			t.Fatalf("status %d: expected %v, got %v", status, want, got)
		}
	}
}
