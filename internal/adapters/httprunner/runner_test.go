package httprunner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	ierrors "drillflow/internal/errors"
	"drillflow/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInstructionJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req runRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "daily active users last 7 days", req.Instruction)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ports.RunResult{
			Status:   ports.RunSuccess,
			Artifact: &ports.Artifact{Path: "/data/dau.csv", RowCount: 7},
		})
	}))
	defer srv.Close()

	runner, err := New(Config{URL: srv.URL, APIKey: "secret"}, nil)
	require.NoError(t, err)

	result, err := runner.RunInstruction(context.Background(), "daily active users last 7 days")
	require.NoError(t, err)
	assert.Equal(t, ports.RunSuccess, result.Status)
	require.NotNil(t, result.Artifact)
	assert.Equal(t, "/data/dau.csv", result.Artifact.Path)
}

func TestRunInstructionTextReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("CSV file: /data/out.csv\nrows: 12\ncolumns: ['a', 'b']\n"))
	}))
	defer srv.Close()

	runner, err := New(Config{URL: srv.URL}, nil)
	require.NoError(t, err)

	result, err := runner.RunInstruction(context.Background(), "x")
	require.NoError(t, err)
	require.NotNil(t, result.Artifact)
	assert.Equal(t, 12, result.Artifact.RowCount)
	assert.Equal(t, []string{"a", "b"}, result.Artifact.Columns)
}

func TestRunInstructionStatusErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend busy", int(status.Load()))
	}))
	defer srv.Close()

	runner, err := New(Config{URL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = runner.RunInstruction(context.Background(), "x")
	require.Error(t, err)
	var statusErr *ierrors.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, ierrors.IsTransient(err))

	status.Store(http.StatusBadRequest)
	_, err = runner.RunInstruction(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, ierrors.IsPermanent(err))
}

func TestRunInstructionMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{broken"))
	}))
	defer srv.Close()

	runner, err := New(Config{URL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = runner.RunInstruction(context.Background(), "x")
	assert.True(t, ierrors.IsPermanent(err))
}

func TestRunInstructionOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	runner, err := New(Config{URL: srv.URL, MaxBodyBytes: 16}, nil)
	require.NoError(t, err)

	_, err = runner.RunInstruction(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, ierrors.IsPermanent(err))
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
	_, err = New(Config{URL: "ftp://host"}, nil)
	assert.Error(t, err)
}
