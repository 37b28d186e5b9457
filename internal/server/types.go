package server

import (
	"time"

	"drillflow/internal/provenance"
)

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateTaskRequest starts a task. With Wait set the call blocks until the
// report is ready.
type CreateTaskRequest struct {
	Question string `json:"question" binding:"required"`
	TaskID   string `json:"task_id,omitempty"`
	Wait     bool   `json:"wait,omitempty"`
}

// CreateTaskResponse is returned for asynchronous submissions.
type CreateTaskResponse struct {
	TaskID    string            `json:"task_id"`
	Status    string            `json:"status"`
	Links     map[string]string `json:"links"`
	CreatedAt time.Time         `json:"created_at"`
}

// StreamMessage is one websocket frame of a progress stream.
type StreamMessage struct {
	Type      string                     `json:"type"`
	Update    *provenance.ProgressUpdate `json:"update,omitempty"`
	Summary   *provenance.Summary        `json:"summary,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`
}

// Stream message types.
const (
	StreamProgress = "progress"
	StreamDone     = "done"
)

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	Uptime       string    `json:"uptime"`
	RunningTasks int       `json:"running_tasks"`
}
