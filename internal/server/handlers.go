package server

import (
	"errors"
	"net/http"
	"time"

	"drillflow/internal/provenance"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:       "ok",
			Version:      s.version,
			Timestamp:    time.Now(),
			Uptime:       time.Since(s.startTime).Round(time.Second).String(),
			RunningTasks: s.manager.Running(),
		},
	})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "question is required", err)
		return
	}

	handle, err := s.manager.Submit(req.Question, req.TaskID)
	switch {
	case errors.Is(err, ErrTaskExists):
		s.writeError(c, http.StatusConflict, "task id already in use", err)
		return
	case errors.Is(err, ErrShuttingDown):
		s.writeError(c, http.StatusServiceUnavailable, "server is shutting down", err)
		return
	case err != nil:
		s.writeError(c, http.StatusBadRequest, "could not create task", err)
		return
	}
	task := handle.Task()

	if !req.Wait {
		base := "/v1/tasks/" + task.ID()
		c.JSON(http.StatusAccepted, APIResponse{
			Success: true,
			Message: "task started",
			Data: CreateTaskResponse{
				TaskID:    task.ID(),
				Status:    string(provenance.TaskRunning),
				CreatedAt: task.CreatedAt(),
				Links: map[string]string{
					"self":     base,
					"summary":  base + "/summary",
					"markdown": base + "/markdown",
					"events":   base + "/events",
				},
			},
		})
		return
	}

	select {
	case <-handle.Done():
	case <-c.Request.Context().Done():
		return
	}
	report, err := handle.Result()
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, "task failed", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: report})
}

func (s *Server) handleListTasks(c *gin.Context) {
	summaries, err := s.manager.List()
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, "could not list tasks", err)
		return
	}
	if summaries == nil {
		summaries = []provenance.Summary{}
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: summaries})
}

func (s *Server) lookup(c *gin.Context) (*TaskView, bool) {
	view, err := s.manager.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			s.writeError(c, http.StatusNotFound, "task not found", nil)
		} else {
			s.writeError(c, http.StatusInternalServerError, "could not load task", err)
		}
		return nil, false
	}
	return view, true
}

func (s *Server) handleGetTask(c *gin.Context) {
	view, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: view})
}

func (s *Server) handleTaskSummary(c *gin.Context) {
	view, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: view.Snapshot.Summary})
}

func (s *Server) handleTaskMarkdown(c *gin.Context) {
	view, ok := s.lookup(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(provenance.RenderMarkdown(view.Snapshot)))
}

func (s *Server) writeError(c *gin.Context, status int, message string, err error) {
	resp := APIResponse{Success: false, Error: message}
	if err != nil {
		s.logger.Warn("HTTP %d - %s: %v", status, message, err)
		resp.Message = err.Error()
		_ = c.Error(err)
	} else {
		s.logger.Warn("HTTP %d - %s", status, message)
	}
	c.AbortWithStatusJSON(status, resp)
}
