package server

import (
	"errors"
	"net/http"
	"time"

	"drillflow/internal/provenance"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// handleTaskEvents streams a task's progress over a websocket: every update
// recorded so far, then live updates until the task completes, then a
// final done frame carrying the summary.
func (s *Server) handleTaskEvents(c *gin.Context) {
	id := c.Param("id")
	watch, err := s.manager.Watch(id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			s.writeError(c, http.StatusNotFound, "task not found", nil)
		} else {
			s.writeError(c, http.StatusInternalServerError, "could not watch task", err)
		}
		return
	}
	defer watch.Cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade for task %s failed: %v", id, err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	finish := func() {
		summary := watch.Summary()
		if err := writeFrame(conn, StreamMessage{Type: StreamDone, Summary: &summary, Timestamp: time.Now()}); err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task completed"),
			time.Now().Add(time.Second))
	}

	for i := range watch.Replay {
		if err := writeUpdate(conn, watch.Replay[i]); err != nil {
			return
		}
		if watch.Replay[i].Type == provenance.UpdateTaskCompleted {
			finish()
			return
		}
	}
	if watch.Updates == nil {
		finish()
		return
	}

	for {
		select {
		case update, ok := <-watch.Updates:
			if !ok {
				finish()
				return
			}
			if err := writeUpdate(conn, update); err != nil {
				return
			}
			if update.Type == provenance.UpdateTaskCompleted {
				finish()
				return
			}
		case <-watch.Done:
			for {
				select {
				case update, ok := <-watch.Updates:
					if !ok {
						finish()
						return
					}
					if err := writeUpdate(conn, update); err != nil {
						return
					}
				default:
					finish()
					return
				}
			}
		case <-closed:
			return
		case <-s.quit:
			return
		}
	}
}

func writeUpdate(conn *websocket.Conn, update provenance.ProgressUpdate) error {
	return writeFrame(conn, StreamMessage{Type: StreamProgress, Update: &update, Timestamp: time.Now()})
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
