package provenance

import "time"

// UpdateType names a progress update.
type UpdateType string

const (
	UpdateTaskStarted        UpdateType = "task_started"
	UpdateIterationStarted   UpdateType = "iteration_started"
	UpdateStatementGenerated UpdateType = "statement_generated"
	UpdateDataReady          UpdateType = "data_ready"
	UpdateQueryCompleted     UpdateType = "query_completed"
	UpdateIterationCompleted UpdateType = "iteration_completed"
	UpdateDecisionMade       UpdateType = "decision_made"
	UpdateTaskCompleted      UpdateType = "task_completed"
)

// ProgressUpdate is one entry of the task's progress stream.
type ProgressUpdate struct {
	Seq       int            `json:"seq"`
	TaskID    string         `json:"task_id"`
	Type      UpdateType     `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Content   map[string]any `json:"content,omitempty"`
}

// ProgressUpdates returns every update recorded so far, oldest first.
func (t *Task) ProgressUpdates() []ProgressUpdate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ProgressUpdate, len(t.updates))
	copy(out, t.updates)
	return out
}

// ProgressUpdatesSince returns the updates with Seq greater than seq.
func (t *Task) ProgressUpdatesSince(seq int) []ProgressUpdate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(t.updates) {
		return nil
	}
	out := make([]ProgressUpdate, len(t.updates)-seq)
	copy(out, t.updates[seq:])
	return out
}

func (t *Task) appendUpdateLocked(kind UpdateType, at time.Time, content map[string]any) ProgressUpdate {
	update := ProgressUpdate{
		Seq:       len(t.updates) + 1,
		TaskID:    t.id,
		Type:      kind,
		Timestamp: at,
		Content:   content,
	}
	t.updates = append(t.updates, update)
	return update
}

func (t *Task) completionUpdatesLocked(q QueryRecord, at time.Time) []ProgressUpdate {
	var updates []ProgressUpdate
	if q.Statement != "" {
		updates = append(updates, t.appendUpdateLocked(UpdateStatementGenerated, at, map[string]any{
			"query_id":  q.ID.String(),
			"statement": q.Statement,
		}))
	}
	if q.Artifact != nil {
		updates = append(updates, t.appendUpdateLocked(UpdateDataReady, at, map[string]any{
			"query_id":     q.ID.String(),
			"path":         q.Artifact.Path,
			"download_url": q.Artifact.DownloadURL,
			"row_count":    q.Artifact.RowCount,
			"column_count": q.Artifact.ColumnCount,
		}))
	}
	content := map[string]any{
		"query_id":          q.ID.String(),
		"instruction":       q.Instruction,
		"status":            string(q.Status),
		"served_from_cache": q.ServedFromCache,
	}
	if q.Error != "" {
		content["error"] = q.Error
	}
	updates = append(updates, t.appendUpdateLocked(UpdateQueryCompleted, at, content))
	return updates
}
