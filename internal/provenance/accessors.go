package provenance

import "time"

// Queries returns every query, iteration order then query order.
func (t *Task) Queries() []QueryRecord {
	return t.filterQueries(func(QueryRecord) bool { return true })
}

// SuccessfulQueries returns the queries that resolved as success.
func (t *Task) SuccessfulQueries() []QueryRecord {
	return t.filterQueries(func(q QueryRecord) bool { return q.Status == StatusSuccess })
}

// FailedQueries returns the queries that resolved as failed.
func (t *Task) FailedQueries() []QueryRecord {
	return t.filterQueries(func(q QueryRecord) bool { return q.Status == StatusFailed })
}

// PartialQueries returns the queries that produced no usable data.
func (t *Task) PartialQueries() []QueryRecord {
	return t.filterQueries(func(q QueryRecord) bool { return q.Status == StatusPartial })
}

func (t *Task) filterQueries(keep func(QueryRecord) bool) []QueryRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []QueryRecord
	for _, iteration := range t.iterations {
		for _, handle := range iteration.queries {
			record := t.querySnapshotLocked(handle)
			if keep(record) {
				out = append(out, record)
			}
		}
	}
	return out
}

// Iterations returns every iteration with its queries.
func (t *Task) Iterations() []IterationRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]IterationRecord, 0, len(t.iterations))
	for _, node := range t.iterations {
		out = append(out, t.iterationSnapshotLocked(node.id))
	}
	return out
}

// Artifacts returns the artifacts of successful queries together with the
// query and iteration that produced them.
func (t *Task) Artifacts() []ArtifactRef {
	var refs []ArtifactRef
	for _, q := range t.SuccessfulQueries() {
		if q.Artifact == nil {
			continue
		}
		refs = append(refs, ArtifactRef{
			QueryID:       q.ID,
			IterationID:   q.IterationID,
			QuerySequence: q.Sequence,
			Instruction:   q.Instruction,
			Statement:     q.Statement,
			Artifact:      *q.Artifact,
		})
	}
	return refs
}

// Statements returns every generated statement regardless of outcome.
func (t *Task) Statements() []StatementRef {
	var refs []StatementRef
	for _, q := range t.Queries() {
		if q.Statement == "" {
			continue
		}
		refs = append(refs, StatementRef{
			QueryID:       q.ID,
			IterationID:   q.IterationID,
			QuerySequence: q.Sequence,
			Instruction:   q.Instruction,
			Statement:     q.Statement,
			Status:        q.Status,
			ExecutionTime: q.ExecutionTime,
			ExecutedAt:    q.CompletedAt,
		})
	}
	return refs
}

// TaskState is the coarse lifecycle of a task.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
)

// IterationSummary is one iteration line of a Summary.
type IterationSummary struct {
	ID           int           `json:"id"`
	Kind         IterationKind `json:"kind"`
	Name         string        `json:"name"`
	QueryCount   int           `json:"queryCount"`
	SuccessCount int           `json:"successCount"`
	OpenedAt     time.Time     `json:"openedAt"`
	ClosedAt     *time.Time    `json:"closedAt,omitempty"`
}

// Summary is the persisted and reported view of a task.
type Summary struct {
	TaskID            string             `json:"taskId"`
	UserQuestion      string             `json:"userQuestion"`
	Status            TaskState          `json:"status"`
	CreatedAt         time.Time          `json:"createdAt"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
	DurationSeconds   float64            `json:"durationSeconds"`
	Iterations        []IterationSummary `json:"iterations"`
	TotalQueries      int                `json:"totalQueries"`
	SuccessfulQueries int                `json:"successfulQueries"`
	PartialQueries    int                `json:"partialQueries"`
	FailedQueries     int                `json:"failedQueries"`
	PendingQueries    int                `json:"pendingQueries"`
	CachedQueries     int                `json:"cachedQueries"`
	TotalArtifacts    int                `json:"totalArtifacts"`
	TotalArtifactRows int                `json:"totalArtifactRows"`
	TotalStatements   int                `json:"totalStatements"`
}

// Summary derives the task summary from the records.
func (t *Task) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.summaryLocked()
}

func (t *Task) summaryLocked() Summary {
	summary := Summary{
		TaskID:       t.id,
		UserQuestion: t.question,
		Status:       TaskRunning,
		CreatedAt:    t.createdAt,
		Iterations:   make([]IterationSummary, 0, len(t.iterations)),
	}
	if t.completedAt != nil {
		completed := *t.completedAt
		summary.Status = TaskCompleted
		summary.CompletedAt = &completed
		summary.DurationSeconds = completed.Sub(t.createdAt).Seconds()
	}

	for _, iteration := range t.iterations {
		line := IterationSummary{
			ID:         iteration.id,
			Kind:       iteration.kind,
			Name:       iteration.name,
			QueryCount: len(iteration.queries),
			OpenedAt:   iteration.openedAt,
		}
		if iteration.closedAt != nil {
			closed := *iteration.closedAt
			line.ClosedAt = &closed
		}

		for _, handle := range iteration.queries {
			node := t.queries[handle]
			summary.TotalQueries++
			switch node.status {
			case StatusSuccess:
				summary.SuccessfulQueries++
				line.SuccessCount++
				if node.artifact != nil {
					summary.TotalArtifacts++
					summary.TotalArtifactRows += node.artifact.RowCount
				}
			case StatusPartial:
				summary.PartialQueries++
			case StatusFailed:
				summary.FailedQueries++
			case StatusPending:
				summary.PendingQueries++
			}
			if node.cached {
				summary.CachedQueries++
			}
			if node.statement != "" {
				summary.TotalStatements++
			}
		}
		summary.Iterations = append(summary.Iterations, line)
	}
	return summary
}

// Snapshot is a consistent copy of the whole record tree.
type Snapshot struct {
	Summary    Summary           `json:"summary"`
	Iterations []IterationRecord `json:"iterations"`
	Updates    []ProgressUpdate  `json:"progress_updates,omitempty"`
}

// Snapshot captures summary, iterations and progress under one lock.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	iterations := make([]IterationRecord, 0, len(t.iterations))
	for _, node := range t.iterations {
		iterations = append(iterations, t.iterationSnapshotLocked(node.id))
	}
	updates := make([]ProgressUpdate, len(t.updates))
	copy(updates, t.updates)
	return Snapshot{
		Summary:    t.summaryLocked(),
		Iterations: iterations,
		Updates:    updates,
	}
}
