// Package provenance records what a task did: the iterations it opened, the
// queries each iteration dispatched, and how every query resolved.
//
// Records live in an arena owned by the Task. Iterations and queries are
// addressed by integer ids and refer to their parents by id, and every
// accessor returns value snapshots, so callers never hold live references
// into the tree.
package provenance

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"drillflow/internal/ports"
)

var (
	// ErrIterationOpen is returned when opening an iteration while another is open.
	ErrIterationOpen = errors.New("an iteration is already open")
	// ErrNoOpenIteration is returned when an operation needs an open iteration.
	ErrNoOpenIteration = errors.New("no iteration is open")
	// ErrQueryNotFound is returned for unknown query ids.
	ErrQueryNotFound = errors.New("query not found")
	// ErrQueryCompleted is returned when completing a query twice.
	ErrQueryCompleted = errors.New("query already completed")
	// ErrInvalidTransition is returned for a non-terminal completion status.
	ErrInvalidTransition = errors.New("invalid query status transition")
	// ErrTaskCompleted is returned when mutating a completed task.
	ErrTaskCompleted = errors.New("task already completed")
)

type iterationNode struct {
	id          int
	kind        IterationKind
	name        string
	description string
	openedAt    time.Time
	closedAt    *time.Time
	queries     []int // arena indices, creation order
}

type queryNode struct {
	iterationID int
	sequence    int
	instruction string
	parameters  ports.Instruction
	contentHash string
	status      QueryStatus
	cached      bool
	artifact    *ports.Artifact
	statement   string
	output      string
	errText     string
	execTime    time.Duration
	createdAt   time.Time
	completedAt *time.Time
}

// Observer receives progress updates in Seq order, one call at a time. It is
// called outside the task lock and may run on an executor worker. An
// observer must not record updates on the task it observes.
type Observer func(ProgressUpdate)

// Option configures a Task.
type Option func(*Task)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Task) {
		if now != nil {
			t.now = now
		}
	}
}

// WithObserver registers a progress observer.
func WithObserver(observer Observer) Option {
	return func(t *Task) {
		if observer != nil {
			t.observers = append(t.observers, observer)
		}
	}
}

// Task is the root aggregate for one user request. It is safe for
// concurrent use.
type Task struct {
	mu sync.RWMutex

	id          string
	question    string
	createdAt   time.Time
	completedAt *time.Time

	iterations []iterationNode // index = id-1
	queries    []queryNode     // arena
	current    int             // open iteration id, 0 when none

	updates   []ProgressUpdate
	observers []Observer
	now       func() time.Time

	// notifyMu orders observer delivery and guards delivered, the number
	// of updates already handed out.
	notifyMu  sync.Mutex
	delivered int
}

// NewTask creates a running task and records its task_started update.
func NewTask(id, question string, opts ...Option) *Task {
	t := &Task{
		id:       id,
		question: question,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.createdAt = t.now()

	t.appendUpdateLocked(UpdateTaskStarted, t.createdAt, map[string]any{
		"task_id":       id,
		"user_question": question,
	})
	t.flush()
	return t
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Question returns the original user question.
func (t *Task) Question() string { return t.question }

// CreatedAt returns the creation timestamp.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// Completed reports whether Complete has been called.
func (t *Task) Completed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completedAt != nil
}

// OpenIteration appends a new iteration and makes it current.
func (t *Task) OpenIteration(kind IterationKind, name, description string) (IterationRecord, error) {
	t.mu.Lock()
	if t.completedAt != nil {
		t.mu.Unlock()
		return IterationRecord{}, ErrTaskCompleted
	}
	if t.current != 0 {
		t.mu.Unlock()
		return IterationRecord{}, fmt.Errorf("open %s iteration: %w", kind, ErrIterationOpen)
	}

	now := t.now()
	id := len(t.iterations) + 1
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("%s iteration", kind)
	}
	t.iterations = append(t.iterations, iterationNode{
		id:          id,
		kind:        kind,
		name:        name,
		description: description,
		openedAt:    now,
	})
	t.current = id

	snapshot := t.iterationSnapshotLocked(id)
	t.appendUpdateLocked(UpdateIterationStarted, now, map[string]any{
		"iteration_id":   id,
		"iteration_type": string(kind),
		"name":           name,
	})
	t.mu.Unlock()

	t.flush()
	return snapshot, nil
}

// CloseCurrentIteration stamps the close time of the open iteration.
func (t *Task) CloseCurrentIteration() (IterationRecord, error) {
	t.mu.Lock()
	if t.current == 0 {
		t.mu.Unlock()
		return IterationRecord{}, ErrNoOpenIteration
	}

	now := t.now()
	node := &t.iterations[t.current-1]
	node.closedAt = &now
	id := t.current
	t.current = 0

	snapshot := t.iterationSnapshotLocked(id)
	t.appendUpdateLocked(UpdateIterationCompleted, now, map[string]any{
		"iteration_id":       id,
		"iteration_type":     string(node.kind),
		"queries_count":      len(node.queries),
		"successful_queries": snapshot.SuccessCount(),
	})
	t.mu.Unlock()

	t.flush()
	return snapshot, nil
}

// CurrentIteration returns a snapshot of the open iteration.
func (t *Task) CurrentIteration() (IterationRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == 0 {
		return IterationRecord{}, false
	}
	return t.iterationSnapshotLocked(t.current), true
}

// CreateQuery appends a pending query to the open iteration.
func (t *Task) CreateQuery(instruction string, parameters ports.Instruction) (QueryRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == 0 {
		return QueryRecord{}, fmt.Errorf("create query: %w", ErrNoOpenIteration)
	}
	return t.querySnapshotLocked(t.createQueryLocked(instruction, parameters)), nil
}

// CreateQueries registers a whole batch in the open iteration. Either every
// instruction gets a pending record or none does.
func (t *Task) CreateQueries(instructions []ports.Instruction) ([]QueryRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == 0 {
		return nil, fmt.Errorf("create queries: %w", ErrNoOpenIteration)
	}
	records := make([]QueryRecord, len(instructions))
	for i, instruction := range instructions {
		records[i] = t.querySnapshotLocked(t.createQueryLocked(instruction.Text(), instruction))
	}
	return records, nil
}

func (t *Task) createQueryLocked(instruction string, parameters ports.Instruction) int {
	iteration := &t.iterations[t.current-1]
	handle := len(t.queries)
	t.queries = append(t.queries, queryNode{
		iterationID: iteration.id,
		sequence:    len(iteration.queries) + 1,
		instruction: instruction,
		parameters:  cloneInstruction(parameters),
		contentHash: ContentHash(instruction),
		status:      StatusPending,
		createdAt:   t.now(),
	})
	iteration.queries = append(iteration.queries, handle)
	return handle
}

// CompleteQuery applies the terminal transition of a pending query.
func (t *Task) CompleteQuery(id QueryID, outcome Outcome) (QueryRecord, error) {
	switch outcome.Status {
	case StatusSuccess, StatusPartial, StatusFailed:
	case StatusPending:
		return QueryRecord{}, fmt.Errorf("complete %s with %s: %w", id, outcome.Status, ErrInvalidTransition)
	default:
		return QueryRecord{}, fmt.Errorf("complete %s with %q: %w", id, outcome.Status, ErrInvalidTransition)
	}

	t.mu.Lock()
	handle, ok := t.lookupLocked(id)
	if !ok {
		t.mu.Unlock()
		return QueryRecord{}, fmt.Errorf("complete %s: %w", id, ErrQueryNotFound)
	}
	node := &t.queries[handle]
	if node.status.Terminal() {
		t.mu.Unlock()
		return QueryRecord{}, fmt.Errorf("complete %s: %w", id, ErrQueryCompleted)
	}

	now := t.now()
	node.status = outcome.Status
	node.cached = outcome.ServedFromCache
	node.artifact = outcome.Artifact.Clone()
	node.statement = outcome.Statement
	node.output = outcome.Output
	node.errText = outcome.Error
	node.execTime = outcome.ExecutionTime
	node.completedAt = &now

	snapshot := t.querySnapshotLocked(handle)
	t.completionUpdatesLocked(snapshot, now)
	t.mu.Unlock()

	t.flush()
	return snapshot, nil
}

// Query returns a snapshot of one query.
func (t *Task) Query(id QueryID) (QueryRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handle, ok := t.lookupLocked(id)
	if !ok {
		return QueryRecord{}, fmt.Errorf("query %s: %w", id, ErrQueryNotFound)
	}
	return t.querySnapshotLocked(handle), nil
}

// Complete stamps the completion time. It fails while an iteration is open
// and when called twice.
func (t *Task) Complete() error {
	t.mu.Lock()
	if t.completedAt != nil {
		t.mu.Unlock()
		return ErrTaskCompleted
	}
	if t.current != 0 {
		t.mu.Unlock()
		return fmt.Errorf("complete task: %w", ErrIterationOpen)
	}

	now := t.now()
	t.completedAt = &now
	summary := t.summaryLocked()
	t.appendUpdateLocked(UpdateTaskCompleted, now, map[string]any{
		"total_queries":      summary.TotalQueries,
		"successful_queries": summary.SuccessfulQueries,
		"failed_queries":     summary.FailedQueries,
		"cached_queries":     summary.CachedQueries,
		"duration_seconds":   summary.DurationSeconds,
	})
	t.mu.Unlock()

	t.flush()
	return nil
}

// Note records a free-form progress update, for example the drilldown
// decision, without touching the record tree.
func (t *Task) Note(kind UpdateType, content map[string]any) {
	t.mu.Lock()
	t.appendUpdateLocked(kind, t.now(), content)
	t.mu.Unlock()
	t.flush()
}

func (t *Task) lookupLocked(id QueryID) (int, bool) {
	if id.Iteration < 1 || id.Iteration > len(t.iterations) {
		return 0, false
	}
	iteration := t.iterations[id.Iteration-1]
	if id.Sequence < 1 || id.Sequence > len(iteration.queries) {
		return 0, false
	}
	return iteration.queries[id.Sequence-1], true
}

func (t *Task) querySnapshotLocked(handle int) QueryRecord {
	node := t.queries[handle]
	record := QueryRecord{
		ID:              QueryID{Iteration: node.iterationID, Sequence: node.sequence},
		IterationID:     node.iterationID,
		Sequence:        node.sequence,
		Instruction:     node.instruction,
		Parameters:      cloneInstruction(node.parameters),
		ContentHash:     node.contentHash,
		Status:          node.status,
		ServedFromCache: node.cached,
		Artifact:        node.artifact.Clone(),
		Statement:       node.statement,
		Output:          node.output,
		Error:           node.errText,
		ExecutionTime:   node.execTime,
		CreatedAt:       node.createdAt,
	}
	if node.completedAt != nil {
		completed := *node.completedAt
		record.CompletedAt = &completed
	}
	return record
}

func (t *Task) iterationSnapshotLocked(id int) IterationRecord {
	node := t.iterations[id-1]
	record := IterationRecord{
		ID:          node.id,
		Kind:        node.kind,
		Name:        node.name,
		Description: node.description,
		OpenedAt:    node.openedAt,
		Queries:     make([]QueryRecord, 0, len(node.queries)),
	}
	if node.closedAt != nil {
		closed := *node.closedAt
		record.ClosedAt = &closed
	}
	for _, handle := range node.queries {
		record.Queries = append(record.Queries, t.querySnapshotLocked(handle))
	}
	return record
}

// flush hands every recorded but undelivered update to the observers, in
// Seq order. Concurrent callers serialize on notifyMu; whichever holds it
// delivers the updates the others appended.
func (t *Task) flush() {
	if len(t.observers) == 0 {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.RLock()
	pending := make([]ProgressUpdate, len(t.updates)-t.delivered)
	copy(pending, t.updates[t.delivered:])
	t.delivered = len(t.updates)
	t.mu.RUnlock()

	for _, update := range pending {
		for _, observer := range t.observers {
			observer(update)
		}
	}
}

func cloneInstruction(in ports.Instruction) ports.Instruction {
	out := in
	if in.Dimensions != nil {
		out.Dimensions = append([]string(nil), in.Dimensions...)
	}
	if in.Metrics != nil {
		out.Metrics = append([]string(nil), in.Metrics...)
	}
	return out
}
