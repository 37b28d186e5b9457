package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"drillflow/internal/events"
	"drillflow/internal/logging"
	"drillflow/internal/progression"
	"drillflow/internal/provenance"
	"drillflow/internal/store"
)

var (
	// ErrTaskExists is returned when a caller-chosen task id is taken.
	ErrTaskExists = errors.New("task already exists")
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrShuttingDown is returned by Submit after Shutdown started.
	ErrShuttingDown = errors.New("task manager is shutting down")
)

// TaskRunner creates and drives tasks. *progression.Controller satisfies it.
type TaskRunner interface {
	NewTask(req progression.Request) (*provenance.Task, error)
	RunTask(ctx context.Context, task *provenance.Task) (*progression.Report, error)
}

// Handle tracks one submitted task.
type Handle struct {
	task   *provenance.Task
	done   chan struct{}
	report *progression.Report
	err    error
}

// Task returns the provenance record.
func (h *Handle) Task() *provenance.Task { return h.task }

// Done is closed when the task finished and was persisted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the report once Done is closed.
func (h *Handle) Result() (*progression.Report, error) {
	select {
	case <-h.done:
		return h.report, h.err
	default:
		return nil, errors.New("task still running")
	}
}

// TaskView is a point-in-time view of a live or stored task.
type TaskView struct {
	Running  bool                `json:"running"`
	Snapshot provenance.Snapshot `json:"snapshot"`
	Report   *progression.Report `json:"report,omitempty"`
}

// Watch is a progress subscription. Updates is nil for finished tasks, in
// which case Replay holds the full stored history.
type Watch struct {
	Replay  []provenance.ProgressUpdate
	Updates <-chan provenance.ProgressUpdate
	Done    <-chan struct{}
	Cancel  func()
	Summary func() provenance.Summary
}

// TaskManager runs tasks in the background, streams their progress and
// persists them when they finish.
type TaskManager struct {
	runner     TaskRunner
	store      store.Store
	events     *events.Broadcaster
	logger     logging.Logger
	runTimeout time.Duration

	mu       sync.RWMutex
	live     map[string]*Handle
	closing  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight int
}

// ManagerOption configures a TaskManager.
type ManagerOption func(*TaskManager)

// WithManagerLogger sets the task manager logger.
func WithManagerLogger(logger logging.Logger) ManagerOption {
	return func(m *TaskManager) { m.logger = logging.OrNop(logger) }
}

// WithRunTimeout bounds each task run. Zero means no bound.
func WithRunTimeout(d time.Duration) ManagerOption {
	return func(m *TaskManager) { m.runTimeout = d }
}

// NewTaskManager creates a manager. A nil store keeps finished tasks in
// memory and a nil broadcaster disables live streaming.
func NewTaskManager(runner TaskRunner, st store.Store, broadcaster *events.Broadcaster, opts ...ManagerOption) *TaskManager {
	if st == nil {
		st = store.NewMemoryStore()
	}
	if broadcaster == nil {
		broadcaster = events.NewBroadcaster()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &TaskManager{
		runner: runner,
		store:  st,
		events: broadcaster,
		logger: logging.Nop(),
		live:   make(map[string]*Handle),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit creates a task for question and starts it in the background.
func (m *TaskManager) Submit(question, taskID string) (*Handle, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID != "" {
		if _, err := m.store.Get(taskID); err == nil {
			return nil, fmt.Errorf("%s: %w", taskID, ErrTaskExists)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrShuttingDown
	}
	if _, ok := m.live[taskID]; taskID != "" && ok {
		return nil, fmt.Errorf("%s: %w", taskID, ErrTaskExists)
	}
	task, err := m.runner.NewTask(progression.Request{
		TaskID:   taskID,
		Question: question,
		Observer: m.events.Publish,
	})
	if err != nil {
		return nil, err
	}
	h := &Handle{task: task, done: make(chan struct{})}
	m.live[task.ID()] = h
	m.inFlight++
	m.wg.Add(1)
	go m.run(h)
	m.logger.Info("Task %s submitted", task.ID())
	return h, nil
}

func (m *TaskManager) run(h *Handle) {
	defer m.wg.Done()

	ctx := m.ctx
	if m.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.runTimeout)
		defer cancel()
	}
	report, err := m.runner.RunTask(ctx, h.task)
	if err != nil {
		m.logger.Error("Task %s failed: %v", h.task.ID(), err)
	}

	saveErr := m.store.Save(store.NewRecord(h.task, report))
	if saveErr != nil {
		m.logger.Error("Persist task %s: %v", h.task.ID(), saveErr)
	}

	m.mu.Lock()
	h.report, h.err = report, err
	m.inFlight--
	if saveErr == nil {
		delete(m.live, h.task.ID())
	}
	m.mu.Unlock()
	if saveErr == nil {
		m.events.Forget(h.task.ID())
	}
	close(h.done)
}

// Get returns a view of a live or stored task.
func (m *TaskManager) Get(id string) (*TaskView, error) {
	m.mu.RLock()
	h, ok := m.live[id]
	m.mu.RUnlock()
	if ok {
		view := &TaskView{Snapshot: h.task.Snapshot()}
		select {
		case <-h.done:
			view.Report = h.report
		default:
			view.Running = true
		}
		return view, nil
	}

	record, err := m.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrTaskNotFound)
		}
		return nil, err
	}
	return &TaskView{Snapshot: record.Snapshot, Report: record.Report}, nil
}

// List returns the summaries of live and stored tasks, newest first.
func (m *TaskManager) List() ([]provenance.Summary, error) {
	records, err := m.store.List()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var summaries []provenance.Summary

	m.mu.RLock()
	for id, h := range m.live {
		seen[id] = true
		summaries = append(summaries, h.task.Summary())
	}
	m.mu.RUnlock()

	for _, record := range records {
		if seen[record.TaskID] {
			continue
		}
		summaries = append(summaries, record.Snapshot.Summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// Watch subscribes to a task's progress.
func (m *TaskManager) Watch(id string) (*Watch, error) {
	m.mu.RLock()
	h, ok := m.live[id]
	if ok {
		// Subscribing under the manager lock orders it before the history
		// is forgotten at completion.
		replay, updates, cancel := m.events.Subscribe(id, 0)
		m.mu.RUnlock()
		return &Watch{
			Replay:  replay,
			Updates: updates,
			Done:    h.done,
			Cancel:  cancel,
			Summary: h.task.Summary,
		}, nil
	}
	m.mu.RUnlock()

	record, err := m.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrTaskNotFound)
		}
		return nil, err
	}
	done := make(chan struct{})
	close(done)
	summary := record.Snapshot.Summary
	return &Watch{
		Replay:  record.Snapshot.Updates,
		Done:    done,
		Cancel:  func() {},
		Summary: func() provenance.Summary { return summary },
	}, nil
}

// Running returns the number of tasks still executing.
func (m *TaskManager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inFlight
}

// Shutdown cancels running tasks and waits for them to be persisted.
func (m *TaskManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
