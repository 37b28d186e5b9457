// Package events fans task progress updates out to live subscribers and
// keeps a bounded per-task history for late joiners.
package events

import (
	"sync"
	"sync/atomic"

	"drillflow/internal/logging"
	"drillflow/internal/provenance"
)

const (
	defaultMaxHistory = 1000
	defaultBuffer     = 64
)

// Broadcaster delivers progress updates to subscribers of a task. Slow
// subscribers lose non-critical updates instead of blocking the engine.
type Broadcaster struct {
	mu         sync.RWMutex
	clients    map[string][]chan provenance.ProgressUpdate
	history    map[string][]provenance.ProgressUpdate
	maxHistory int
	logger     logging.Logger

	eventsSent        atomic.Int64
	droppedEvents     atomic.Int64
	totalConnections  atomic.Int64
	activeConnections atomic.Int64
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the broadcaster logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Broadcaster) { b.logger = logging.OrNop(logger) }
}

// WithMaxHistory bounds the updates kept per task.
func WithMaxHistory(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.maxHistory = n
		}
	}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		clients:    make(map[string][]chan provenance.ProgressUpdate),
		history:    make(map[string][]provenance.ProgressUpdate),
		maxHistory: defaultMaxHistory,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish records update and sends it to the task's subscribers. It has the
// provenance.Observer signature.
func (b *Broadcaster) Publish(update provenance.ProgressUpdate) {
	if update.TaskID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.appendHistoryLocked(update)
	for i, ch := range b.clients[update.TaskID] {
		if b.deliver(ch, update) {
			b.eventsSent.Add(1)
			continue
		}
		b.droppedEvents.Add(1)
		b.logger.Warn("Dropped %s update for task %s subscriber %d", update.Type, update.TaskID, i)
	}
}

// deliver never blocks. Critical updates evict the oldest buffered update
// when the buffer is full.
func (b *Broadcaster) deliver(ch chan provenance.ProgressUpdate, update provenance.ProgressUpdate) bool {
	select {
	case ch <- update:
		return true
	default:
	}
	if !isCritical(update) {
		return false
	}
	select {
	case <-ch:
		b.droppedEvents.Add(1)
	default:
	}
	select {
	case ch <- update:
		return true
	default:
		return false
	}
}

func isCritical(update provenance.ProgressUpdate) bool {
	switch update.Type {
	case provenance.UpdateTaskCompleted, provenance.UpdateDecisionMade, provenance.UpdateIterationCompleted:
		return true
	default:
		return false
	}
}

// appendHistoryLocked keeps history ordered by sequence even when workers
// publish out of order.
func (b *Broadcaster) appendHistoryLocked(update provenance.ProgressUpdate) {
	h := append(b.history[update.TaskID], update)
	for i := len(h) - 1; i > 0 && h[i-1].Seq > h[i].Seq; i-- {
		h[i-1], h[i] = h[i], h[i-1]
	}
	if len(h) > b.maxHistory {
		h = append([]provenance.ProgressUpdate(nil), h[len(h)-b.maxHistory:]...)
	}
	b.history[update.TaskID] = h
}

// Subscribe registers a subscriber for taskID. It returns the updates
// published so far, a channel for the ones that follow, and a cancel
// function that closes the channel. No update is both replayed and sent.
func (b *Broadcaster) Subscribe(taskID string, buffer int) ([]provenance.ProgressUpdate, <-chan provenance.ProgressUpdate, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan provenance.ProgressUpdate, buffer)

	b.mu.Lock()
	replay := append([]provenance.ProgressUpdate(nil), b.history[taskID]...)
	b.clients[taskID] = append(b.clients[taskID], ch)
	b.mu.Unlock()

	b.totalConnections.Add(1)
	b.activeConnections.Add(1)
	b.logger.Debug("Subscriber joined task %s (%d replayed)", taskID, len(replay))

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.unsubscribe(taskID, ch) })
	}
	return replay, ch, cancel
}

func (b *Broadcaster) unsubscribe(taskID string, ch chan provenance.ProgressUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients := b.clients[taskID]
	for i, c := range clients {
		if c == ch {
			clients = append(clients[:i], clients[i+1:]...)
			close(ch)
			b.activeConnections.Add(-1)
			break
		}
	}
	if len(clients) == 0 {
		delete(b.clients, taskID)
	} else {
		b.clients[taskID] = clients
	}
}

// History returns the recorded updates for taskID.
func (b *Broadcaster) History(taskID string) []provenance.ProgressUpdate {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]provenance.ProgressUpdate(nil), b.history[taskID]...)
}

// Forget drops the history of taskID. Live subscribers are unaffected.
func (b *Broadcaster) Forget(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, taskID)
}

// SubscriberCount returns the live subscribers of taskID.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[taskID])
}

// Metrics is a point-in-time view of broadcaster counters.
type Metrics struct {
	EventsSent        int64 `json:"events_sent"`
	DroppedEvents     int64 `json:"dropped_events"`
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
}

// Metrics returns the broadcaster counters.
func (b *Broadcaster) Metrics() Metrics {
	return Metrics{
		EventsSent:        b.eventsSent.Load(),
		DroppedEvents:     b.droppedEvents.Load(),
		TotalConnections:  b.totalConnections.Load(),
		ActiveConnections: b.activeConnections.Load(),
	}
}
