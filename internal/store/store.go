// Package store persists finished task snapshots.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"drillflow/internal/progression"
	"drillflow/internal/provenance"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("task record not found")

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Record is the persisted view of one task: its provenance snapshot and the
// controller report.
type Record struct {
	TaskID    string              `json:"task_id"`
	Question  string              `json:"question"`
	CreatedAt time.Time           `json:"created_at"`
	SavedAt   time.Time           `json:"saved_at"`
	Snapshot  provenance.Snapshot `json:"snapshot"`
	Report    *progression.Report `json:"report,omitempty"`
}

// NewRecord captures task and its report.
func NewRecord(task *provenance.Task, report *progression.Report) *Record {
	return &Record{
		TaskID:    task.ID(),
		Question:  task.Question(),
		CreatedAt: task.CreatedAt(),
		Snapshot:  task.Snapshot(),
		Report:    report,
	}
}

// Markdown renders the stored snapshot.
func (r *Record) Markdown() string {
	return provenance.RenderMarkdown(r.Snapshot)
}

// Store persists task records.
type Store interface {
	Save(record *Record) error
	Get(id string) (*Record, error)
	List() ([]*Record, error)
	Delete(id string) error
}

func checkID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid task id %q", id)
	}
	return nil
}

func sortNewestFirst(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

func (s *MemoryStore) Save(record *Record) error {
	if record == nil {
		return errors.New("record is required")
	}
	if err := checkID(record.TaskID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	cp.SavedAt = s.now()
	s.records[record.TaskID] = &cp
	return nil
}

func (s *MemoryStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	cp := *record
	return &cp, nil
}

func (s *MemoryStore) List() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		cp := *record
		records = append(records, &cp)
	}
	sortNewestFirst(records)
	return records, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	delete(s.records, id)
	return nil
}
