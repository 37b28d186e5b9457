package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"drillflow/internal/logging"
)

// FileStore writes one JSON file per task under a directory.
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	logger logging.Logger
	now    func() time.Time
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string, logger logging.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logging.OrNop(logger), now: time.Now}, nil
}

// Dir returns the store root.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the record through a temp file and rename so readers never
// see a partial file.
func (s *FileStore) Save(record *Record) error {
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
	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+record.TaskID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write task record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close task record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(record.TaskID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename task record: %w", err)
	}
	s.logger.Debug("Saved task %s to %s", record.TaskID, s.path(record.TaskID))
	return nil
}

func (s *FileStore) Get(id string) (*Record, error) {
	if err := checkID(id); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read task record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode task record: %w", err)
	}
	return &record, nil
}

// List returns every readable record, newest first. Unreadable files are
// skipped.
func (s *FileStore) List() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}
	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable task record %s: %v", entry.Name(), err)
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("Skipping corrupt task record %s: %v", entry.Name(), err)
			continue
		}
		records = append(records, &record)
	}
	sortNewestFirst(records)
	return records, nil
}

func (s *FileStore) Delete(id string) error {
	if err := checkID(id); err != nil {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("delete task record: %w", err)
	}
	return nil
}
