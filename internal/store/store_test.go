package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"drillflow/internal/ports"
	"drillflow/internal/progression"
	"drillflow/internal/provenance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedTask(t *testing.T, id string, created time.Time) *provenance.Task {
	t.Helper()
	now := created
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	task := provenance.NewTask(id, "daily active users last 7 days", provenance.WithClock(clock))
	_, err := task.OpenIteration(provenance.KindInitial, "Initial analysis", "")
	require.NoError(t, err)
	q, err := task.CreateQuery("dau", ports.Instruction{Task: "dau"})
	require.NoError(t, err)
	_, err = task.CompleteQuery(q.ID, provenance.Outcome{
		Status:    provenance.StatusSuccess,
		Artifact:  &ports.Artifact{Path: "/tmp/dau.csv", RowCount: 7, Columns: []string{"date", "dau"}},
		Statement: "SELECT 1",
	})
	require.NoError(t, err)
	_, err = task.CloseCurrentIteration()
	require.NoError(t, err)
	require.NoError(t, task.Complete())
	return task
}

func exerciseStore(t *testing.T, s Store) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	older := finishedTask(t, "task-old", base)
	newer := finishedTask(t, "task-new", base.Add(time.Hour))

	require.NoError(t, s.Save(NewRecord(older, &progression.Report{TaskID: "task-old", Report: "old report"})))
	require.NoError(t, s.Save(NewRecord(newer, nil)))

	got, err := s.Get("task-old")
	require.NoError(t, err)
	assert.Equal(t, "daily active users last 7 days", got.Question)
	assert.False(t, got.SavedAt.IsZero())
	require.NotNil(t, got.Report)
	assert.Equal(t, "old report", got.Report.Report)
	assert.Equal(t, 1, got.Snapshot.Summary.SuccessfulQueries)
	require.Len(t, got.Snapshot.Iterations, 1)
	require.Len(t, got.Snapshot.Iterations[0].Queries, 1)
	assert.Equal(t, "q1_iter1", got.Snapshot.Iterations[0].Queries[0].ID.String())
	assert.Equal(t, 7, got.Snapshot.Iterations[0].Queries[0].Artifact.RowCount)
	assert.Contains(t, got.Markdown(), "/tmp/dau.csv")

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "task-new", list[0].TaskID)
	assert.Equal(t, "task-old", list[1].TaskID)

	require.NoError(t, s.Delete("task-old"))
	_, err = s.Get("task-old")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("task-old"), ErrNotFound)

	assert.Error(t, s.Save(&Record{TaskID: "../escape"}))
	assert.Error(t, s.Save(nil))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	exerciseStore(t, s)

	_, err = os.Stat(filepath.Join(dir, "task-new.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "..", "escape.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, s.Save(NewRecord(finishedTask(t, "task-1", time.Now()), nil)))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "task-1", list[0].TaskID)

	_, err = s.Get("broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	_, err := NewFileStore("", nil)
	assert.Error(t, err)
}
