package provenance

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"drillflow/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestTask(t *testing.T, opts ...Option) *Task {
	t.Helper()
	clock := newStepClock()
	return NewTask("task-1", "daily active users last 7 days", append([]Option{WithClock(clock.Now)}, opts...)...)
}

func TestIterationLifecycle(t *testing.T) {
	task := newTestTask(t)

	_, err := task.CloseCurrentIteration()
	require.ErrorIs(t, err, ErrNoOpenIteration)

	_, err = task.CreateQuery("dau", ports.Instruction{Task: "dau"})
	require.ErrorIs(t, err, ErrNoOpenIteration)

	first, err := task.OpenIteration(KindInitial, "Initial analysis", "broad pass")
	require.NoError(t, err)
	assert.Equal(t, 1, first.ID)
	assert.True(t, first.Open())

	_, err = task.OpenIteration(KindDrilldown, "", "")
	require.ErrorIs(t, err, ErrIterationOpen)

	closed, err := task.CloseCurrentIteration()
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	assert.False(t, closed.Open())

	second, err := task.OpenIteration(KindDrilldown, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, second.ID)
	assert.Equal(t, "drilldown iteration", second.Name)

	current, ok := task.CurrentIteration()
	require.True(t, ok)
	assert.Equal(t, KindDrilldown, current.Kind)
}

func TestQuerySequencingAndIDs(t *testing.T) {
	task := newTestTask(t)
	_, err := task.OpenIteration(KindInitial, "Initial", "")
	require.NoError(t, err)

	q1, err := task.CreateQuery("  DAU by day ", ports.Instruction{Task: "DAU by day", Dimensions: []string{"day"}})
	require.NoError(t, err)
	q2, err := task.CreateQuery("retention", ports.Instruction{Task: "retention"})
	require.NoError(t, err)

	assert.Equal(t, "q1_iter1", q1.ID.String())
	assert.Equal(t, "q2_iter1", q2.ID.String())
	assert.Equal(t, StatusPending, q1.Status)
	assert.Equal(t, ContentHash("dau by day"), q1.ContentHash)

	_, err = task.CloseCurrentIteration()
	require.NoError(t, err)
	_, err = task.OpenIteration(KindDrilldown, "Drilldown", "")
	require.NoError(t, err)
	q3, err := task.CreateQuery("dau by channel", ports.Instruction{Task: "dau by channel"})
	require.NoError(t, err)
	assert.Equal(t, QueryID{Iteration: 2, Sequence: 1}, q3.ID)

	ids := []string{}
	for _, q := range task.Queries() {
		ids = append(ids, q.ID.String())
	}
	assert.Equal(t, []string{"q1_iter1", "q2_iter1", "q1_iter2"}, ids)
}

func TestCompleteQueryTransitions(t *testing.T) {
	task := newTestTask(t)
	_, err := task.OpenIteration(KindInitial, "Initial", "")
	require.NoError(t, err)
	q, err := task.CreateQuery("dau", ports.Instruction{Task: "dau"})
	require.NoError(t, err)

	_, err = task.CompleteQuery(q.ID, Outcome{Status: StatusPending})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = task.CompleteQuery(q.ID, Outcome{Status: QueryStatus("done")})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = task.CompleteQuery(QueryID{Iteration: 1, Sequence: 9}, Outcome{Status: StatusSuccess})
	require.ErrorIs(t, err, ErrQueryNotFound)

	artifact := &ports.Artifact{Path: "/tmp/dau.csv", RowCount: 7, Columns: []string{"day", "dau"}}
	done, err := task.CompleteQuery(q.ID, Outcome{Status: StatusSuccess, Artifact: artifact, Statement: "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = task.CompleteQuery(q.ID, Outcome{Status: StatusFailed, Error: "late"})
	require.ErrorIs(t, err, ErrQueryCompleted)

	// Records hold their own copy of the artifact.
	artifact.Columns[0] = "mutated"
	stored, err := task.Query(q.ID)
	require.NoError(t, err)
	assert.Equal(t, "day", stored.Artifact.Columns[0])
	stored.Artifact.RowCount = 0
	again, _ := task.Query(q.ID)
	assert.Equal(t, 7, again.Artifact.RowCount)
}

func TestCompleteTask(t *testing.T) {
	task := newTestTask(t)
	_, err := task.OpenIteration(KindInitial, "Initial", "")
	require.NoError(t, err)

	require.ErrorIs(t, task.Complete(), ErrIterationOpen)
	_, err = task.CloseCurrentIteration()
	require.NoError(t, err)

	require.NoError(t, task.Complete())
	require.ErrorIs(t, task.Complete(), ErrTaskCompleted)
	assert.True(t, task.Completed())

	_, err = task.OpenIteration(KindDrilldown, "", "")
	require.ErrorIs(t, err, ErrTaskCompleted)

	summary := task.Summary()
	assert.Equal(t, TaskCompleted, summary.Status)
	require.NotNil(t, summary.CompletedAt)
	assert.Greater(t, summary.DurationSeconds, 0.0)
}

func TestSummaryConsistency(t *testing.T) {
	task := newTestTask(t)
	_, err := task.OpenIteration(KindInitial, "Initial", "")
	require.NoError(t, err)

	outcomes := []Outcome{
		{Status: StatusSuccess, Artifact: &ports.Artifact{Path: "a.csv", RowCount: 10}, Statement: "SELECT a"},
		{Status: StatusSuccess, Artifact: &ports.Artifact{Path: "a.csv", RowCount: 10}, Statement: "SELECT a", ServedFromCache: true},
		{Status: StatusPartial, Statement: "SELECT b"},
		{Status: StatusFailed, Error: "timeout"},
	}
	for i, outcome := range outcomes {
		q, err := task.CreateQuery(fmt.Sprintf("instruction %d", i), ports.Instruction{})
		require.NoError(t, err)
		_, err = task.CompleteQuery(q.ID, outcome)
		require.NoError(t, err)
	}
	_, err = task.CreateQuery("still running", ports.Instruction{})
	require.NoError(t, err)

	summary := task.Summary()
	assert.Equal(t, 5, summary.TotalQueries)
	assert.Equal(t, 2, summary.SuccessfulQueries)
	assert.Equal(t, 1, summary.PartialQueries)
	assert.Equal(t, 1, summary.FailedQueries)
	assert.Equal(t, 1, summary.PendingQueries)
	assert.Equal(t, 1, summary.CachedQueries)
	assert.Equal(t, 2, summary.TotalArtifacts)
	assert.Equal(t, 20, summary.TotalArtifactRows)
	assert.Equal(t, 3, summary.TotalStatements)
	assert.Equal(t, summary.TotalQueries,
		summary.SuccessfulQueries+summary.PartialQueries+summary.FailedQueries+summary.PendingQueries)
	assert.LessOrEqual(t, summary.CachedQueries, summary.TotalQueries)

	require.Len(t, summary.Iterations, 1)
	assert.Equal(t, 5, summary.Iterations[0].QueryCount)
	assert.Equal(t, 2, summary.Iterations[0].SuccessCount)

	assert.Len(t, task.SuccessfulQueries(), 2)
	assert.Len(t, task.FailedQueries(), 1)
	assert.Len(t, task.PartialQueries(), 1)
	assert.Len(t, task.Artifacts(), 2)

	statements := task.Statements()
	require.Len(t, statements, 3)
	assert.Equal(t, StatusPartial, statements[2].Status)
}

func TestProgressUpdatesAndObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []UpdateType
	task := newTestTask(t, WithObserver(func(u ProgressUpdate) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, u.Type)
	}))

	_, err := task.OpenIteration(KindInitial, "Initial", "")
	require.NoError(t, err)
	q, err := task.CreateQuery("dau", ports.Instruction{})
	require.NoError(t, err)
	_, err = task.CompleteQuery(q.ID, Outcome{Status: StatusSuccess, Statement: "SELECT 1", Artifact: &ports.Artifact{Path: "x.csv"}})
	require.NoError(t, err)
	_, err = task.CloseCurrentIteration()
	require.NoError(t, err)
	task.Note(UpdateDecisionMade, map[string]any{"need_drilldown": false})
	require.NoError(t, task.Complete())

	want := []UpdateType{
		UpdateTaskStarted,
		UpdateIterationStarted,
		UpdateStatementGenerated,
		UpdateDataReady,
		UpdateQueryCompleted,
		UpdateIterationCompleted,
		UpdateDecisionMade,
		UpdateTaskCompleted,
	}
	updates := task.ProgressUpdates()
	got := make([]UpdateType, 0, len(updates))
	for i, u := range updates {
		assert.Equal(t, i+1, u.Seq)
		assert.Equal(t, "task-1", u.TaskID)
		got = append(got, u.Type)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, want, seen)

	tail := task.ProgressUpdatesSince(6)
	require.Len(t, tail, 2)
	assert.Equal(t, UpdateDecisionMade, tail[0].Type)
	assert.Nil(t, task.ProgressUpdatesSince(100))
}

func TestConcurrentCompletion(t *testing.T) {
	task := newTestTask(t)
	_, err := task.OpenIteration(KindInitial, "Initial", "")
	require.NoError(t, err)

	const n = 32
	ids := make([]QueryID, n)
	for i := range n {
		q, err := task.CreateQuery(fmt.Sprintf("q %d", i), ports.Instruction{})
		require.NoError(t, err)
		ids[i] = q.ID
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id QueryID) {
			defer wg.Done()
			status := StatusSuccess
			if i%2 == 1 {
				status = StatusFailed
			}
			_, _ = task.CompleteQuery(id, Outcome{Status: status})
			_ = task.Summary()
		}(i, id)
	}
	wg.Wait()

	summary := task.Summary()
	assert.Equal(t, n, summary.TotalQueries)
	assert.Equal(t, n/2, summary.SuccessfulQueries)
	assert.Equal(t, n/2, summary.FailedQueries)
	assert.Zero(t, summary.PendingQueries)
}

func TestQueryIDParsing(t *testing.T) {
	id, err := ParseQueryID("q3_iter2")
	require.NoError(t, err)
	assert.Equal(t, QueryID{Iteration: 2, Sequence: 3}, id)

	for _, bad := range []string{"", "q0_iter1", "iter1_q1", "q01_iter1", "q1_iter"} {
		_, err := ParseQueryID(bad)
		assert.Error(t, err, bad)
	}

	text, err := id.MarshalText()
	require.NoError(t, err)
	var back QueryID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
}

func TestContentHashNormalization(t *testing.T) {
	assert.Equal(t, ContentHash("Daily Active Users"), ContentHash("  daily active users\n"))
	assert.NotEqual(t, ContentHash("daily active users"), ContentHash("weekly active users"))
	assert.Len(t, ContentHash("x"), 64)
}

func TestStatusHelpers(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusPartial.Terminal())
	assert.False(t, QueryStatus("bogus").Valid())

	status, err := StatusFromRun(ports.RunPartial)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, status)
	_, err = StatusFromRun("weird")
	assert.Error(t, err)
}

func TestObserverSeesConcurrentUpdatesInSeqOrder(t *testing.T) {
	var seqs []int
	task := newTestTask(t, WithObserver(func(u ProgressUpdate) {
		// Delivery is serialized, so no lock is needed here.
		seqs = append(seqs, u.Seq)
	}))

	_, err := task.OpenIteration(KindInitial, "Initial", "")
	require.NoError(t, err)
	const n = 32
	ids := make([]QueryID, n)
	for i := range ids {
		q, err := task.CreateQuery(fmt.Sprintf("query %d", i), ports.Instruction{})
		require.NoError(t, err)
		ids[i] = q.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id QueryID) {
			defer wg.Done()
			_, err := task.CompleteQuery(id, Outcome{Status: StatusSuccess, Statement: "SELECT 1", Artifact: &ports.Artifact{Path: "x.csv"}})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	total := len(task.ProgressUpdates())
	require.Len(t, seqs, total)
	for i, seq := range seqs {
		require.Equal(t, i+1, seq, "update delivered out of order")
	}
}

func TestCreateQueriesIsAllOrNothing(t *testing.T) {
	task := newTestTask(t)

	_, err := task.CreateQueries([]ports.Instruction{{Task: "dau"}, {Task: "wau"}})
	require.ErrorIs(t, err, ErrNoOpenIteration)
	assert.Zero(t, task.Summary().TotalQueries)

	_, err = task.OpenIteration(KindInitial, "", "")
	require.NoError(t, err)
	records, err := task.CreateQueries([]ports.Instruction{{Task: " DAU "}, {Task: "wau", Dimensions: []string{"os"}}})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, QueryID{Iteration: 1, Sequence: 1}, records[0].ID)
	assert.Equal(t, QueryID{Iteration: 1, Sequence: 2}, records[1].ID)
	assert.Equal(t, "DAU", records[0].Instruction)
	assert.Equal(t, ContentHash("dau"), records[0].ContentHash)
	assert.Equal(t, []string{"os"}, records[1].Parameters.Dimensions)
	assert.Equal(t, 2, task.Summary().PendingQueries)
}
