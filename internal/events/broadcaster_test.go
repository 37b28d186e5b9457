package events

import (
	"testing"
	"time"

	"drillflow/internal/ports"
	"drillflow/internal/provenance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(task string, seq int, kind provenance.UpdateType) provenance.ProgressUpdate {
	return provenance.ProgressUpdate{Seq: seq, TaskID: task, Type: kind, Timestamp: time.Unix(int64(seq), 0)}
}

func TestSubscribeReplaysThenStreams(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(update("t1", 1, provenance.UpdateTaskStarted))
	b.Publish(update("t2", 1, provenance.UpdateTaskStarted))

	replay, ch, cancel := b.Subscribe("t1", 4)
	defer cancel()
	require.Len(t, replay, 1)
	assert.Equal(t, provenance.UpdateTaskStarted, replay[0].Type)

	b.Publish(update("t1", 2, provenance.UpdateIterationStarted))
	b.Publish(update("t2", 2, provenance.UpdateIterationStarted))

	select {
	case got := <-ch:
		assert.Equal(t, 2, got.Seq)
		assert.Equal(t, "t1", got.TaskID)
	case <-time.After(time.Second):
		t.Fatal("update not delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected update %+v", got)
	default:
	}
	assert.Equal(t, int64(1), b.Metrics().EventsSent)
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	_, ch, cancel := b.Subscribe("t1", 1)
	assert.Equal(t, 1, b.SubscriberCount("t1"))

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount("t1"))
	assert.Equal(t, int64(0), b.Metrics().ActiveConnections)
	assert.Equal(t, int64(1), b.Metrics().TotalConnections)

	b.Publish(update("t1", 1, provenance.UpdateTaskStarted))
}

func TestSlowSubscriberDropsButKeepsCriticalUpdates(t *testing.T) {
	b := NewBroadcaster()
	_, ch, cancel := b.Subscribe("t1", 1)
	defer cancel()

	b.Publish(update("t1", 1, provenance.UpdateQueryCompleted))
	b.Publish(update("t1", 2, provenance.UpdateQueryCompleted))
	b.Publish(update("t1", 3, provenance.UpdateTaskCompleted))

	got := <-ch
	assert.Equal(t, provenance.UpdateTaskCompleted, got.Type)
	assert.Equal(t, int64(2), b.Metrics().DroppedEvents)
}

func TestHistoryOrderedAndBounded(t *testing.T) {
	b := NewBroadcaster(WithMaxHistory(3))
	for _, seq := range []int{1, 3, 2, 4} {
		b.Publish(update("t1", seq, provenance.UpdateQueryCompleted))
	}
	history := b.History("t1")
	require.Len(t, history, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{history[0].Seq, history[1].Seq, history[2].Seq})

	b.Forget("t1")
	assert.Empty(t, b.History("t1"))
}

func TestPublishAsTaskObserver(t *testing.T) {
	b := NewBroadcaster()
	task := provenance.NewTask("t1", "question", provenance.WithObserver(b.Publish))
	_, err := task.OpenIteration(provenance.KindInitial, "", "")
	require.NoError(t, err)
	_, err = task.CreateQuery("dau", ports.Instruction{Task: "dau"})
	require.NoError(t, err)

	history := b.History("t1")
	require.GreaterOrEqual(t, len(history), 2)
	assert.Equal(t, provenance.UpdateTaskStarted, history[0].Type)
	assert.Equal(t, provenance.UpdateIterationStarted, history[1].Type)
}
