package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowatch/flowatch/internal/storage"
	"github.com/flowatch/flowatch/internal/workflow"
)

const testPollInterval = 5 * time.Millisecond

// eventRecorder captures poller events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []LogEvent
	lines  []string
}

func (r *eventRecorder) callback(_ workflow.NodeID, event LogEvent, lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.lines = append(r.lines, lines...)
}

func (r *eventRecorder) count(event LogEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *eventRecorder) allLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func newTestPoller(t *testing.T, store storage.Store) (*LogPoller, *eventRecorder) {
	t.Helper()

	node := workflow.NodeID{Base: "extract"}
	poller := NewLogPoller(node, "pipeline", "run-1", store, testPollInterval)

	rec := &eventRecorder{}
	poller.Subscribe(rec.callback)

	t.Cleanup(func() {
		poller.Stop()
		select {
		case <-poller.Done():
		case <-time.After(time.Second):
			t.Fatal("poller did not stop")
		}
	})

	return poller, rec
}

func TestLogPollerKeys(t *testing.T) {
	poller, _ := newTestPoller(t, storage.NewMemoryStore())

	require.Equal(t, "pipeline/run-1/extract.log", poller.LogsKey())
	require.Equal(t, "pipeline/run-1/extract.done", poller.DoneKey())
}

func TestLogPollerCreatedThenUpdated(t *testing.T) {
	store := storage.NewMemoryStore()
	poller, rec := newTestPoller(t, store)

	store.Put(poller.LogsKey(), "line one\n")
	poller.Start(context.Background())

	require.Eventually(t, func() bool {
		return rec.count(LogCreated) == 1
	}, time.Second, testPollInterval)
	require.True(t, poller.LogsStarted())

	store.Append(poller.LogsKey(), "line two\nline three\n")

	require.Eventually(t, func() bool {
		return rec.count(LogUpdated) >= 1
	}, time.Second, testPollInterval)

	require.Eventually(t, func() bool {
		return len(rec.allLines()) == 3
	}, time.Second, testPollInterval)
	require.Equal(t, []string{"line one", "line two", "line three"}, rec.allLines())
}

func TestLogPollerCompleteRequiresMarkerAndQuiescence(t *testing.T) {
	store := storage.NewMemoryStore()
	poller, rec := newTestPoller(t, store)

	// Marker and log land together: the first cycle still produces new
	// content, so completion waits for a quiescent pass.
	store.Put(poller.LogsKey(), "working\ndone\n")
	store.Put(poller.DoneKey(), "")

	poller.Start(context.Background())

	select {
	case <-poller.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not complete")
	}

	require.True(t, poller.LogsComplete())
	require.Equal(t, 1, rec.count(LogComplete))
	require.Equal(t, []string{"working", "done"}, rec.allLines())
}

func TestLogPollerNeverCompletesWithoutMarker(t *testing.T) {
	store := storage.NewMemoryStore()
	poller, rec := newTestPoller(t, store)

	store.Put(poller.LogsKey(), "still going\n")
	poller.Start(context.Background())

	require.Eventually(t, func() bool {
		return rec.count(LogCreated) == 1
	}, time.Second, testPollInterval)

	time.Sleep(10 * testPollInterval)
	require.False(t, poller.LogsComplete())
	require.Zero(t, rec.count(LogComplete))
}

func TestLogPollerSwallowsStoreErrors(t *testing.T) {
	store := storage.NewMemoryStore()
	poller, rec := newTestPoller(t, store)

	store.SetError(errors.New("connection reset"))
	poller.Start(context.Background())

	time.Sleep(10 * testPollInterval)
	require.Empty(t, rec.allLines())
	require.False(t, poller.LogsComplete())

	// Once the store recovers the poller picks up where it left off.
	store.SetError(nil)
	store.Put(poller.LogsKey(), "recovered\n")
	store.Put(poller.DoneKey(), "")

	select {
	case <-poller.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not complete after store recovered")
	}

	require.Equal(t, 1, rec.count(LogComplete))
	require.Equal(t, []string{"recovered"}, rec.allLines())
}

func TestLogPollerStop(t *testing.T) {
	store := storage.NewMemoryStore()
	poller, rec := newTestPoller(t, store)

	poller.Start(context.Background())
	poller.Stop()

	select {
	case <-poller.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}

	require.True(t, poller.StopRequested())
	require.False(t, poller.LogsComplete())
	require.Zero(t, rec.count(LogComplete))
}
