package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowatch/flowatch/internal/config"
	"github.com/flowatch/flowatch/internal/history"
	"github.com/flowatch/flowatch/internal/storage"
	"github.com/flowatch/flowatch/internal/workflow"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Monitor.Timeout = 5 * time.Second
	cfg.Monitor.CheckInterval = 5 * time.Millisecond
	cfg.Monitor.PollInterval = 5 * time.Millisecond
	cfg.Monitor.CleanupTimeout = time.Second
	return cfg
}

func testDefinition(entry string, functions map[string]workflow.FunctionDef) *workflow.Definition {
	return &workflow.Definition{
		Name:      "pipeline",
		Entry:     entry,
		Functions: functions,
	}
}

func triggerTestRunner(t *testing.T, cfg *config.Config, def *workflow.Definition, store *storage.MemoryStore, opts ...Option) *Runner {
	t.Helper()

	opts = append([]Option{WithStore(store), WithDefinition(def)}, opts...)
	r, err := TriggerWorkflow(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Cleanup)
	return r
}

// finishNode writes a node's log lines and its terminal marker, the way the
// companion function wrapper would.
func finishNode(r *Runner, store *storage.MemoryStore, base string, lines ...string) {
	node := workflow.NodeID{Base: base}
	if len(lines) > 0 {
		store.Put(node.LogKey(r.Graph().Name(), r.InvocationFolder()), strings.Join(lines, "\n")+"\n")
	}
	store.Put(node.DoneKey(r.Graph().Name(), r.InvocationFolder()), "")
}

func waitComplete(t *testing.T, r *Runner) {
	t.Helper()
	require.Eventually(t, r.MonitoringComplete, 3*time.Second, 5*time.Millisecond)
}

func TestRunnerCompleteFlow(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract":   {InvokeNext: []string{"transform"}},
		"transform": {InvokeNext: []string{"load"}},
		"load":      {},
	})

	r := triggerTestRunner(t, testConfig(), def, store)
	require.NotEmpty(t, r.InvocationID())
	require.Equal(t, StatusInvoked, r.GetFunctionStatuses()["extract"])

	finishNode(r, store, "extract", "reading source", "Invoking function: transform")
	finishNode(r, store, "transform", "transforming", "Invoking function: load")
	finishNode(r, store, "load", "loaded 12 records")

	waitComplete(t, r)

	require.Equal(t, OutcomeCompleted, r.Outcome())
	statuses := r.GetFunctionStatuses()
	require.Equal(t, StatusCompleted, statuses["extract"])
	require.Equal(t, StatusCompleted, statuses["transform"])
	require.Equal(t, StatusCompleted, statuses["load"])

	require.Equal(t, []string{"loaded 12 records"}, r.FunctionLogs("load"))

	m, ok := r.Monitor("transform")
	require.True(t, ok)
	require.Contains(t, m.Invocations(), "extract")
}

func TestRunnerFailurePropagatesSkip(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract":   {InvokeNext: []string{"transform"}},
		"transform": {InvokeNext: []string{"load"}},
		"load":      {},
	})

	r := triggerTestRunner(t, testConfig(), def, store)

	finishNode(r, store, "extract", "reading source", "[ERROR] source unreachable")

	waitComplete(t, r)

	require.Equal(t, OutcomeFailed, r.Outcome())
	statuses := r.GetFunctionStatuses()
	require.Equal(t, StatusFailed, statuses["extract"])
	require.Equal(t, StatusSkipped, statuses["transform"])
	require.Equal(t, StatusSkipped, statuses["load"])
}

func TestRunnerNotInvokedResolution(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract": {InvokeNext: []string{"transform", "audit"}},
		// Only transform is actually dispatched; audit never appears in
		// the log.
		"transform": {},
		"audit":     {},
	})

	r := triggerTestRunner(t, testConfig(), def, store)

	finishNode(r, store, "extract", "Invoking function: transform")
	finishNode(r, store, "transform", "transforming")

	waitComplete(t, r)

	require.Equal(t, OutcomeCompleted, r.Outcome())
	statuses := r.GetFunctionStatuses()
	require.Equal(t, StatusCompleted, statuses["extract"])
	require.Equal(t, StatusCompleted, statuses["transform"])
	require.Equal(t, StatusNotInvoked, statuses["audit"])
}

func TestRunnerStaticCondition(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract": {InvokeNext: []string{"audit"}},
		"audit":   {When: "args.audit_enabled"},
	})

	cfg := testConfig()
	cfg.Workflow.Arguments = map[string]any{"audit_enabled": false}

	r := triggerTestRunner(t, cfg, def, store)
	require.Equal(t, StatusNotInvoked, r.GetFunctionStatuses()["audit"])

	finishNode(r, store, "extract", "done")
	waitComplete(t, r)

	require.Equal(t, OutcomeCompleted, r.Outcome())
}

func TestRunnerRankedExpansion(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract": {InvokeNext: []string{"shard"}},
		"shard":   {Rank: 2},
	})

	r := triggerTestRunner(t, testConfig(), def, store)

	statuses := r.GetFunctionStatuses()
	require.Contains(t, statuses, "shard(1)")
	require.Contains(t, statuses, "shard(2)")

	finishNode(r, store, "extract", "Invoking function: shard")
	for rank := 1; rank <= 2; rank++ {
		node := workflow.NodeID{Base: "shard", Rank: rank}
		store.Put(node.LogKey(r.Graph().Name(), r.InvocationFolder()), "sharding\n")
		store.Put(node.DoneKey(r.Graph().Name(), r.InvocationFolder()), "")
	}

	waitComplete(t, r)

	statuses = r.GetFunctionStatuses()
	require.Equal(t, StatusCompleted, statuses["shard(1)"])
	require.Equal(t, StatusCompleted, statuses["shard(2)"])
}

func TestRunnerTimeout(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract":   {InvokeNext: []string{"transform"}},
		"transform": {},
	})

	cfg := testConfig()
	cfg.Monitor.Timeout = 50 * time.Millisecond

	r := triggerTestRunner(t, cfg, def, store)
	waitComplete(t, r)

	require.Equal(t, OutcomeTimeout, r.Outcome())
	statuses := r.GetFunctionStatuses()
	require.Equal(t, StatusTimeout, statuses["extract"])
	require.Equal(t, StatusTimeout, statuses["transform"])
}

func TestRunnerShutdownLeavesStatuses(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract":   {InvokeNext: []string{"transform"}},
		"transform": {},
	})

	r := triggerTestRunner(t, testConfig(), def, store)

	require.True(t, r.Shutdown(time.Second))
	require.True(t, r.ShutdownRequested())
	require.True(t, r.MonitoringComplete())
	require.Equal(t, OutcomeShutdown, r.Outcome())

	// Shutdown stops observation; it does not rewrite what was observed.
	statuses := r.GetFunctionStatuses()
	require.Equal(t, StatusInvoked, statuses["extract"])
	require.Equal(t, StatusPending, statuses["transform"])
}

func TestRunnerContextCancellation(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract": {},
	})

	ctx, cancel := context.WithCancel(context.Background())
	r, err := TriggerWorkflow(ctx, testConfig(), WithStore(store), WithDefinition(def))
	require.NoError(t, err)
	t.Cleanup(r.Cleanup)

	cancel()
	waitComplete(t, r)
	require.Equal(t, OutcomeShutdown, r.Outcome())
}

func TestRunnerDispatcherRetries(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract": {},
	})

	var mu sync.Mutex
	attempts := 0
	dispatcher := DispatcherFunc(func(_ context.Context, workflowName string, entry workflow.NodeID, folder string) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("cold start")
		}
		require.Equal(t, "pipeline", workflowName)
		require.Equal(t, "extract", entry.Base)
		require.NotEmpty(t, folder)
		return nil
	})

	r := triggerTestRunner(t, testConfig(), def, store, WithDispatcher(dispatcher))

	mu.Lock()
	require.Equal(t, 2, attempts)
	mu.Unlock()

	finishNode(r, store, "extract", "done")
	waitComplete(t, r)
	require.Equal(t, OutcomeCompleted, r.Outcome())
}

func TestRunnerDispatcherFailureIsInitializationError(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract": {},
	})

	dispatcher := DispatcherFunc(func(context.Context, string, workflow.NodeID, string) error {
		return errors.New("platform rejected trigger")
	})

	_, err := TriggerWorkflow(context.Background(), testConfig(),
		WithStore(store), WithDefinition(def), WithDispatcher(dispatcher))
	require.Error(t, err)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	require.Equal(t, "workflow dispatch", initErr.Stage)
}

func TestRunnerRecordsHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract": {},
	})

	hist, err := history.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	r := triggerTestRunner(t, testConfig(), def, store, WithHistory(hist))

	finishNode(r, store, "extract", "done")
	waitComplete(t, r)

	rec, err := hist.Get(context.Background(), r.InvocationID())
	require.NoError(t, err)
	require.Equal(t, "pipeline", rec.Workflow)
	require.Equal(t, OutcomeCompleted, rec.Outcome)
	require.Equal(t, string(StatusCompleted), rec.Statuses["extract"])
}

func TestRunnerSnapshotUnderConcurrentMutation(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract":   {InvokeNext: []string{"transform"}},
		"transform": {},
	})

	r := triggerTestRunner(t, testConfig(), def, store)

	valid := map[FunctionStatus]bool{
		StatusPending: true, StatusInvoked: true, StatusNotInvoked: true,
		StatusRunning: true, StatusCompleted: true, StatusFailed: true,
		StatusSkipped: true, StatusTimeout: true,
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for name, status := range r.GetFunctionStatuses() {
					if !valid[status] {
						t.Errorf("invalid status %q for %s", status, name)
						return
					}
				}
			}
		}()
	}

	finishNode(r, store, "extract", "Invoking function: transform")
	finishNode(r, store, "transform", "done")
	waitComplete(t, r)

	close(stop)
	wg.Wait()

	require.Equal(t, OutcomeCompleted, r.Outcome())
}

func TestWaitFor(t *testing.T) {
	store := storage.NewMemoryStore()
	def := testDefinition("extract", map[string]workflow.FunctionDef{
		"extract": {},
	})

	r := triggerTestRunner(t, testConfig(), def, store)

	go func() {
		time.Sleep(20 * time.Millisecond)
		finishNode(r, store, "extract", "done")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status, err := WaitFor(ctx, r, "extract", 5*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, status)

	_, err = WaitFor(ctx, r, "unknown", 5*time.Millisecond)
	require.Error(t, err)
}
