package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog/log"

	"github.com/flowatch/flowatch/internal/config"
	"github.com/flowatch/flowatch/internal/history"
	"github.com/flowatch/flowatch/internal/storage"
	"github.com/flowatch/flowatch/internal/workflow"
)

// Outcome values recorded for a finished run.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeShutdown  = "shutdown"
)

const (
	dispatchRetryInterval = time.Second
	dispatchMaxRetries    = 3
)

// InitializationError means the runner could not be brought up at all. It is
// returned synchronously from TriggerWorkflow; no partial runner is left
// behind.
type InitializationError struct {
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initializing %s: %v", e.Stage, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// Dispatcher fires the workflow's entry function. The monitor never executes
// anything itself, so actually starting the run is delegated.
type Dispatcher interface {
	Dispatch(ctx context.Context, workflowName string, entry workflow.NodeID, invocationFolder string) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, workflowName string, entry workflow.NodeID, invocationFolder string) error

func (f DispatcherFunc) Dispatch(ctx context.Context, workflowName string, entry workflow.NodeID, invocationFolder string) error {
	return f(ctx, workflowName, entry, invocationFolder)
}

// Option customizes TriggerWorkflow.
type Option func(*options)

type options struct {
	store      storage.Store
	matcher    Matcher
	dispatcher Dispatcher
	history    *history.Store
	definition *workflow.Definition
}

// WithStore injects an object store, bypassing S3 client construction.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMatcher injects a log matcher, bypassing failure-pattern compilation.
func WithMatcher(m Matcher) Option {
	return func(o *options) { o.matcher = m }
}

// WithDispatcher injects the component that fires the entry function. Without
// one the runner observes a run assumed to be triggered externally.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithHistory injects an already-open history store.
func WithHistory(h *history.Store) Option {
	return func(o *options) { o.history = h }
}

// WithDefinition injects a parsed definition, bypassing the file load.
func WithDefinition(def *workflow.Definition) Option {
	return func(o *options) { o.definition = def }
}

// Runner owns one monitored invocation: a monitor and poller per node, one
// monitoring goroutine, and the run's identity. All public methods are safe
// for concurrent use.
type Runner struct {
	cfg     *config.Config
	graph   *workflow.Graph
	store   storage.Store
	history *history.Store

	invocationID     string
	invocationFolder string
	startedAt        time.Time

	monitors map[string]*FunctionMonitor

	mu                 sync.Mutex
	monitoringComplete bool
	shutdownRequested  bool
	outcome            string
	cleaned            bool

	pollCtx     context.Context
	pollCancel  context.CancelFunc
	monitorDone chan struct{}

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// TriggerWorkflow starts monitoring one invocation of the configured
// workflow. Any setup failure is reported synchronously as an
// InitializationError and nothing keeps running.
func TriggerWorkflow(ctx context.Context, cfg *config.Config, opts ...Option) (*Runner, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	def := o.definition
	if def == nil {
		loaded, err := workflow.LoadDefinition(cfg.Workflow.File)
		if err != nil {
			return nil, &InitializationError{Stage: "workflow definition", Err: err}
		}
		def = loaded
	}

	graph, err := workflow.BuildGraph(def, cfg.Workflow.Arguments)
	if err != nil {
		return nil, &InitializationError{Stage: "workflow graph", Err: err}
	}

	matcher := o.matcher
	if matcher == nil {
		m, err := NewLogMatcher(cfg.Monitor.FailurePatterns)
		if err != nil {
			return nil, &InitializationError{Stage: "failure patterns", Err: err}
		}
		matcher = m
	}

	store := o.store
	if store == nil {
		s, err := storage.NewS3Store(ctx, cfg.Store)
		if err != nil {
			return nil, &InitializationError{Stage: "object store", Err: err}
		}
		store = s
	}

	hist := o.history
	if hist == nil && cfg.History.Enabled {
		h, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, &InitializationError{Stage: "history store", Err: err}
		}
		hist = h
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())

	r := &Runner{
		cfg:              cfg,
		graph:            graph,
		store:            store,
		history:          hist,
		invocationID:     uuid.New().String(),
		invocationFolder: time.Now().UTC().Format("20060102-150405") + "-" + shortuuid.New(),
		startedAt:        time.Now(),
		monitors:         make(map[string]*FunctionMonitor),
		pollCtx:          pollCtx,
		pollCancel:       pollCancel,
		monitorDone:      make(chan struct{}),
		shutdownCh:       make(chan struct{}),
	}

	for _, node := range graph.Nodes() {
		poller := NewLogPoller(node, graph.Name(), r.invocationFolder, store, cfg.Monitor.PollInterval)
		r.monitors[node.String()] = NewFunctionMonitor(node, poller, matcher, r.propagateSkip)

		if cfg.Monitor.StreamLogs {
			streamLogs(poller)
		}
	}

	r.seedStatuses()

	if o.dispatcher != nil {
		if err := r.dispatch(ctx, o.dispatcher); err != nil {
			pollCancel()
			if hist != nil && o.history == nil {
				hist.Close()
			}
			return nil, &InitializationError{Stage: "workflow dispatch", Err: err}
		}
	}

	log.Info().
		Str("workflow", graph.Name()).
		Str("invocation_id", r.invocationID).
		Str("invocation_folder", r.invocationFolder).
		Int("nodes", len(r.monitors)).
		Msg("Workflow monitoring started")

	for _, m := range r.monitors {
		m.Poller().Start(r.pollCtx)
	}

	go r.run()

	// External cancellation is a shutdown request, not an error.
	go func() {
		select {
		case <-ctx.Done():
			r.Shutdown(0)
		case <-r.monitorDone:
		}
	}()

	return r, nil
}

// seedStatuses applies the statically knowable statuses before any polling:
// condition-false nodes will never run, and the entry is invoked by the
// trigger itself.
func (r *Runner) seedStatuses() {
	for _, m := range r.monitors {
		if r.graph.StaticallySkipped(m.Node().Base) {
			m.MarkNotInvoked()
		}
	}

	if r.graph.StaticallySkipped(r.graph.Entry()) {
		return
	}
	for _, node := range r.graph.Instances(r.graph.Entry()) {
		r.monitors[node.String()].MarkInvoked("trigger")
	}
}

func (r *Runner) dispatch(ctx context.Context, dispatcher Dispatcher) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(dispatchRetryInterval), dispatchMaxRetries),
		ctx,
	)

	for _, entry := range r.graph.Instances(r.graph.Entry()) {
		entry := entry
		err := backoff.Retry(func() error {
			return dispatcher.Dispatch(ctx, r.graph.Name(), entry, r.invocationFolder)
		}, policy)
		if err != nil {
			return fmt.Errorf("dispatching %s: %w", entry, err)
		}
		policy.Reset()
	}
	return nil
}

// InvocationID returns the run's identity, fixed at trigger time.
func (r *Runner) InvocationID() string { return r.invocationID }

// InvocationFolder returns the store key segment for this run's artifacts.
func (r *Runner) InvocationFolder() string { return r.invocationFolder }

// Graph returns the run's node graph.
func (r *Runner) Graph() *workflow.Graph { return r.graph }

// Monitor returns the monitor for a node display name.
func (r *Runner) Monitor(name string) (*FunctionMonitor, bool) {
	m, ok := r.monitors[name]
	return m, ok
}

// MonitoringComplete reports whether the monitoring goroutine has finished.
func (r *Runner) MonitoringComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitoringComplete
}

// ShutdownRequested reports whether a shutdown has been requested.
func (r *Runner) ShutdownRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdownRequested
}

// Outcome returns the run outcome, or "" while monitoring is in progress.
func (r *Runner) Outcome() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// GetFunctionStatuses returns a snapshot of every node's status keyed by
// display name. Each monitor is read under its own lock, so the snapshot may
// skew across nodes while the run is live.
func (r *Runner) GetFunctionStatuses() map[string]FunctionStatus {
	statuses := make(map[string]FunctionStatus, len(r.monitors))
	for name, m := range r.monitors {
		statuses[name] = m.Status()
	}
	return statuses
}

// FunctionLogs returns a copy of the observed log lines for a node.
func (r *Runner) FunctionLogs(name string) []string {
	m, ok := r.monitors[name]
	if !ok {
		return nil
	}
	return m.Logs()
}

// Shutdown requests a cooperative stop and waits up to timeout for the
// monitoring goroutine to exit. A non-positive timeout means the configured
// cleanup timeout. Reports whether the goroutine exited in time. Statuses
// are left exactly as observed.
func (r *Runner) Shutdown(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = r.cfg.Monitor.CleanupTimeout
	}

	r.requestShutdown()

	select {
	case <-r.monitorDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ForceShutdown stops the run without waiting: in-flight store calls are
// cancelled and every poller is told to stop.
func (r *Runner) ForceShutdown() {
	r.requestShutdown()
	r.pollCancel()
	for _, m := range r.monitors {
		m.Poller().Stop()
	}
}

func (r *Runner) requestShutdown() {
	r.mu.Lock()
	r.shutdownRequested = true
	r.mu.Unlock()

	r.shutdownOnce.Do(func() {
		close(r.shutdownCh)
	})
}

// Cleanup releases everything the runner owns. Idempotent; safe to defer at
// trigger time.
func (r *Runner) Cleanup() {
	r.mu.Lock()
	if r.cleaned {
		r.mu.Unlock()
		return
	}
	r.cleaned = true
	r.mu.Unlock()

	r.requestShutdown()

	select {
	case <-r.monitorDone:
	case <-time.After(r.cfg.Monitor.CleanupTimeout):
		log.Warn().Msg("Monitoring goroutine did not stop in time, cancelling pollers")
	}

	r.pollCancel()
	for _, m := range r.monitors {
		m.Poller().Stop()
	}
	for _, m := range r.monitors {
		select {
		case <-m.Poller().Done():
		case <-time.After(r.cfg.Monitor.CleanupTimeout):
			log.Warn().Str("function", m.Node().String()).Msg("Poller did not stop in time")
		}
	}

	if r.history != nil {
		if err := r.history.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history store")
		}
	}
}

// run is the monitoring goroutine: one status sweep per tick until an end
// condition wins. Three can race: all nodes terminal, the wall-clock
// deadline, and an explicit shutdown request.
func (r *Runner) run() {
	defer close(r.monitorDone)

	ticker := time.NewTicker(r.cfg.Monitor.CheckInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(r.cfg.Monitor.Timeout)
	defer deadline.Stop()

	lastLogged := make(map[string]FunctionStatus, len(r.monitors))

	for {
		select {
		case <-r.shutdownCh:
			r.finish(OutcomeShutdown)
			return

		case <-deadline.C:
			r.forceTimeouts()
			r.logStatusChanges(lastLogged)
			r.finish(OutcomeTimeout)
			return

		case <-ticker.C:
			r.resolveInvocations()
			r.logStatusChanges(lastLogged)

			if r.allTerminal() {
				r.finish(r.settledOutcome())
				return
			}
		}
	}
}

// resolveInvocations settles invocation state from upstream dispatch
// observations: a node is INVOKED once any upstream's log declares the
// dispatch, NOT_INVOKED once every upstream's dispatch set is final without
// it. Invocations keep accumulating even after the node progressed, so a
// fast-completing node still ends up knowing who fired it.
func (r *Runner) resolveInvocations() {
	for _, m := range r.monitors {
		base := m.Node().Base
		upstreams := r.graph.Upstream(base)
		if len(upstreams) == 0 {
			// Unreachable node: nothing can ever fire it.
			if m.Status() == StatusPending {
				m.MarkNotInvoked()
			}
			continue
		}

		allKnown := true
		for _, upBase := range upstreams {
			for _, upNode := range r.graph.Instances(upBase) {
				up := r.monitors[upNode.String()]
				if up.Dispatched(base) {
					m.MarkInvoked(upNode.String())
				}
				if !up.DispatchesKnown() {
					allKnown = false
				}
			}
		}

		if allKnown && m.Status() == StatusPending {
			m.MarkNotInvoked()
		}
	}
}

func (r *Runner) logStatusChanges(lastLogged map[string]FunctionStatus) {
	for name, m := range r.monitors {
		status := m.Status()
		if lastLogged[name] == status {
			continue
		}
		lastLogged[name] = status

		log.Info().
			Str("function", name).
			Str("status", string(status)).
			Msg("Function status changed")
	}
}

func (r *Runner) allTerminal() bool {
	for _, m := range r.monitors {
		if !m.Status().Terminal() {
			return false
		}
	}
	return true
}

// settledOutcome classifies a run whose every node reached a terminal status.
func (r *Runner) settledOutcome() string {
	for _, m := range r.monitors {
		if !m.Status().Succeeded() {
			return OutcomeFailed
		}
	}
	return OutcomeCompleted
}

// propagateSkip marks every transitively downstream node SKIPPED after a
// failure. Terminal statuses are never overwritten, so repeated failures and
// overlapping paths are harmless.
func (r *Runner) propagateSkip(failed workflow.NodeID) {
	log.Warn().
		Str("function", failed.String()).
		Msg("Function failed, skipping downstream")

	for _, base := range r.graph.TransitiveDownstream(failed.Base) {
		for _, node := range r.graph.Instances(base) {
			r.monitors[node.String()].MarkSkipped()
		}
	}
}

// forceTimeouts marks every non-terminal node TIMEOUT when the run deadline
// elapses.
func (r *Runner) forceTimeouts() {
	log.Warn().
		Dur("timeout", r.cfg.Monitor.Timeout).
		Msg("Run deadline elapsed, marking unfinished functions as timed out")

	for _, m := range r.monitors {
		m.MarkTimeout()
	}
}

func (r *Runner) finish(outcome string) {
	for _, m := range r.monitors {
		m.Poller().Stop()
	}

	r.mu.Lock()
	r.monitoringComplete = true
	r.outcome = outcome
	r.mu.Unlock()

	log.Info().
		Str("workflow", r.graph.Name()).
		Str("invocation_id", r.invocationID).
		Str("outcome", outcome).
		Dur("elapsed", time.Since(r.startedAt)).
		Msg("Workflow monitoring finished")

	r.recordHistory(outcome)
}

func (r *Runner) recordHistory(outcome string) {
	if r.history == nil {
		return
	}

	statuses := make(map[string]string, len(r.monitors))
	for name, status := range r.GetFunctionStatuses() {
		statuses[name] = string(status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.history.Record(ctx, &history.Record{
		InvocationID: r.invocationID,
		Workflow:     r.graph.Name(),
		Outcome:      outcome,
		StartedAt:    r.startedAt,
		FinishedAt:   time.Now(),
		Statuses:     statuses,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to record run history")
	}
}

// streamLogs forwards a node's log lines to the console sink as they arrive.
func streamLogs(p *LogPoller) {
	fl := log.With().Str("function", p.Node().String()).Logger()
	p.Subscribe(func(_ workflow.NodeID, event LogEvent, lines []string) {
		if event == LogComplete {
			return
		}
		for _, line := range lines {
			fl.Info().Msg(line)
		}
	})
}
