package monitor

import (
	"sync"

	"github.com/flowatch/flowatch/internal/workflow"
)

// FunctionMonitor translates one node's raw log events into a
// FunctionStatus and exposes a thread-safe read surface. All mutation goes
// through the monitor's own lock; readers never block on I/O.
type FunctionMonitor struct {
	node    workflow.NodeID
	poller  *LogPoller
	matcher Matcher

	// onFailed is invoked (outside the lock) when the node transitions to
	// FAILED; the runner uses it for skip propagation.
	onFailed func(node workflow.NodeID)

	mu               sync.Mutex
	status           FunctionStatus
	invocations      map[string]struct{}
	dispatched       map[string]struct{}
	logs             []string
	logsComplete     bool
	functionComplete bool
	functionFailed   bool
}

// NewFunctionMonitor wires a monitor to its poller. The poller is owned 1:1
// by the monitor and must not be shared.
func NewFunctionMonitor(node workflow.NodeID, poller *LogPoller, matcher Matcher, onFailed func(workflow.NodeID)) *FunctionMonitor {
	m := &FunctionMonitor{
		node:       node,
		poller:     poller,
		matcher:    matcher,
		onFailed:   onFailed,
		status:     StatusPending,
		dispatched: make(map[string]struct{}),
	}
	poller.Subscribe(m.handleEvent)
	return m
}

// Node returns the monitored node's identity.
func (m *FunctionMonitor) Node() workflow.NodeID { return m.node }

// Poller returns the monitor's log poller.
func (m *FunctionMonitor) Poller() *LogPoller { return m.poller }

// Status returns the current inferred status.
func (m *FunctionMonitor) Status() FunctionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Logs returns a copy of the observed log lines.
func (m *FunctionMonitor) Logs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.logs...)
}

// Invocations returns the upstream nodes observed to have invoked this one,
// or nil if no invocation has been observed yet.
func (m *FunctionMonitor) Invocations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.invocations == nil {
		return nil
	}
	out := make([]string, 0, len(m.invocations))
	for name := range m.invocations {
		out = append(out, name)
	}
	return out
}

// Dispatched reports whether this node's log declared an invocation of the
// given downstream base function.
func (m *FunctionMonitor) Dispatched(base string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dispatched[base]
	return ok
}

// DispatchesKnown reports whether this node's dispatch set is final: either
// its log is complete, or the node is terminal and will never produce more
// dispatch declarations.
func (m *FunctionMonitor) DispatchesKnown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logsComplete || m.status.Terminal()
}

// LogsComplete reports whether the node's log is complete.
func (m *FunctionMonitor) LogsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logsComplete
}

// FunctionComplete reports whether the node's process exited.
func (m *FunctionMonitor) FunctionComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.functionComplete
}

// FunctionFailed reports whether a failure signature was detected.
func (m *FunctionMonitor) FunctionFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.functionFailed
}

// MarkInvoked records that the named upstream fired this node and moves a
// pending node to INVOKED. No-op once terminal.
func (m *FunctionMonitor) MarkInvoked(by string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.invocations == nil {
		m.invocations = make(map[string]struct{})
	}
	m.invocations[by] = struct{}{}

	if m.status == StatusPending {
		m.setStatusLocked(StatusInvoked)
	}
}

// MarkNotInvoked resolves a pending node as never-to-run. No-op if the node
// already progressed past PENDING.
func (m *FunctionMonitor) MarkNotInvoked() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == StatusPending {
		m.setStatusLocked(StatusNotInvoked)
	}
}

// MarkSkipped marks the node SKIPPED unless it already reached a terminal
// status through an independent path. Idempotent.
func (m *FunctionMonitor) MarkSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatusLocked(StatusSkipped)
}

// MarkTimeout forces TIMEOUT on a non-terminal node. Never overrides an
// already-terminal status.
func (m *FunctionMonitor) MarkTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatusLocked(StatusTimeout)
}

// setStatusLocked applies the terminality rule: once terminal, further
// transitions are no-ops rather than errors.
func (m *FunctionMonitor) setStatusLocked(status FunctionStatus) {
	if m.status.Terminal() {
		return
	}
	if m.status == status {
		return
	}
	m.status = status
	recordStatusTransition(status)
}

// handleEvent is the poller callback. It runs on the poller goroutine.
func (m *FunctionMonitor) handleEvent(node workflow.NodeID, event LogEvent, lines []string) {
	failed := false

	m.mu.Lock()
	switch event {
	case LogCreated, LogUpdated:
		m.logs = append(m.logs, lines...)
		m.setStatusLocked(StatusRunning)

		for _, line := range lines {
			if target, ok := m.matcher.DispatchTarget(line); ok {
				m.dispatched[target] = struct{}{}
			}
			if !m.functionFailed && m.matcher.Failure(line) {
				// A detected failure is decisive; it does not wait
				// for the terminal marker.
				m.functionFailed = true
				m.setStatusLocked(StatusFailed)
				failed = true
			}
		}

	case LogComplete:
		m.logsComplete = true
		m.functionComplete = true
		if !m.functionFailed {
			m.setStatusLocked(StatusCompleted)
		}
	}
	m.mu.Unlock()

	if failed && m.onFailed != nil {
		m.onFailed(m.node)
	}
}
