// Package monitor infers per-function execution status for one workflow run
// by polling an object store for log and completion-marker artifacts. It has
// no control channel into the workers: everything is deduced from what the
// companion writer leaves in the store.
package monitor

import "github.com/flowatch/flowatch/internal/workflow"

// FunctionStatus is the inferred execution status of one node.
type FunctionStatus string

const (
	// StatusPending indicates the node exists but its upstream has not
	// resolved yet.
	StatusPending FunctionStatus = "pending"
	// StatusInvoked indicates at least one upstream edge fired the node.
	StatusInvoked FunctionStatus = "invoked"
	// StatusNotInvoked indicates a conditional upstream resolved false;
	// the node will never run this invocation.
	StatusNotInvoked FunctionStatus = "not_invoked"
	// StatusRunning indicates a log artifact was observed but no terminal
	// marker yet.
	StatusRunning FunctionStatus = "running"
	// StatusCompleted indicates the terminal marker was observed with no
	// failure signature in the log.
	StatusCompleted FunctionStatus = "completed"
	// StatusFailed indicates a failure signature in the log, or a terminal
	// marker accompanied by one.
	StatusFailed FunctionStatus = "failed"
	// StatusSkipped indicates an upstream dependency failed; the node can
	// never complete.
	StatusSkipped FunctionStatus = "skipped"
	// StatusTimeout indicates the global deadline elapsed while the node
	// was non-terminal.
	StatusTimeout FunctionStatus = "timeout"
)

// Terminal reports whether the status is final. A terminal status never
// changes again; NOT_INVOKED counts as final because a statically resolved
// "will never run" is as settled as a completion.
func (s FunctionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusTimeout, StatusNotInvoked:
		return true
	}
	return false
}

// Succeeded reports whether the node ended in an acceptable state: it
// either completed or was legitimately never invoked.
func (s FunctionStatus) Succeeded() bool {
	return s == StatusCompleted || s == StatusNotInvoked
}

// LogEvent identifies a change a poller observed in a node's log artifacts.
type LogEvent string

const (
	// LogCreated fires when log content is first observed.
	LogCreated LogEvent = "log_created"
	// LogUpdated fires when existing log content grows.
	LogUpdated LogEvent = "log_updated"
	// LogComplete fires exactly once, after the terminal marker exists and
	// a poll cycle produced no new content.
	LogComplete LogEvent = "log_complete"
)

// EventCallback receives a log event for a node together with the log lines
// the cycle appended (empty for LogComplete). Callbacks run synchronously
// on the emitting poller's goroutine and must not block.
type EventCallback func(node workflow.NodeID, event LogEvent, lines []string)
