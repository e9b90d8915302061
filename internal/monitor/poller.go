package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowatch/flowatch/internal/storage"
	"github.com/flowatch/flowatch/internal/workflow"
)

// LogPoller watches one node's log and terminal-marker objects. It makes no
// assumption about which artifact appears first: the marker can land before
// the final log bytes become visible, so completion requires the marker plus
// one quiescent cycle with no new content.
type LogPoller struct {
	node     workflow.NodeID
	logsKey  string
	doneKey  string
	store    storage.Store
	interval time.Duration

	mu            sync.Mutex
	logsStarted   bool
	logsComplete  bool
	stopRequested bool
	consumed      int
	callbacks     []EventCallback

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLogPoller creates a poller for one node. Keys are derived from the
// fixed contract with the companion writer.
func NewLogPoller(node workflow.NodeID, workflowName, invocationFolder string, store storage.Store, interval time.Duration) *LogPoller {
	return &LogPoller{
		node:     node,
		logsKey:  node.LogKey(workflowName, invocationFolder),
		doneKey:  node.DoneKey(workflowName, invocationFolder),
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Node returns the node this poller watches.
func (p *LogPoller) Node() workflow.NodeID { return p.node }

// LogsKey returns the store key of the node's log object.
func (p *LogPoller) LogsKey() string { return p.logsKey }

// DoneKey returns the store key of the node's terminal marker.
func (p *LogPoller) DoneKey() string { return p.doneKey }

// LogsStarted reports whether log content has been observed.
func (p *LogPoller) LogsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logsStarted
}

// LogsComplete reports whether the terminal marker was observed followed by
// a quiescent cycle. Monotonic: never reverts to false.
func (p *LogPoller) LogsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logsComplete
}

// StopRequested reports whether Stop has been called.
func (p *LogPoller) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopRequested
}

// Subscribe registers a callback for this poller's events. Callbacks run
// synchronously on the polling goroutine, in registration order.
func (p *LogPoller) Subscribe(cb EventCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// Start launches the polling goroutine.
func (p *LogPoller) Start(ctx context.Context) {
	pollerStarted()
	go p.run(ctx)
}

// Stop requests a cooperative stop. It does not interrupt an in-flight
// store call; the poller exits at the next cycle boundary.
func (p *LogPoller) Stop() {
	p.mu.Lock()
	p.stopRequested = true
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Done is closed when the polling goroutine has exited.
func (p *LogPoller) Done() <-chan struct{} {
	return p.done
}

func (p *LogPoller) run(ctx context.Context) {
	defer close(p.done)
	defer pollerStopped()

	for {
		if p.StopRequested() {
			return
		}

		if complete := p.cycle(ctx); complete {
			return
		}

		select {
		case <-p.stopCh:
			return
		case <-time.After(p.interval):
		}
	}
}

// cycle runs one poll pass and reports whether the log is complete. Store
// errors are swallowed and retried next cycle: a transport failure says
// nothing about the function under observation.
func (p *LogPoller) cycle(ctx context.Context) bool {
	recordPollCycle(p.node.String())

	markerExists, err := p.store.Exists(ctx, p.doneKey)
	if err != nil {
		p.swallow(err)
		return false
	}

	newLines, err := p.fetchNewLines(ctx)
	if err != nil {
		p.swallow(err)
		return false
	}

	if len(newLines) > 0 {
		recordLogLines(p.node.String(), len(newLines))

		p.mu.Lock()
		first := !p.logsStarted
		p.logsStarted = true
		p.mu.Unlock()

		if first {
			p.emit(LogCreated, newLines)
		} else {
			p.emit(LogUpdated, newLines)
		}
	}

	// Eventual consistency: the marker can appear before the last log
	// bytes. Requiring a quiescent cycle after the marker avoids
	// truncating the final chunk.
	if markerExists && len(newLines) == 0 {
		p.mu.Lock()
		p.logsComplete = true
		p.mu.Unlock()

		p.emit(LogComplete, nil)
		return true
	}

	return false
}

func (p *LogPoller) fetchNewLines(ctx context.Context) ([]string, error) {
	content, err := p.store.Get(ctx, p.logsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lines := splitLines(content)

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(lines) <= p.consumed {
		return nil, nil
	}
	newLines := lines[p.consumed:]
	p.consumed = len(lines)
	return newLines, nil
}

func (p *LogPoller) emit(event LogEvent, lines []string) {
	p.mu.Lock()
	callbacks := append([]EventCallback(nil), p.callbacks...)
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb(p.node, event, lines)
	}
}

func (p *LogPoller) swallow(err error) {
	recordStoreError(p.node.String())
	log.Debug().
		Err(err).
		Str("function", p.node.String()).
		Msg("Store error, retrying next cycle")
}

func splitLines(content string) []string {
	trimmed := strings.TrimRight(content, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
