package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/flowatch/flowatch/internal/workflow"
)

// Matcher interprets the log-format contract of the companion function
// wrapper. The exact failure signature is deployment-specific, so it is
// supplied as patterns rather than hardcoded.
type Matcher interface {
	// Failure reports whether the line carries a failure signature.
	Failure(line string) bool

	// DispatchTarget extracts the base name of a downstream function the
	// line declares as invoked, if any.
	DispatchTarget(line string) (string, bool)
}

// dispatchPattern is the wrapper's dispatch declaration shape. This is part
// of the fixed log contract, unlike the failure signature.
var dispatchPattern = regexp.MustCompile(`Invoking function:\s+([A-Za-z0-9_().-]+)`)

// LogMatcher is the default Matcher: glob patterns for failure signatures
// and the wrapper's dispatch declaration line.
type LogMatcher struct {
	failures []glob.Glob
}

// NewLogMatcher compiles the given failure glob patterns.
func NewLogMatcher(failurePatterns []string) (*LogMatcher, error) {
	m := &LogMatcher{}
	for _, pattern := range failurePatterns {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling failure pattern %q: %w", pattern, err)
		}
		m.failures = append(m.failures, compiled)
	}
	return m, nil
}

func (m *LogMatcher) Failure(line string) bool {
	for _, pattern := range m.failures {
		if pattern.Match(line) {
			return true
		}
	}
	return false
}

func (m *LogMatcher) DispatchTarget(line string) (string, bool) {
	match := dispatchPattern.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}

	name := strings.TrimSpace(match[1])
	// The wrapper may declare a ranked instance; dispatch is recorded at
	// the base-function level.
	node, err := workflow.ParseNodeID(name)
	if err != nil {
		return "", false
	}
	return node.Base, true
}
