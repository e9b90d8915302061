// Package workflow models the node graph of one workflow run: named,
// possibly rank-parameterized functions and the edges between them.
package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID identifies one monitored node. Rank 0 means the function is not
// rank-parameterized; ranked instances count from 1.
type NodeID struct {
	Base string
	Rank int
}

// ParseNodeID accepts both "name" and "name(3)".
func ParseNodeID(s string) (NodeID, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == "" {
			return NodeID{}, fmt.Errorf("empty node name")
		}
		return NodeID{Base: s}, nil
	}

	if !strings.HasSuffix(s, ")") || open == 0 {
		return NodeID{}, fmt.Errorf("malformed node name %q", s)
	}

	rank, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil || rank < 1 {
		return NodeID{}, fmt.Errorf("malformed rank in node name %q", s)
	}

	return NodeID{Base: s[:open], Rank: rank}, nil
}

// String renders the display form: "name" or "name(3)".
func (n NodeID) String() string {
	if n.Rank == 0 {
		return n.Base
	}
	return fmt.Sprintf("%s(%d)", n.Base, n.Rank)
}

// LogName is the relative log object name: "name.log" or "name.3.log".
func (n NodeID) LogName() string {
	if n.Rank == 0 {
		return n.Base + ".log"
	}
	return fmt.Sprintf("%s.%d.log", n.Base, n.Rank)
}

// DoneName is the relative terminal-marker name: "name.done" or
// "name.3.done". The rank suffix is rewritten with dots, so "f(2)" maps to
// "f.2.done".
func (n NodeID) DoneName() string {
	if n.Rank == 0 {
		return n.Base + ".done"
	}
	return fmt.Sprintf("%s.%d.done", n.Base, n.Rank)
}

// LogKey is the full store key for the node's log object. The layout
// "{workflow}/{invocation folder}/{log name}" is a fixed contract with the
// companion writer.
func (n NodeID) LogKey(workflow, invocationFolder string) string {
	return workflow + "/" + invocationFolder + "/" + n.LogName()
}

// DoneKey is the full store key for the node's terminal marker.
func (n NodeID) DoneKey(workflow, invocationFolder string) string {
	return workflow + "/" + invocationFolder + "/" + n.DoneName()
}
