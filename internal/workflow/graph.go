package workflow

import (
	"fmt"
	"sort"
)

// Graph is the immutable node graph for one run, expanded from a Definition.
// Adjacency is kept at the base-function level; ranked instances of a
// function share edges.
type Graph struct {
	name    string
	entry   string
	ranks   map[string]int
	adj     map[string][]string
	reverse map[string][]string
	skipped map[string]bool
	nodes   []NodeID
}

// BuildGraph expands the definition into the run's node graph, evaluating
// each function's static condition against the workflow arguments.
func BuildGraph(def *Definition, args map[string]any) (*Graph, error) {
	g := &Graph{
		name:    def.Name,
		entry:   def.Entry,
		ranks:   make(map[string]int, len(def.Functions)),
		adj:     make(map[string][]string, len(def.Functions)),
		reverse: make(map[string][]string, len(def.Functions)),
		skipped: make(map[string]bool),
	}

	bases := make([]string, 0, len(def.Functions))
	for name := range def.Functions {
		bases = append(bases, name)
	}
	sort.Strings(bases)

	for _, name := range bases {
		fn := def.Functions[name]

		rank := fn.Rank
		if rank < 1 {
			rank = 1
		}
		g.ranks[name] = rank

		next := append([]string(nil), fn.InvokeNext...)
		sort.Strings(next)
		g.adj[name] = next
		for _, target := range next {
			g.reverse[target] = append(g.reverse[target], name)
		}

		if fn.When != "" {
			outcome, err := EvalCondition(fn.When, args)
			if err != nil {
				return nil, fmt.Errorf("condition for %q: %w", name, err)
			}
			if !outcome {
				g.skipped[name] = true
			}
		}
	}

	for _, upstream := range g.reverse {
		sort.Strings(upstream)
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	for _, name := range bases {
		g.nodes = append(g.nodes, g.Instances(name)...)
	}

	return g, nil
}

// Name is the workflow name, used as the store key namespace.
func (g *Graph) Name() string { return g.name }

// Entry is the base name of the function the trigger fires first.
func (g *Graph) Entry() string { return g.entry }

// Nodes returns every expanded node in deterministic order.
func (g *Graph) Nodes() []NodeID {
	return append([]NodeID(nil), g.nodes...)
}

// Rank returns the instance cardinality for a base function (minimum 1).
func (g *Graph) Rank(base string) int {
	return g.ranks[base]
}

// Instances returns the expanded node IDs for one base function.
func (g *Graph) Instances(base string) []NodeID {
	rank, ok := g.ranks[base]
	if !ok {
		return nil
	}
	if rank <= 1 {
		return []NodeID{{Base: base}}
	}
	out := make([]NodeID, 0, rank)
	for r := 1; r <= rank; r++ {
		out = append(out, NodeID{Base: base, Rank: r})
	}
	return out
}

// Downstream returns the direct downstream base names.
func (g *Graph) Downstream(base string) []string {
	return append([]string(nil), g.adj[base]...)
}

// Upstream returns the direct upstream base names.
func (g *Graph) Upstream(base string) []string {
	return append([]string(nil), g.reverse[base]...)
}

// TransitiveDownstream returns every base reachable from the given base,
// excluding the base itself. Used for skip propagation after a failure.
func (g *Graph) TransitiveDownstream(base string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(from string) {
		for _, next := range g.adj[from] {
			if seen[next] {
				continue
			}
			seen[next] = true
			walk(next)
		}
	}
	walk(base)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StaticallySkipped reports whether the base function's condition resolved
// false at build time.
func (g *Graph) StaticallySkipped(base string) bool {
	return g.skipped[base]
}

func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.adj))

	var visit func(string) error
	visit = func(name string) error {
		color[name] = gray
		for _, next := range g.adj[name] {
			switch color[next] {
			case gray:
				return fmt.Errorf("%w: cycle through %q and %q", ErrInvalidDefinition, name, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(g.adj))
	for name := range g.adj {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
