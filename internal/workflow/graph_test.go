package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testDoc = `
name: integration-test
entry: create-input
functions:
  create-input:
    invoke_next: [process, skip-me]
  process:
    invoke_next: [fan-out]
  fan-out:
    rank: 3
    invoke_next: [collect]
  collect: {}
  skip-me:
    when: 'args.enabled == true'
`

func testGraph(t *testing.T, args map[string]any) *Graph {
	t.Helper()

	def, err := ParseDefinition([]byte(testDoc))
	require.NoError(t, err)

	g, err := BuildGraph(def, args)
	require.NoError(t, err)
	return g
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", "entry: a\nfunctions:\n  a: {}\n"},
		{"missing entry", "name: wf\nfunctions:\n  a: {}\n"},
		{"no functions", "name: wf\nentry: a\n"},
		{"entry undeclared", "name: wf\nentry: b\nfunctions:\n  a: {}\n"},
		{"edge to undeclared", "name: wf\nentry: a\nfunctions:\n  a:\n    invoke_next: [ghost]\n"},
		{"negative rank", "name: wf\nentry: a\nfunctions:\n  a:\n    rank: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestBuildGraph_ExpandsRanks(t *testing.T) {
	g := testGraph(t, map[string]any{"enabled": true})

	require.Equal(t, "integration-test", g.Name())
	require.Equal(t, "create-input", g.Entry())
	require.Equal(t, 3, g.Rank("fan-out"))
	require.Equal(t, 1, g.Rank("collect"))

	instances := g.Instances("fan-out")
	require.Equal(t, []NodeID{
		{Base: "fan-out", Rank: 1},
		{Base: "fan-out", Rank: 2},
		{Base: "fan-out", Rank: 3},
	}, instances)

	// 1 + 1 + 3 + 1 + 1 expanded nodes.
	require.Len(t, g.Nodes(), 7)
}

func TestBuildGraph_Edges(t *testing.T) {
	g := testGraph(t, map[string]any{"enabled": true})

	require.Equal(t, []string{"process", "skip-me"}, g.Downstream("create-input"))
	require.Equal(t, []string{"create-input"}, g.Upstream("process"))
	require.Equal(t, []string{"fan-out"}, g.Upstream("collect"))
	require.Empty(t, g.Downstream("collect"))
}

func TestBuildGraph_TransitiveDownstream(t *testing.T) {
	g := testGraph(t, map[string]any{"enabled": true})

	require.Equal(t,
		[]string{"collect", "fan-out", "process", "skip-me"},
		g.TransitiveDownstream("create-input"))
	require.Equal(t, []string{"collect"}, g.TransitiveDownstream("fan-out"))
	require.Empty(t, g.TransitiveDownstream("collect"))
}

func TestBuildGraph_StaticConditions(t *testing.T) {
	g := testGraph(t, map[string]any{"enabled": false})
	require.True(t, g.StaticallySkipped("skip-me"))
	require.False(t, g.StaticallySkipped("process"))

	g = testGraph(t, map[string]any{"enabled": true})
	require.False(t, g.StaticallySkipped("skip-me"))
}

func TestBuildGraph_ConditionErrors(t *testing.T) {
	def, err := ParseDefinition([]byte(testDoc))
	require.NoError(t, err)

	// Missing argument keys make the expression fail at evaluation, which
	// must surface as a build error rather than a silent skip.
	_, err = BuildGraph(def, nil)
	require.Error(t, err)
}

func TestBuildGraph_RejectsCycle(t *testing.T) {
	doc := `
name: wf
entry: a
functions:
  a:
    invoke_next: [b]
  b:
    invoke_next: [a]
`
	def, err := ParseDefinition([]byte(doc))
	require.NoError(t, err)

	_, err = BuildGraph(def, nil)
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestEvalCondition(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		args    map[string]any
		want    bool
		wantErr bool
	}{
		{name: "true literal", expr: "true", want: true},
		{name: "false literal", expr: "false", want: false},
		{name: "arg comparison", expr: `args.mode == "full"`, args: map[string]any{"mode": "full"}, want: true},
		{name: "numeric", expr: "int(args.count) > 2", args: map[string]any{"count": 3}, want: true},
		{name: "non-boolean result", expr: `"text"`, wantErr: true},
		{name: "syntax error", expr: "==", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalCondition(tt.expr, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
