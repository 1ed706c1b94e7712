package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id, nodeType string) Node {
	return Node{ID: id, Type: nodeType}
}

func edge(id, source, target string) Edge {
	return Edge{ID: id, Source: source, Target: target}
}

func TestParseLinearFlow(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			node("t", "trigger.manual"),
			node("a", "logic.noop"),
			node("b", "logic.noop"),
		},
		Edges: []Edge{
			edge("e1", "t", "a"),
			edge("e2", "a", "b"),
		},
	}

	result := Parse(def)
	require.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"t"}, result.EntryPoints)
	assert.Equal(t, []string{"b"}, result.ExitPoints)
	assert.Equal(t, []string{"t", "a", "b"}, result.ExecutionOrder)
	assert.Equal(t, []string{"a"}, result.Dependencies["b"])
	assert.Empty(t, result.Dependencies["t"])
	require.NotNil(t, result.Graph())
}

func TestParseTieBreakUsesDefinitionOrder(t *testing.T) {
	// Diamond: t fans out to c and b (declared in that order), both join d.
	def := &Definition{
		Nodes: []Node{
			node("t", "trigger.manual"),
			node("c", "logic.noop"),
			node("b", "logic.noop"),
			node("d", "logic.noop"),
		},
		Edges: []Edge{
			edge("e1", "t", "b"),
			edge("e2", "t", "c"),
			edge("e3", "b", "d"),
			edge("e4", "c", "d"),
		},
	}

	result := Parse(def)
	require.True(t, result.Valid)
	// c precedes b: ties break by nodes[] position, not edge order.
	assert.Equal(t, []string{"t", "c", "b", "d"}, result.ExecutionOrder)
}

func TestParseCycleDetected(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			node("t", "trigger.manual"),
			node("a", "logic.noop"),
			node("b", "logic.noop"),
		},
		Edges: []Edge{
			edge("e1", "t", "a"),
			edge("e2", "a", "b"),
			edge("e3", "b", "a"),
		},
	}

	result := Parse(def)
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "CYCLE_DETECTED", result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "a")
	assert.Contains(t, result.Errors[0].Message, "b")
	assert.Nil(t, result.Graph())
}

func TestParseStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
		code string
	}{
		{
			name: "missing id",
			def:  &Definition{Nodes: []Node{{Type: "logic.noop"}}},
			code: "MISSING_ID",
		},
		{
			name: "duplicate id",
			def: &Definition{Nodes: []Node{
				node("a", "trigger.manual"),
				node("a", "logic.noop"),
			}},
			code: "DUPLICATE_ID",
		},
		{
			name: "missing type",
			def:  &Definition{Nodes: []Node{{ID: "a"}}},
			code: "MISSING_TYPE",
		},
		{
			name: "unknown edge source",
			def: &Definition{
				Nodes: []Node{node("a", "trigger.manual")},
				Edges: []Edge{edge("e1", "ghost", "a")},
			},
			code: "UNKNOWN_EDGE_SOURCE",
		},
		{
			name: "unknown edge target",
			def: &Definition{
				Nodes: []Node{node("a", "trigger.manual")},
				Edges: []Edge{edge("e1", "a", "ghost")},
			},
			code: "UNKNOWN_EDGE_TARGET",
		},
		{
			name: "no entry point",
			def: &Definition{
				Nodes: []Node{node("a", "logic.noop")},
			},
			code: "NO_ENTRY_POINT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.def)
			require.False(t, result.Valid)
			codes := make([]string, 0, len(result.Errors))
			for _, issue := range result.Errors {
				codes = append(codes, issue.Code)
			}
			assert.Contains(t, codes, tt.code)
		})
	}
}

func TestParseWarnings(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			node("t", "trigger.manual"),
			node("a", "logic.noop"),
			node("island", "logic.noop"),
			node("mystery", "acme.frobnicate"),
		},
		Edges: []Edge{
			edge("e1", "t", "a"),
			edge("e2", "a", "mystery"),
		},
	}

	result := Parse(def)
	require.True(t, result.Valid)

	codes := map[string][]string{}
	for _, w := range result.Warnings {
		codes[w.Code] = append(codes[w.Code], w.NodeID)
	}
	assert.Contains(t, codes["UNREACHABLE_NODE"], "island")
	assert.Contains(t, codes["UNKNOWN_NODE_TYPE"], "mystery")
}

func TestParseUnusedTriggerWarning(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			node("t", "trigger.manual"),
			node("orphan", "trigger.webhook"),
			node("a", "logic.noop"),
		},
		Edges: []Edge{edge("e1", "t", "a")},
	}

	result := Parse(def)
	require.True(t, result.Valid)
	assert.ElementsMatch(t, []string{"t", "orphan"}, result.EntryPoints)

	var found bool
	for _, w := range result.Warnings {
		if w.Code == "UNUSED_TRIGGER" && w.NodeID == "orphan" {
			found = true
		}
	}
	assert.True(t, found, "expected UNUSED_TRIGGER warning for orphan")
}

func TestParseMetadataTriggerFlag(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{ID: "start", Type: "custom.kickoff", Metadata: map[string]interface{}{"trigger": true}},
			node("a", "logic.noop"),
		},
		Edges: []Edge{edge("e1", "start", "a")},
	}

	result := Parse(def)
	require.True(t, result.Valid)
	assert.Equal(t, []string{"start"}, result.EntryPoints)
}

func TestGraphAccessors(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			node("t", "trigger.manual"),
			node("a", "logic.noop"),
			node("b", "logic.noop"),
		},
		Edges: []Edge{
			{ID: "e1", Source: "t", SourceHandle: "main", Target: "a"},
			{ID: "e2", Source: "t", Target: "b"},
			{ID: "e3", Source: "t", Target: "b"},
		},
	}

	result := Parse(def)
	require.True(t, result.Valid)
	g := result.Graph()

	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, []string{"t", "a", "b"}, g.NodeIDs())
	assert.Len(t, g.OutEdges("t"), 3)
	assert.Len(t, g.InEdges("b"), 2)
	// Successors deduplicate parallel edges.
	assert.Equal(t, []string{"a", "b"}, g.Successors("t"))
	assert.Equal(t, 0, g.Rank("t"))
	assert.Equal(t, 1, g.Rank("a"))
	assert.Equal(t, 2, g.Rank("b"))
	assert.Equal(t, 3, g.Rank("ghost"))
	assert.Nil(t, g.Node("ghost"))
	require.NotNil(t, g.Node("a"))
}

func TestFromMap(t *testing.T) {
	raw := map[string]interface{}{
		"nodes": []interface{}{
			map[string]interface{}{
				"id":   "t",
				"type": "trigger.manual",
				"data": map[string]interface{}{"label": "Start"},
			},
			map[string]interface{}{"id": "a", "type": "logic.noop"},
		},
		"edges": []interface{}{
			map[string]interface{}{"id": "e1", "source": "t", "target": "a"},
		},
	}

	def, err := FromMap(raw)
	require.NoError(t, err)
	require.Len(t, def.Nodes, 2)
	assert.Equal(t, "Start", def.Nodes[0].Data["label"])

	result := Parse(def)
	assert.True(t, result.Valid)
}
