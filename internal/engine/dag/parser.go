package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// Issue is one validation finding, fatal or advisory.
type Issue struct {
	NodeID  string `json:"node_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseResult is the outcome of validating a flow definition.
type ParseResult struct {
	Valid          bool                `json:"valid"`
	Errors         []Issue             `json:"errors,omitempty"`
	Warnings       []Issue             `json:"warnings,omitempty"`
	EntryPoints    []string            `json:"entry_points"`
	ExitPoints     []string            `json:"exit_points"`
	ExecutionOrder []string            `json:"execution_order"`
	Dependencies   map[string][]string `json:"dependencies"`

	graph *Graph
}

// Graph gives the scheduler fast access to the parsed topology.
type Graph struct {
	nodes     map[string]*Node
	order     []string // insertion order of nodes[]
	outEdges  map[string][]Edge
	inEdges   map[string][]Edge
	orderRank map[string]int // nodeID -> position in ExecutionOrder
}

// Parse validates a definition and computes entry/exit points, a
// deterministic topological order and the immediate-dependency map.
func Parse(def *Definition) *ParseResult {
	result := &ParseResult{
		Dependencies: make(map[string][]string),
	}

	g := &Graph{
		nodes:     make(map[string]*Node),
		outEdges:  make(map[string][]Edge),
		inEdges:   make(map[string][]Edge),
		orderRank: make(map[string]int),
	}
	result.graph = g

	for i := range def.Nodes {
		node := &def.Nodes[i]
		if node.ID == "" {
			result.Errors = append(result.Errors, Issue{
				Code:    "MISSING_ID",
				Message: "Node has no id",
			})
			continue
		}
		if _, exists := g.nodes[node.ID]; exists {
			result.Errors = append(result.Errors, Issue{
				NodeID:  node.ID,
				Code:    "DUPLICATE_ID",
				Message: fmt.Sprintf("Duplicate node id %q", node.ID),
			})
			continue
		}
		if node.Type == "" {
			result.Errors = append(result.Errors, Issue{
				NodeID:  node.ID,
				Code:    "MISSING_TYPE",
				Message: fmt.Sprintf("Node %q has no type defined", node.ID),
			})
			continue
		}
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}

	for _, edge := range def.Edges {
		if _, ok := g.nodes[edge.Source]; !ok {
			result.Errors = append(result.Errors, Issue{
				NodeID:  edge.Source,
				Code:    "UNKNOWN_EDGE_SOURCE",
				Message: fmt.Sprintf("Edge references unknown source node %q", edge.Source),
			})
			continue
		}
		if _, ok := g.nodes[edge.Target]; !ok {
			result.Errors = append(result.Errors, Issue{
				NodeID:  edge.Target,
				Code:    "UNKNOWN_EDGE_TARGET",
				Message: fmt.Sprintf("Edge references unknown target node %q", edge.Target),
			})
			continue
		}
		g.outEdges[edge.Source] = append(g.outEdges[edge.Source], edge)
		g.inEdges[edge.Target] = append(g.inEdges[edge.Target], edge)
	}

	if len(result.Errors) > 0 {
		return result
	}

	// Immediate upstream dependencies, deduplicated, in edge order.
	for _, nodeID := range g.order {
		seen := make(map[string]bool)
		deps := []string{}
		for _, edge := range g.inEdges[nodeID] {
			if !seen[edge.Source] {
				seen[edge.Source] = true
				deps = append(deps, edge.Source)
			}
		}
		result.Dependencies[nodeID] = deps
	}

	order, cycle := g.topologicalOrder()
	if cycle != nil {
		result.Errors = append(result.Errors, Issue{
			Code:    "CYCLE_DETECTED",
			Message: fmt.Sprintf("Cycle detected involving nodes: %s", strings.Join(cycle, ", ")),
		})
		return result
	}
	result.ExecutionOrder = order
	for rank, nodeID := range order {
		g.orderRank[nodeID] = rank
	}

	for _, nodeID := range g.order {
		node := g.nodes[nodeID]
		if len(g.inEdges[nodeID]) == 0 && isTriggerNode(node) {
			result.EntryPoints = append(result.EntryPoints, nodeID)
		}
		if len(g.outEdges[nodeID]) == 0 {
			result.ExitPoints = append(result.ExitPoints, nodeID)
		}
	}

	result.Warnings = append(result.Warnings, g.collectWarnings(result.EntryPoints)...)

	result.Valid = len(result.EntryPoints) > 0
	if !result.Valid {
		result.Errors = append(result.Errors, Issue{
			Code:    "NO_ENTRY_POINT",
			Message: "Flow has no trigger node",
		})
	}
	return result
}

// topologicalOrder runs Kahn's algorithm. Ties are broken by the node's
// position in the definition's nodes[] so the order is deterministic.
// On a cycle it returns the ids of the nodes still carrying inbound edges.
func (g *Graph) topologicalOrder() ([]string, []string) {
	inDegree := make(map[string]int, len(g.nodes))
	rank := make(map[string]int, len(g.nodes))
	for i, nodeID := range g.order {
		rank[nodeID] = i
		inDegree[nodeID] = len(g.inEdges[nodeID])
	}

	var queue []string
	for _, nodeID := range g.order {
		if inDegree[nodeID] == 0 {
			queue = append(queue, nodeID)
		}
	}

	var order []string
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool {
			return rank[queue[i]] < rank[queue[j]]
		})
		nodeID := queue[0]
		queue = queue[1:]
		order = append(order, nodeID)

		for _, edge := range g.outEdges[nodeID] {
			inDegree[edge.Target]--
			if inDegree[edge.Target] == 0 {
				queue = append(queue, edge.Target)
			}
		}
	}

	if len(order) != len(g.nodes) {
		var cycle []string
		for _, nodeID := range g.order {
			if inDegree[nodeID] > 0 {
				cycle = append(cycle, nodeID)
			}
		}
		return nil, cycle
	}
	return order, nil
}

func (g *Graph) collectWarnings(entryPoints []string) []Issue {
	var warnings []Issue

	// Nodes not reachable from any entry point form disconnected islands.
	reachable := make(map[string]bool)
	queue := append([]string{}, entryPoints...)
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		if reachable[nodeID] {
			continue
		}
		reachable[nodeID] = true
		for _, edge := range g.outEdges[nodeID] {
			if !reachable[edge.Target] {
				queue = append(queue, edge.Target)
			}
		}
	}
	for _, nodeID := range g.order {
		if !reachable[nodeID] && !isTriggerNode(g.nodes[nodeID]) {
			warnings = append(warnings, Issue{
				NodeID:  nodeID,
				Code:    "UNREACHABLE_NODE",
				Message: fmt.Sprintf("Node %q is not reachable from any trigger", nodeID),
			})
		}
	}

	for _, nodeID := range g.order {
		node := g.nodes[nodeID]
		if isTriggerNode(node) && len(g.inEdges[nodeID]) == 0 && len(g.outEdges[nodeID]) == 0 {
			warnings = append(warnings, Issue{
				NodeID:  nodeID,
				Code:    "UNUSED_TRIGGER",
				Message: fmt.Sprintf("Trigger node %q has no outgoing edges", nodeID),
			})
		}
		if core.Get(node.Type) == nil {
			warnings = append(warnings, Issue{
				NodeID:  nodeID,
				Code:    "UNKNOWN_NODE_TYPE",
				Message: fmt.Sprintf("Node %q has unknown type %q", nodeID, node.Type),
			})
		}
	}

	return warnings
}

func isTriggerNode(node *Node) bool {
	if node.Metadata != nil {
		if v, ok := node.Metadata["trigger"].(bool); ok && v {
			return true
		}
	}
	return core.IsTrigger(node.Type) || strings.HasPrefix(node.Type, "trigger.")
}

// Graph returns the parsed topology for scheduler use. Nil when parsing
// failed.
func (r *ParseResult) Graph() *Graph {
	if !r.Valid {
		return nil
	}
	return r.graph
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(nodeID string) *Node {
	return g.nodes[nodeID]
}

// NodeIDs returns all node ids in definition order.
func (g *Graph) NodeIDs() []string {
	result := make([]string, len(g.order))
	copy(result, g.order)
	return result
}

// OutEdges returns the outgoing edges of a node.
func (g *Graph) OutEdges(nodeID string) []Edge {
	return g.outEdges[nodeID]
}

// InEdges returns the incoming edges of a node.
func (g *Graph) InEdges(nodeID string) []Edge {
	return g.inEdges[nodeID]
}

// Successors returns the distinct downstream node ids of a node.
func (g *Graph) Successors(nodeID string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, edge := range g.outEdges[nodeID] {
		if !seen[edge.Target] {
			seen[edge.Target] = true
			result = append(result, edge.Target)
		}
	}
	return result
}

// Rank returns a node's position in the execution order. Unknown nodes
// sort last.
func (g *Graph) Rank(nodeID string) int {
	if r, ok := g.orderRank[nodeID]; ok {
		return r
	}
	return len(g.order)
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}
