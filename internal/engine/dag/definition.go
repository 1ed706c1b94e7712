package dag

import (
	"encoding/json"
	"fmt"
)

// Position is an editor hint, ignored by the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one unit of work inside a flow definition.
type Node struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Position Position               `json:"position"`
	Data     map[string]interface{} `json:"data"`
	Disabled bool                   `json:"disabled,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Edge is a directed link between two node handles.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Definition is the graph payload stored on a FlowVersion.
type Definition struct {
	Nodes    []Node                 `json:"nodes"`
	Edges    []Edge                 `json:"edges"`
	Viewport map[string]interface{} `json:"viewport,omitempty"`
}

// FromMap decodes a raw definition map (as stored in the database) into a
// Definition.
func FromMap(raw map[string]interface{}) (*Definition, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(buf, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return &def, nil
}

// Node returns a node by id, or nil.
func (d *Definition) Node(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}
