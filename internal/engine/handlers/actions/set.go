package actions

import (
	"context"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// SetNode writes configured values over the incoming data. With keepInput
// disabled only the configured values survive.
type SetNode struct{}

func (n *SetNode) Type() string {
	return "transform.set"
}

func (n *SetNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	values := core.GetMap(nc.Config, "values")

	var output map[string]interface{}
	if core.GetBool(nc.Config, "keepInput", true) {
		output = core.MergeMap(nc.Input, values)
	} else {
		output = core.CopyMap(values)
	}
	return core.Success(output), nil
}
