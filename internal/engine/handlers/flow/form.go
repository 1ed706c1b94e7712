package flow

import (
	"context"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// FormNode suspends the execution until someone submits the node's form
// through its token-gated endpoint. The submission payload becomes this
// node's output.
type FormNode struct{}

func (n *FormNode) Type() string {
	return "flow.form"
}

func (n *FormNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	return core.Suspend(core.SuspendForm, map[string]interface{}{
		"fields": core.GetArray(nc.Config, "fields"),
	}), nil
}
