package triggers

import (
	"context"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// ManualTrigger starts a flow from an explicit user action. Its output is
// the trigger input unchanged.
type ManualTrigger struct{}

func (t *ManualTrigger) Type() string {
	return "trigger.manual"
}

func (t *ManualTrigger) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	return core.Success(nc.Input), nil
}
