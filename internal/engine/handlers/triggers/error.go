package triggers

import (
	"context"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// ErrorTrigger roots an error sub-pipeline. The scheduler fires it with the
// failure context as output when a node fails and the trigger's errorTypes
// filter matches; direct execution just passes the input through.
type ErrorTrigger struct{}

func (t *ErrorTrigger) Type() string {
	return "trigger.error"
}

func (t *ErrorTrigger) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	return core.Success(nc.Input), nil
}
