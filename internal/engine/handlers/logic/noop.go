package logic

import (
	"context"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// NoopNode passes its input through unchanged. Useful as a merge point or
// placeholder while editing a flow.
type NoopNode struct{}

func (n *NoopNode) Type() string {
	return "logic.noop"
}

func (n *NoopNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	return core.Success(nc.Input), nil
}
