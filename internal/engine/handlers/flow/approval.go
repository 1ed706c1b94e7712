package flow

import (
	"context"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// ApprovalNode suspends the execution until the approval coordinator
// resolves the gate it describes.
type ApprovalNode struct{}

func (n *ApprovalNode) Type() string {
	return "flow.approval"
}

func (n *ApprovalNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	spec := map[string]interface{}{
		"approvalMode":      core.GetString(nc.Config, "approvalMode", "any"),
		"requiredApprovers": core.GetInt(nc.Config, "requiredApprovers", 1),
	}
	if msg := core.GetString(nc.Config, "message", ""); msg != "" {
		spec["message"] = msg
	}
	if secs := core.GetInt(nc.Config, "expiresInSeconds", 0); secs > 0 {
		spec["expiresInSeconds"] = secs
	}
	return core.Suspend(core.SuspendApproval, spec), nil
}
