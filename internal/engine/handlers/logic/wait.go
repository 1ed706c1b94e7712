package logic

import (
	"context"
	"time"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// Waits at or under this threshold sleep inside the worker; longer ones
// suspend the execution and come back through a delayed resume.
const inProcessWaitLimit = 5 * time.Second

// WaitNode pauses the flow for a configured duration.
type WaitNode struct{}

func (n *WaitNode) Type() string {
	return "logic.wait"
}

func (n *WaitNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	delayMs := core.GetInt(nc.Config, "delayMs", 0)
	if delayMs <= 0 {
		if secs := core.GetInt(nc.Config, "delaySeconds", 0); secs > 0 {
			delayMs = secs * 1000
		}
	}
	if delayMs <= 0 {
		return core.Success(nc.Input), nil
	}

	delay := time.Duration(delayMs) * time.Millisecond
	if delay > inProcessWaitLimit {
		return core.Suspend(core.SuspendWait, map[string]interface{}{
			"delayMs": delayMs,
		}), nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}
	output := core.CopyMap(nc.Input)
	output["waitedMs"] = delayMs
	return core.Success(output), nil
}
