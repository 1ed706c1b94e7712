package triggers

import (
	"context"
	"time"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// ScheduleTrigger starts a flow on a cron schedule. The cron runner creates
// the execution; this handler only shapes the trigger output.
type ScheduleTrigger struct{}

func (t *ScheduleTrigger) Type() string {
	return "trigger.schedule"
}

func (t *ScheduleTrigger) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	output := core.CopyMap(nc.Input)
	output["firedAt"] = time.Now().UTC().Format(time.RFC3339)
	if expr := core.GetString(nc.Config, "cron", ""); expr != "" {
		output["schedule"] = expr
	}
	return core.Success(output), nil
}
