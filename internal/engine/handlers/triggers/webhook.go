package triggers

import (
	"context"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// WebhookTrigger starts a flow from an inbound webhook. The transport layer
// packs body, headers and query into the trigger input before dispatch.
type WebhookTrigger struct{}

func (t *WebhookTrigger) Type() string {
	return "trigger.webhook"
}

func (t *WebhookTrigger) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	output := core.CopyMap(nc.Input)
	if path := core.GetString(nc.Config, "path", ""); path != "" {
		output["webhookPath"] = path
	}
	return core.Success(output), nil
}
