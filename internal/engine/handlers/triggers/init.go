package triggers

import "github.com/nodeflow-ai/nodeflow/internal/engine/core"

func init() {
	core.Register(&ManualTrigger{}, core.Meta{
		DisplayName: "Manual",
		Description: "Start the flow manually",
		Category:    "trigger",
		Icon:        "play",
		Version:     "1.0.0",
		IsTrigger:   true,
	})

	core.Register(&WebhookTrigger{}, core.Meta{
		DisplayName: "Webhook",
		Description: "Start the flow from an inbound webhook",
		Category:    "trigger",
		Icon:        "globe",
		Version:     "1.0.0",
		IsTrigger:   true,
	})

	core.Register(&ScheduleTrigger{}, core.Meta{
		DisplayName: "Schedule",
		Description: "Start the flow on a cron schedule",
		Category:    "trigger",
		Icon:        "clock",
		Version:     "1.0.0",
		IsTrigger:   true,
	})

	core.Register(&ErrorTrigger{}, core.Meta{
		DisplayName: "Error",
		Description: "Start an error pipeline when a node fails",
		Category:    "trigger",
		Icon:        "alert-triangle",
		Version:     "1.0.0",
		IsTrigger:   true,
	})
}
