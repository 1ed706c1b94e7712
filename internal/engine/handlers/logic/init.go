package logic

import "github.com/nodeflow-ai/nodeflow/internal/engine/core"

func init() {
	core.Register(&IfNode{}, core.Meta{
		DisplayName: "IF",
		Description: "Route based on conditions",
		Category:    "logic",
		Icon:        "git-branch",
		Version:     "1.0.0",
		Outputs: []core.PortDef{
			{Name: "true"},
			{Name: "false"},
		},
	})

	core.Register(&SwitchNode{}, core.Meta{
		DisplayName: "Switch",
		Description: "Route to multiple outputs based on value",
		Category:    "logic",
		Icon:        "shuffle",
		Version:     "1.0.0",
	})

	core.Register(&WaitNode{}, core.Meta{
		DisplayName:   "Wait",
		Description:   "Pause execution for a configured time",
		Category:      "logic",
		Icon:          "clock",
		Version:       "1.0.0",
		SupportsAsync: true,
	})

	core.Register(&NoopNode{}, core.Meta{
		DisplayName: "No Operation",
		Description: "Pass input through unchanged",
		Category:    "logic",
		Icon:        "minus",
		Version:     "1.0.0",
	})
}
