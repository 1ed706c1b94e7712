package flow

import "github.com/nodeflow-ai/nodeflow/internal/engine/core"

func init() {
	core.Register(&ApprovalNode{}, core.Meta{
		DisplayName:   "Approval",
		Description:   "Pause until approvers decide",
		Category:      "flow",
		Icon:          "user-check",
		Version:       "1.0.0",
		SupportsAsync: true,
	})

	core.Register(&FormNode{}, core.Meta{
		DisplayName:   "Form",
		Description:   "Pause until a form is submitted",
		Category:      "flow",
		Icon:          "clipboard",
		Version:       "1.0.0",
		SupportsAsync: true,
	})
}
