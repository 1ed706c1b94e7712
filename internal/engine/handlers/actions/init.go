package actions

import "github.com/nodeflow-ai/nodeflow/internal/engine/core"

func init() {
	core.Register(&HTTPRequestNode{}, core.Meta{
		DisplayName:    "HTTP Request",
		Description:    "Call an HTTP endpoint",
		Category:       "action",
		Icon:           "globe",
		Version:        "1.0.0",
		CredentialType: "http",
	})

	core.Register(&CodeNode{}, core.Meta{
		DisplayName: "Code",
		Description: "Run JavaScript on the incoming data",
		Category:    "action",
		Icon:        "code",
		Version:     "1.0.0",
	})

	core.Register(&SetNode{}, core.Meta{
		DisplayName: "Set",
		Description: "Set or overwrite fields on the data",
		Category:    "transform",
		Icon:        "edit",
		Version:     "1.0.0",
	})
}
