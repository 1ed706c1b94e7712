package logic

import (
	"context"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// IfNode routes control flow to its "true" or "false" handle based on a
// rule set.
type IfNode struct{}

func (n *IfNode) Type() string {
	return "logic.if"
}

func (n *IfNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	conditions := core.GetArray(nc.Config, "conditions")
	combineWith := core.GetString(nc.Config, "combineWith", "and")

	results := make([]bool, 0, len(conditions))
	for _, cond := range conditions {
		condMap, ok := cond.(map[string]interface{})
		if !ok {
			continue
		}
		results = append(results, evaluateCondition(condMap, nc.Input))
	}
	matched := combineResults(results, combineWith)

	branch := "false"
	if matched {
		branch = "true"
	}
	output := core.CopyMap(nc.Input)
	output["matched"] = matched
	return core.SuccessBranches(output, branch), nil
}
