package logic

import (
	"context"
	"fmt"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// SwitchNode routes to one or more named case handles. Mode "first" stops
// at the first matching case; mode "all" emits every match. When nothing
// matches, the "default" handle fires unless fallback is disabled.
type SwitchNode struct{}

func (n *SwitchNode) Type() string {
	return "logic.switch"
}

func (n *SwitchNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	mode := core.GetString(nc.Config, "mode", "first")
	fallback := core.GetBool(nc.Config, "fallbackToDefault", true)
	value := resolveOperand(nc.Config["value"], nc.Input)
	cases := core.GetArray(nc.Config, "cases")

	var matched []string
	for i, c := range cases {
		caseMap, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		name := core.GetString(caseMap, "name", "")
		if name == "" {
			name = fmt.Sprintf("case_%d", i)
		}

		var hit bool
		if conditions := core.GetArray(caseMap, "conditions"); len(conditions) > 0 {
			results := make([]bool, 0, len(conditions))
			for _, cond := range conditions {
				condMap, ok := cond.(map[string]interface{})
				if !ok {
					continue
				}
				results = append(results, evaluateCondition(condMap, nc.Input))
			}
			hit = combineResults(results, core.GetString(caseMap, "combineWith", "and"))
		} else {
			caseValue := resolveOperand(caseMap["value"], nc.Input)
			hit = fmt.Sprintf("%v", value) == fmt.Sprintf("%v", caseValue)
		}

		if hit {
			matched = append(matched, name)
			if mode != "all" {
				break
			}
		}
	}

	if len(matched) == 0 {
		if !fallback {
			return nil, &core.NodeError{
				Message: "no case matched and default fallback is disabled",
				Code:    "NO_MATCH",
			}
		}
		matched = []string{"default"}
	}

	output := core.CopyMap(nc.Input)
	output["matchedCases"] = matched
	return core.SuccessBranches(output, matched...), nil
}
