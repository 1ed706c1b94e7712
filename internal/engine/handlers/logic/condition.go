package logic

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// evaluateCondition applies one comparison from an if/switch rule.
func evaluateCondition(cond map[string]interface{}, input map[string]interface{}) bool {
	left := resolveOperand(cond["leftValue"], input)
	right := resolveOperand(cond["rightValue"], input)
	operator := core.GetString(cond, "operator", "equals")

	switch operator {
	case "equal", "equals", "==":
		return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
	case "notEqual", "!=":
		return fmt.Sprintf("%v", left) != fmt.Sprintf("%v", right)
	case "greater", ">":
		return core.ToFloat(left) > core.ToFloat(right)
	case "greaterEqual", ">=":
		return core.ToFloat(left) >= core.ToFloat(right)
	case "less", "<":
		return core.ToFloat(left) < core.ToFloat(right)
	case "lessEqual", "<=":
		return core.ToFloat(left) <= core.ToFloat(right)
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
	case "startsWith":
		return strings.HasPrefix(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
	case "endsWith":
		return strings.HasSuffix(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
	case "regex", "matches":
		re, err := regexp.Compile(fmt.Sprintf("%v", right))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", left))
	case "isEmpty":
		return core.IsEmpty(left)
	case "isNotEmpty":
		return !core.IsEmpty(left)
	default:
		return false
	}
}

// resolveOperand resolves leftover {{ $json.path }} operands that the
// config-level expression pass left untouched (e.g. inside rule lists).
func resolveOperand(value interface{}, input map[string]interface{}) interface{} {
	str, ok := value.(string)
	if !ok {
		return value
	}
	if strings.HasPrefix(str, "{{") && strings.HasSuffix(str, "}}") {
		path := strings.TrimSpace(str[2 : len(str)-2])
		return core.GetNestedValue(input, path)
	}
	return value
}

// combineResults folds condition outcomes with and/or semantics.
func combineResults(results []bool, combineWith string) bool {
	if len(results) == 0 {
		return false
	}
	if combineWith == "or" {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}
