package expression

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

var (
	templateRegex = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)
	// A template that is exactly one expression keeps its native type.
	singleExprRegex = regexp.MustCompile(`^\s*\{\{\s*(.+?)\s*\}\}\s*$`)
)

// Context carries everything a template can reference.
type Context struct {
	// Input is the current node's merged upstream output ($json).
	Input map[string]interface{}
	// TriggerInput is the original trigger payload ($trigger).
	TriggerInput map[string]interface{}
	// NodeOutputs maps completed node ids to their outputs ($node("id")).
	NodeOutputs map[string]map[string]interface{}
	// Global is execution-scoped context shared across nodes ($vars).
	Global      map[string]interface{}
	ExecutionID string
	FlowID      string
}

// Evaluator resolves {{ ... }} templates against a Context. Construction is
// cheap; evaluators are stateless and safe for concurrent use.
type Evaluator struct {
	envAllowList map[string]bool
}

// New returns an evaluator. envAllowList names the only process environment
// variables templates may read through $env; everything else resolves empty.
func New(envAllowList []string) *Evaluator {
	allow := make(map[string]bool, len(envAllowList))
	for _, name := range envAllowList {
		allow[name] = true
	}
	return &Evaluator{envAllowList: allow}
}

// Resolve applies template substitution recursively to strings, maps and
// lists. Non-template values pass through untouched. Missing references
// resolve to the empty string rather than failing the node.
func (e *Evaluator) Resolve(value interface{}, ctx *Context) interface{} {
	switch v := value.(type) {
	case string:
		return e.resolveString(v, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = e.Resolve(item, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = e.Resolve(item, ctx)
		}
		return out
	default:
		return value
	}
}

// ResolveMap is Resolve specialized for a config map.
func (e *Evaluator) ResolveMap(config map[string]interface{}, ctx *Context) map[string]interface{} {
	if config == nil {
		return nil
	}
	return e.Resolve(config, ctx).(map[string]interface{})
}

func (e *Evaluator) resolveString(template string, ctx *Context) interface{} {
	if !strings.Contains(template, "{{") {
		return template
	}

	env := e.buildEnv(ctx)

	if m := singleExprRegex.FindStringSubmatch(template); m != nil {
		val, err := evalExpr(m[1], env)
		if err != nil {
			return ""
		}
		return val
	}

	return templateRegex.ReplaceAllStringFunc(template, func(match string) string {
		inner := templateRegex.FindStringSubmatch(match)[1]
		val, err := evalExpr(inner, env)
		if err != nil {
			return ""
		}
		return stringify(val)
	})
}

func evalExpr(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("runtime error: %w", err)
	}
	if result == nil {
		return "", nil
	}
	return result, nil
}

func (e *Evaluator) buildEnv(ctx *Context) map[string]interface{} {
	jsonInput := ctx.Input
	if jsonInput == nil {
		jsonInput = map[string]interface{}{}
	}
	trigger := ctx.TriggerInput
	if trigger == nil {
		trigger = map[string]interface{}{}
	}
	vars := ctx.Global
	if vars == nil {
		vars = map[string]interface{}{}
	}

	return map[string]interface{}{
		"$json":    jsonInput,
		"$trigger": trigger,
		"$vars":    vars,
		"$node": func(id string) map[string]interface{} {
			out, ok := ctx.NodeOutputs[id]
			if !ok {
				return map[string]interface{}{"output": map[string]interface{}{}}
			}
			return map[string]interface{}{"output": out}
		},
		"$env":         e.envSnapshot(),
		"$executionId": ctx.ExecutionID,
		"$flowId":      ctx.FlowID,

		"uppercase":  strings.ToUpper,
		"lowercase":  strings.ToLower,
		"trim":       strings.TrimSpace,
		"split":      strings.Split,
		"join":       strings.Join,
		"replace":    strings.ReplaceAll,
		"contains":   strings.Contains,
		"startsWith": strings.HasPrefix,
		"endsWith":   strings.HasSuffix,
		"length": func(v interface{}) int {
			switch val := v.(type) {
			case string:
				return len(val)
			case []interface{}:
				return len(val)
			case map[string]interface{}:
				return len(val)
			}
			return 0
		},
		"coalesce": func(vals ...interface{}) interface{} {
			for _, v := range vals {
				if v != nil && v != "" {
					return v
				}
			}
			return nil
		},
		"ternary": func(cond bool, trueVal, falseVal interface{}) interface{} {
			if cond {
				return trueVal
			}
			return falseVal
		},
		"toJSON": func(v interface{}) string {
			b, _ := json.Marshal(v)
			return string(b)
		},
		"fromJSON": func(s string) interface{} {
			var v interface{}
			json.Unmarshal([]byte(s), &v)
			return v
		},
	}
}

// envSnapshot exposes only allow-listed environment variables to templates.
func (e *Evaluator) envSnapshot() map[string]interface{} {
	env := make(map[string]interface{}, len(e.envAllowList))
	for name := range e.envAllowList {
		env[name] = os.Getenv(name)
	}
	return env
}

// stringify renders a value for embedding inside a larger string. Maps and
// lists use their JSON form so downstream parsing stays possible.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
