package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

const codeExecutionLimit = 30 * time.Second

// CodeNode runs user JavaScript in a goja sandbox. The script sees `input`
// and `config` and must return an object, which becomes the node output.
type CodeNode struct{}

func (n *CodeNode) Type() string {
	return "action.code"
}

func (n *CodeNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	script := core.GetString(nc.Config, "code", "")
	if script == "" {
		return nil, &core.NodeError{Message: "code is required", Code: "MISSING_CONFIG"}
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("input", nc.Input); err != nil {
		return nil, fmt.Errorf("failed to bind input: %w", err)
	}
	if err := vm.Set("config", nc.Config); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	// Interrupt on context cancellation or the hard cap, whichever first.
	runCtx, cancel := context.WithTimeout(ctx, codeExecutionLimit)
	defer cancel()
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("execution cancelled")
		case <-watchdogDone:
		}
	}()

	value, err := vm.RunString(fmt.Sprintf("(function() {\n%s\n})()", script))
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return nil, &core.NodeError{Message: "script interrupted", Code: "TIMEOUT"}
		}
		return nil, &core.NodeError{Message: err.Error(), Code: "SCRIPT_ERROR"}
	}

	exported := value.Export()
	if exported == nil {
		return core.Success(map[string]interface{}{}), nil
	}
	if out, ok := exported.(map[string]interface{}); ok {
		return core.Success(out), nil
	}
	return core.Success(map[string]interface{}{"result": exported}), nil
}
