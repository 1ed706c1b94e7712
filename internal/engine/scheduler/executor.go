package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
	"github.com/nodeflow-ai/nodeflow/internal/engine/dag"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
	"github.com/nodeflow-ai/nodeflow/internal/engine/expression"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/metrics"
)

// executeNode runs inside a pool worker: it builds the node's context,
// resolves expressions and credentials, applies the soft timeout and calls
// the handler. The run loop persists the outcome.
func (s *Scheduler) executeNode(ctx context.Context, exec *models.Execution, graph *dag.Graph, node *dag.Node) outcome {
	start := time.Now()

	record := &models.NodeExecution{
		ExecutionID:   exec.ID,
		NodeID:        node.ID,
		ComponentName: node.Type,
		Status:        models.NodeStatusRunning,
		StartedAt:     ptrTime(s.clock.Now()),
	}
	if meta, ok := core.GetMeta(node.Type); ok {
		record.ComponentVersion = meta.Version
	}
	if err := s.store.CreateNodeExecution(ctx, record); err != nil {
		log.Error().Err(err).
			Str("execution_id", exec.ID.String()).
			Str("node_id", node.ID).
			Msg("failed to create node execution")
	}

	s.bus.Publish(events.Event{
		Type:        events.EventNodeStarted,
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		NodeID:      node.ID,
		Status:      models.NodeStatusRunning,
		Data: map[string]interface{}{
			"node_type": node.Type,
		},
		Timestamp: s.clock.Now(),
	})

	handler := core.Get(node.Type)
	if handler == nil {
		return outcome{
			nodeID:   node.ID,
			err:      &core.NodeError{Message: fmt.Sprintf("unknown node type: %s", node.Type), Code: "UNKNOWN_TYPE"},
			duration: time.Since(start),
			record:   record,
		}
	}

	input, err := s.buildNodeInput(ctx, exec, graph, node)
	if err != nil {
		return outcome{nodeID: node.ID, err: err, duration: time.Since(start), record: record}
	}
	record.InputData = models.JSON(input)

	exprCtx := &expression.Context{
		Input:        input,
		TriggerInput: exec.TriggerInput,
		NodeOutputs:  s.collectOutputs(ctx, exec.ID, graph),
		Global:       exec.TriggerContext,
		ExecutionID:  exec.ID.String(),
		FlowID:       exec.FlowID.String(),
	}
	resolvedConfig := s.evaluator.ResolveMap(node.Data, exprCtx)

	nc := &core.NodeContext{
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Config:      resolvedConfig,
		Input:       input,
		UserID:      exec.TriggeredBy,
		Global:      exec.TriggerContext,
	}
	if s.credentials != nil && exec.TriggeredBy != nil {
		userID := *exec.TriggeredBy
		nc.GetCredential = func(credentialID uuid.UUID) (map[string]string, error) {
			return s.credentials.Resolve(ctx, credentialID, userID)
		}
	}

	timeout := s.cfg.DefaultNodeTimeout
	if ms := core.GetInt(resolvedConfig, "timeoutMs", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	// Each attempt gets its own deadline so a retry never starts against an
	// already-expired context.
	attempt := func() (*core.Result, error) {
		nodeCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			nodeCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		result, err := handler.Execute(nodeCtx, nc)
		if err != nil && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
			err = &core.NodeError{
				Message: fmt.Sprintf("node exceeded timeout of %s", timeout),
				Code:    "TIMEOUT",
			}
		}
		return result, err
	}

	result, execErr := attempt()

	// Handler-local auto-retry with quadratic backoff.
	if execErr != nil && core.GetBool(resolvedConfig, "retryOnFail", false) {
		maxRetries := core.GetInt(resolvedConfig, "maxRetries", 3)
		for retry := 1; retry <= maxRetries && execErr != nil; retry++ {
			if ctx.Err() != nil {
				break
			}
			log.Debug().
				Str("node_id", node.ID).
				Int("retry", retry).
				Msg("retrying node execution")
			time.Sleep(time.Duration(retry*retry) * 100 * time.Millisecond)
			result, execErr = attempt()
			record.RetryCount = retry
		}
	}

	duration := time.Since(start)
	metrics.ObserveNode(node.Type, duration, execErr)

	return outcome{
		nodeID:   node.ID,
		result:   result,
		err:      execErr,
		duration: duration,
		record:   record,
	}
}

// buildNodeInput merges the outputs of live upstream edges in execution
// order. Entry nodes receive the trigger input.
func (s *Scheduler) buildNodeInput(ctx context.Context, exec *models.Execution, graph *dag.Graph, node *dag.Node) (map[string]interface{}, error) {
	inEdges := graph.InEdges(node.ID)
	if len(inEdges) == 0 {
		if exec.TriggerInput != nil {
			return exec.TriggerInput, nil
		}
		return map[string]interface{}{}, nil
	}

	sources := make([]string, 0, len(inEdges))
	seen := make(map[string]bool)
	for _, edge := range inEdges {
		if !seen[edge.Source] {
			seen[edge.Source] = true
			sources = append(sources, edge.Source)
		}
	}

	input := make(map[string]interface{})
	for _, source := range sources {
		output, ok, err := s.state.GetNodeOutput(ctx, exec.ID, source)
		if err != nil {
			return nil, fmt.Errorf("failed to load output of %s: %w", source, err)
		}
		if !ok {
			continue
		}
		for k, v := range output {
			input[k] = v
		}
	}
	return input, nil
}

// collectOutputs snapshots all completed node outputs for $node("id")
// references.
func (s *Scheduler) collectOutputs(ctx context.Context, execID uuid.UUID, graph *dag.Graph) map[string]map[string]interface{} {
	outputs := make(map[string]map[string]interface{})
	for _, nodeID := range graph.NodeIDs() {
		output, ok, err := s.state.GetNodeOutput(ctx, execID, nodeID)
		if err != nil || !ok {
			continue
		}
		outputs[nodeID] = output
	}
	return outputs
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
