package scheduler

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
	"github.com/nodeflow-ai/nodeflow/internal/engine/dag"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
)

// errorTriggerType roots the error sub-pipeline inside a flow.
const errorTriggerType = "trigger.error"

// run owns one execution's readiness frontier. All frontier state is
// confined to the loop goroutine; workers talk to it through completions.
type run struct {
	sched *Scheduler
	exec  *models.Execution
	graph *dag.Graph
	order []string

	ctx    context.Context
	cancel context.CancelFunc

	completions chan outcome
	resumeCh    chan resumeSignal
	cancelCh    chan string
	pauseCh     chan string

	inflight   int
	dispatched map[string]bool
	completed  map[string]bool
	skipped    map[string]bool
	failed     map[string]bool
	// decisions caches branch selections for edge-liveness checks.
	decisions map[string][]string

	waiting       bool
	waitingNodeID string
	cancelled     bool

	primaryFailed  bool
	errorFired     bool
	errorSubtree   map[string]bool
	errorRecovered bool
}

func newRun(sched *Scheduler, exec *models.Execution, graph *dag.Graph, order []string) *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		sched:       sched,
		exec:        exec,
		graph:       graph,
		order:       order,
		ctx:         ctx,
		cancel:      cancel,
		completions: make(chan outcome, graph.NodeCount()+8),
		resumeCh:    make(chan resumeSignal, 4),
		cancelCh:    make(chan string, 1),
		pauseCh:     make(chan string, 1),
		dispatched:  make(map[string]bool),
		completed:   make(map[string]bool),
		skipped:     make(map[string]bool),
		failed:      make(map[string]bool),
		decisions:   make(map[string][]string),
	}
}

// loop drives the execution to a terminal state. It blocks only on its own
// channels, never on external I/O besides short persistence writes.
func (r *run) loop(entryPoints []string) {
	defer r.sched.dropRun(r.exec.ID)

	r.dispatchEntryPoints(entryPoints)
	r.dispatchReady()

	for {
		if r.isDrained() {
			// Deregister before the terminal write so a late resume takes
			// the persisted-state path and sees the terminal status.
			r.sched.dropRun(r.exec.ID)
			r.finish()
			return
		}
		select {
		case out := <-r.completions:
			if r.cancelled {
				continue
			}
			r.handleOutcome(out)
			r.propagateSkips()
			r.dispatchReady()
		case sig := <-r.resumeCh:
			r.handleResume(sig)
			r.propagateSkips()
			r.dispatchReady()
		case reason := <-r.pauseCh:
			r.handlePause(reason)
		case reason := <-r.cancelCh:
			r.sched.dropRun(r.exec.ID)
			r.handleCancel(reason)
			return
		}
	}
}

func (r *run) dispatchEntryPoints(entryPoints []string) {
	for _, nodeID := range entryPoints {
		node := r.graph.Node(nodeID)
		if node == nil || node.Type == errorTriggerType {
			continue
		}
		r.dispatchNode(nodeID)
	}
}

// dispatchReady hands every ready node to the pool, ordered by position in
// the topological execution order so simultaneous readiness is
// deterministic.
func (r *run) dispatchReady() {
	if r.waiting || r.cancelled {
		return
	}

	var ready []string
	for _, nodeID := range r.order {
		if r.isReady(nodeID) {
			ready = append(ready, nodeID)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return r.graph.Rank(ready[i]) < r.graph.Rank(ready[j])
	})

	for _, nodeID := range ready {
		if r.inflight >= r.sched.cfg.PerExecutionCap {
			return
		}
		r.dispatchNode(nodeID)
	}
}

func (r *run) isReady(nodeID string) bool {
	if r.dispatched[nodeID] || r.completed[nodeID] || r.skipped[nodeID] || r.failed[nodeID] {
		return false
	}
	node := r.graph.Node(nodeID)
	if node == nil {
		return false
	}

	inEdges := r.graph.InEdges(nodeID)
	if len(inEdges) == 0 {
		// Roots are dispatched explicitly: entry points at start, the
		// error trigger when the error pipeline fires.
		return false
	}

	// After a primary-path failure only the error subtree keeps running.
	if r.primaryFailed && !r.errorSubtree[nodeID] {
		return false
	}

	for _, dep := range r.dependencies(nodeID) {
		if !r.completed[dep] && !r.skipped[dep] {
			return false
		}
	}
	// At least one inbound edge must still be live; otherwise the node is
	// skipped, not ready.
	return r.hasLiveInEdge(inEdges)
}

func (r *run) dependencies(nodeID string) []string {
	seen := make(map[string]bool)
	var deps []string
	for _, edge := range r.graph.InEdges(nodeID) {
		if !seen[edge.Source] {
			seen[edge.Source] = true
			deps = append(deps, edge.Source)
		}
	}
	return deps
}

// edgeDead reports whether an edge can no longer deliver control flow:
// its source was skipped, or its source completed with a branch decision
// that does not include this edge's handle.
func (r *run) edgeDead(edge dag.Edge) bool {
	if r.skipped[edge.Source] {
		return true
	}
	if !r.completed[edge.Source] {
		return false
	}
	decision, ok := r.decisions[edge.Source]
	if !ok {
		return false
	}
	for _, handle := range decision {
		if handle == edge.SourceHandle {
			return false
		}
	}
	return true
}

func (r *run) hasLiveInEdge(inEdges []dag.Edge) bool {
	for _, edge := range inEdges {
		if !r.edgeDead(edge) {
			return true
		}
	}
	return false
}

// propagateSkips marks nodes whose every inbound edge is dead, repeating
// until the skip set stops growing so whole subtrees fall away.
func (r *run) propagateSkips() {
	for {
		changed := false
		for _, nodeID := range r.order {
			if r.dispatched[nodeID] || r.completed[nodeID] || r.skipped[nodeID] || r.failed[nodeID] {
				continue
			}
			inEdges := r.graph.InEdges(nodeID)
			if len(inEdges) == 0 {
				continue
			}
			allResolved := true
			for _, dep := range r.dependencies(nodeID) {
				if !r.completed[dep] && !r.skipped[dep] {
					allResolved = false
					break
				}
			}
			if allResolved && !r.hasLiveInEdge(inEdges) {
				r.skipped[nodeID] = true
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (r *run) dispatchNode(nodeID string) {
	node := r.graph.Node(nodeID)
	if node == nil {
		return
	}
	r.dispatched[nodeID] = true
	r.inflight++

	log.Debug().
		Str("execution_id", r.exec.ID.String()).
		Str("node_id", nodeID).
		Str("node_type", node.Type).
		Msg("dispatching node")

	r.sched.workers.Submit(func() {
		r.completions <- r.sched.executeNode(r.ctx, r.exec, r.graph, node)
	})
}

func (r *run) handleOutcome(out outcome) {
	r.inflight--
	r.applyOutcome(out)
}

func (r *run) applyOutcome(out outcome) {
	nodeID := out.nodeID

	switch {
	case out.err != nil:
		r.nodeFailed(nodeID, out)
	case out.result != nil && out.result.Suspension != nil:
		r.nodeSuspended(nodeID, out)
	default:
		r.nodeCompleted(nodeID, out)
	}
}

func (r *run) nodeCompleted(nodeID string, out outcome) {
	r.completed[nodeID] = true
	output := map[string]interface{}{}
	if out.result != nil && out.result.Output != nil {
		output = out.result.Output
	}

	if err := r.sched.state.RecordNodeOutput(r.ctx, r.exec.ID, nodeID, output); err != nil {
		log.Error().Err(err).
			Str("execution_id", r.exec.ID.String()).
			Str("node_id", nodeID).
			Msg("failed to record node output")
	}

	if out.result != nil && out.result.BranchesToFollow != nil {
		r.decisions[nodeID] = out.result.BranchesToFollow
		if err := r.sched.state.RecordBranchDecision(r.ctx, r.exec.ID, nodeID, out.result.BranchesToFollow); err != nil {
			log.Error().Err(err).
				Str("execution_id", r.exec.ID.String()).
				Str("node_id", nodeID).
				Msg("failed to record branch decision")
		}
	}

	if out.record != nil {
		now := r.sched.clock.Now()
		durationMs := out.duration.Milliseconds()
		out.record.Status = models.NodeStatusCompleted
		out.record.OutputData = models.JSON(output)
		out.record.CompletedAt = &now
		out.record.DurationMs = &durationMs
		if out.result != nil {
			out.record.BranchesToFollow = models.StringArray(out.result.BranchesToFollow)
		}
		if err := r.sched.store.UpdateNodeExecution(r.ctx, out.record); err != nil {
			log.Error().Err(err).Str("node_id", nodeID).Msg("failed to persist node execution")
		}
	}

	r.exec.NodesCompleted++
	if err := r.sched.store.Update(r.ctx, r.exec); err != nil {
		log.Error().Err(err).Msg("failed to persist execution progress")
	}

	r.sched.bus.Publish(events.Event{
		Type:        events.EventNodeCompleted,
		ExecutionID: r.exec.ID,
		FlowID:      r.exec.FlowID,
		NodeID:      nodeID,
		Status:      models.NodeStatusCompleted,
		Data: map[string]interface{}{
			"duration_ms":    out.duration.Milliseconds(),
			"output_preview": events.Preview(output),
		},
		Timestamp: r.sched.clock.Now(),
	})
}

func (r *run) nodeFailed(nodeID string, out outcome) {
	r.failed[nodeID] = true
	errMsg := out.err.Error()
	errCode := ""
	var nodeErr *core.NodeError
	if errors.As(out.err, &nodeErr) {
		errCode = nodeErr.Code
	}

	if out.record != nil {
		now := r.sched.clock.Now()
		durationMs := out.duration.Milliseconds()
		out.record.Status = models.NodeStatusFailed
		out.record.ErrorMessage = &errMsg
		if nodeErr != nil && nodeErr.Stack != "" {
			out.record.ErrorStack = &nodeErr.Stack
		}
		out.record.CompletedAt = &now
		out.record.DurationMs = &durationMs
		if err := r.sched.store.UpdateNodeExecution(r.ctx, out.record); err != nil {
			log.Error().Err(err).Str("node_id", nodeID).Msg("failed to persist node execution")
		}
	}

	r.sched.bus.Publish(events.Event{
		Type:        events.EventNodeFailed,
		ExecutionID: r.exec.ID,
		FlowID:      r.exec.FlowID,
		NodeID:      nodeID,
		Status:      models.NodeStatusFailed,
		Data: map[string]interface{}{
			"error":      errMsg,
			"error_code": errCode,
		},
		Timestamp: r.sched.clock.Now(),
	})

	if !r.primaryFailed {
		r.primaryFailed = true
		r.exec.ErrorMessage = &errMsg
		nodeIDCopy := nodeID
		r.exec.ErrorNodeID = &nodeIDCopy
		if err := r.sched.store.Update(r.ctx, r.exec); err != nil {
			log.Error().Err(err).Msg("failed to persist execution error")
		}
		r.fireErrorTrigger(nodeID, errMsg, errCode)
	}
}

// fireErrorTrigger re-enters the flow at a matching error trigger, if one
// exists. The trigger completes immediately with the failure context as its
// output and its subtree becomes the only dispatchable region.
func (r *run) fireErrorTrigger(failedNodeID, errMsg, errCode string) {
	triggerID := r.matchErrorTrigger(errCode)
	if triggerID == "" {
		return
	}
	r.errorFired = true
	r.errorSubtree = r.subtreeOf(triggerID)

	output := map[string]interface{}{
		"error":       errMsg,
		"errorType":   errCode,
		"errorNodeId": failedNodeID,
		"executionId": r.exec.ID.String(),
		"flowId":      r.exec.FlowID.String(),
	}
	r.completed[triggerID] = true
	if err := r.sched.state.RecordNodeOutput(r.ctx, r.exec.ID, triggerID, output); err != nil {
		log.Error().Err(err).Msg("failed to record error trigger output")
	}

	log.Info().
		Str("execution_id", r.exec.ID.String()).
		Str("error_trigger", triggerID).
		Str("failed_node", failedNodeID).
		Msg("entering error pipeline")
}

// matchErrorTrigger picks the first error trigger whose errorTypes filter
// contains the failed node's error code. An empty filter matches anything.
func (r *run) matchErrorTrigger(errCode string) string {
	for _, nodeID := range r.order {
		node := r.graph.Node(nodeID)
		if node == nil || node.Type != errorTriggerType || r.completed[nodeID] {
			continue
		}
		types := core.GetStringArray(node.Data, "errorTypes")
		if len(types) == 0 {
			return nodeID
		}
		for _, t := range types {
			if t == errCode {
				return nodeID
			}
		}
	}
	return ""
}

func (r *run) subtreeOf(rootID string) map[string]bool {
	subtree := map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		for _, succ := range r.graph.Successors(nodeID) {
			if !subtree[succ] {
				subtree[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	return subtree
}

func (r *run) nodeSuspended(nodeID string, out outcome) {
	susp := out.result.Suspension
	r.waiting = true
	r.waitingNodeID = nodeID

	reason := string(susp.Reason)
	r.exec.Status = models.ExecutionStatusWaiting
	r.exec.WaitingNodeID = &nodeID
	r.exec.PauseReason = &reason
	if err := r.sched.store.Update(r.ctx, r.exec); err != nil {
		log.Error().Err(err).Msg("failed to persist waiting execution")
	}
	if err := r.sched.state.UpdateExecutionStatus(r.ctx, r.exec.ID, models.ExecutionStatusWaiting); err != nil {
		log.Error().Err(err).Msg("failed to record waiting status")
	}

	r.sched.bus.Publish(events.Event{
		Type:        events.EventExecutionWaiting,
		ExecutionID: r.exec.ID,
		FlowID:      r.exec.FlowID,
		NodeID:      nodeID,
		Status:      models.ExecutionStatusWaiting,
		Data: map[string]interface{}{
			"pause_reason": reason,
		},
		Timestamp: r.sched.clock.Now(),
	})

	r.sched.onSuspend(r.ctx, r.exec, nodeID, susp)
}

// handlePause parks a running execution on explicit request. There is no
// waiting node; resume just reopens dispatch.
func (r *run) handlePause(reason string) {
	if r.waiting || r.cancelled {
		return
	}
	r.waiting = true
	r.waitingNodeID = ""

	r.exec.Status = models.ExecutionStatusWaiting
	r.exec.PauseReason = &reason
	if err := r.sched.store.Update(r.ctx, r.exec); err != nil {
		log.Error().Err(err).Msg("failed to persist paused execution")
	}
	if err := r.sched.state.UpdateExecutionStatus(r.ctx, r.exec.ID, models.ExecutionStatusWaiting); err != nil {
		log.Error().Err(err).Msg("failed to record waiting status")
	}

	r.sched.bus.Publish(events.Event{
		Type:        events.EventExecutionWaiting,
		ExecutionID: r.exec.ID,
		FlowID:      r.exec.FlowID,
		Status:      models.ExecutionStatusWaiting,
		Data: map[string]interface{}{
			"pause_reason": reason,
		},
		Timestamp: r.sched.clock.Now(),
	})
}

func (r *run) handleResume(sig resumeSignal) {
	if !r.waiting || (sig.nodeID != "" && sig.nodeID != r.waitingNodeID) {
		return
	}
	nodeID := r.waitingNodeID
	r.waiting = false
	r.waitingNodeID = ""

	r.exec.Status = models.ExecutionStatusRunning
	r.exec.WaitingNodeID = nil
	r.exec.PauseReason = nil
	if err := r.sched.store.Update(r.ctx, r.exec); err != nil {
		log.Error().Err(err).Msg("failed to persist resumed execution")
	}
	if err := r.sched.state.UpdateExecutionStatus(r.ctx, r.exec.ID, models.ExecutionStatusRunning); err != nil {
		log.Error().Err(err).Msg("failed to record running status")
	}

	r.sched.bus.Publish(events.Event{
		Type:        events.EventExecutionResumed,
		ExecutionID: r.exec.ID,
		FlowID:      r.exec.FlowID,
		NodeID:      nodeID,
		Status:      models.ExecutionStatusRunning,
		Timestamp:   r.sched.clock.Now(),
	})

	// A manual pause has no suspended node; reopening dispatch is enough.
	if nodeID == "" {
		return
	}

	switch {
	case sig.fail:
		r.applyOutcome(outcome{
			nodeID: nodeID,
			err:    &core.NodeError{Message: sig.failReason, Code: sig.failCode},
			record: r.loadNodeRecord(nodeID),
		})
	case sig.data != nil:
		r.applyOutcome(outcome{
			nodeID: nodeID,
			result: core.Success(sig.data),
			record: r.loadNodeRecord(nodeID),
		})
	default:
		// Re-execute the suspended node from scratch.
		delete(r.dispatched, nodeID)
		r.dispatchNode(nodeID)
	}
}

// loadNodeRecord fetches the suspended node's row so a resume outcome can
// close it out.
func (r *run) loadNodeRecord(nodeID string) *models.NodeExecution {
	records, err := r.sched.store.ListNodeExecutions(r.ctx, r.exec.ID)
	if err != nil {
		return nil
	}
	for _, record := range records {
		if record.NodeID == nodeID {
			return record
		}
	}
	return nil
}

func (r *run) handleCancel(reason string) {
	r.cancelled = true
	r.cancel()

	now := r.sched.clock.Now()
	r.exec.Status = models.ExecutionStatusCancelled
	r.exec.CancelReason = &reason
	r.exec.CompletedAt = &now
	if r.exec.StartedAt != nil {
		durationMs := now.Sub(*r.exec.StartedAt).Milliseconds()
		r.exec.DurationMs = &durationMs
	}
	r.exec.WaitingNodeID = nil
	r.exec.PauseReason = nil
	if err := r.sched.store.Update(context.Background(), r.exec); err != nil {
		log.Error().Err(err).Msg("failed to persist cancelled execution")
	}
	if err := r.sched.state.UpdateExecutionStatus(context.Background(), r.exec.ID, models.ExecutionStatusCancelled); err != nil {
		log.Error().Err(err).Msg("failed to record cancelled status")
	}

	r.sched.bus.Publish(events.Event{
		Type:        events.EventExecutionCancelled,
		ExecutionID: r.exec.ID,
		FlowID:      r.exec.FlowID,
		Status:      models.ExecutionStatusCancelled,
		Data: map[string]interface{}{
			"cancel_reason": reason,
		},
		Timestamp: now,
	})
	r.sched.finishMetrics(r.exec)
}

// isDrained reports whether no work remains: nothing in flight, nothing
// ready, not waiting on external input.
func (r *run) isDrained() bool {
	if r.waiting || r.cancelled || r.inflight > 0 {
		return false
	}
	for _, nodeID := range r.order {
		if r.isReady(nodeID) {
			return false
		}
	}
	return true
}

// finish computes the terminal status and closes the execution out.
func (r *run) finish() {
	status := models.ExecutionStatusCompleted
	if r.primaryFailed {
		status = models.ExecutionStatusFailed
		if r.errorFired && r.errorPathCompleted() {
			// A completed error path absorbs the failure.
			status = models.ExecutionStatusCompleted
		}
	}

	output, err := r.sched.state.GetExecutionOutput(context.Background(), r.exec.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to collect execution output")
	}

	now := r.sched.clock.Now()
	r.exec.Status = status
	r.exec.CompletedAt = &now
	if r.exec.StartedAt != nil {
		durationMs := now.Sub(*r.exec.StartedAt).Milliseconds()
		r.exec.DurationMs = &durationMs
	}
	r.exec.OutputData = models.JSON(output)
	if err := r.sched.store.Update(context.Background(), r.exec); err != nil {
		log.Error().Err(err).Msg("failed to persist terminal execution")
	}
	if err := r.sched.state.UpdateExecutionStatus(context.Background(), r.exec.ID, status); err != nil {
		log.Error().Err(err).Msg("failed to record terminal status")
	}

	eventType := events.EventExecutionCompleted
	data := map[string]interface{}{
		"nodes_completed": r.exec.NodesCompleted,
	}
	if r.exec.DurationMs != nil {
		data["duration_ms"] = *r.exec.DurationMs
	}
	if status == models.ExecutionStatusFailed {
		eventType = events.EventExecutionFailed
		if r.exec.ErrorMessage != nil {
			data["error"] = *r.exec.ErrorMessage
		}
		if r.exec.ErrorNodeID != nil {
			data["error_node_id"] = *r.exec.ErrorNodeID
		}
	}
	r.sched.bus.Publish(events.Event{
		Type:        eventType,
		ExecutionID: r.exec.ID,
		FlowID:      r.exec.FlowID,
		Status:      status,
		Data:        data,
		Timestamp:   now,
	})
	r.sched.finishMetrics(r.exec)

	log.Info().
		Str("execution_id", r.exec.ID.String()).
		Str("status", status).
		Int("nodes_completed", r.exec.NodesCompleted).
		Msg("execution finished")
}

// errorPathCompleted reports whether every reachable node of the error
// subtree resolved without failure.
func (r *run) errorPathCompleted() bool {
	completedAny := false
	for nodeID := range r.errorSubtree {
		if r.failed[nodeID] {
			return false
		}
		if r.completed[nodeID] {
			completedAny = true
		}
	}
	return completedAny
}

// restore rehydrates frontier state from persisted rows after a scheduler
// restart, so a waiting execution can resume where it left off.
func (r *run) restore(records []*models.NodeExecution) {
	for _, record := range records {
		switch record.Status {
		case models.NodeStatusCompleted:
			r.completed[record.NodeID] = true
			r.dispatched[record.NodeID] = true
			if len(record.BranchesToFollow) > 0 {
				r.decisions[record.NodeID] = record.BranchesToFollow
			}
		case models.NodeStatusFailed:
			r.failed[record.NodeID] = true
			r.dispatched[record.NodeID] = true
			r.primaryFailed = true
		case models.NodeStatusRunning, models.NodeStatusPending:
			// Interrupted before completion; it will be re-dispatched on
			// resume if it is the waiting node.
		}
	}
	if r.exec.Status == models.ExecutionStatusWaiting && r.exec.WaitingNodeID != nil {
		r.waiting = true
		r.waitingNodeID = *r.exec.WaitingNodeID
		r.dispatched[r.waitingNodeID] = true
	}
	r.propagateSkips()
}
