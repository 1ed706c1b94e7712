package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/approval"
	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
	"github.com/nodeflow-ai/nodeflow/internal/engine/dag"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
	"github.com/nodeflow-ai/nodeflow/internal/engine/expression"
	"github.com/nodeflow-ai/nodeflow/internal/engine/form"
	"github.com/nodeflow-ai/nodeflow/internal/engine/state"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/clock"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/metrics"
)

// Delayer schedules a future resume for wait nodes. Implemented by the
// asynq queue; absent one the scheduler falls back to in-process timers.
type Delayer interface {
	ScheduleResume(ctx context.Context, executionID uuid.UUID, delay time.Duration) error
}

// Scheduler owns execution lifecycles: it validates graphs, dispatches
// ready nodes to the shared worker pool, reacts to completions and
// suspensions, and drives executions to a terminal status.
type Scheduler struct {
	cfg         Config
	store       ExecutionStore
	flows       FlowStore
	state       state.Store
	bus         *events.Bus
	evaluator   *expression.Evaluator
	credentials core.CredentialResolver
	approvals   *approval.Coordinator
	forms       *form.Coordinator
	delayer     Delayer
	clock       clock.Clock
	workers     *pool

	mu   sync.Mutex
	runs map[uuid.UUID]*run

	stopOnce sync.Once
	stopped  chan struct{}
}

func New(
	cfg Config,
	store ExecutionStore,
	flows FlowStore,
	stateStore state.Store,
	bus *events.Bus,
	credentials core.CredentialResolver,
	approvals *approval.Coordinator,
	forms *form.Coordinator,
	clk clock.Clock,
) *Scheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.PerExecutionCap <= 0 {
		cfg.PerExecutionCap = 8
	}
	if cfg.DefaultNodeTimeout <= 0 {
		cfg.DefaultNodeTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cfg:         cfg,
		store:       store,
		flows:       flows,
		state:       stateStore,
		bus:         bus,
		evaluator:   expression.New(cfg.EnvAllowList),
		credentials: credentials,
		approvals:   approvals,
		forms:       forms,
		clock:       clk,
		workers:     newPool(cfg.PoolSize),
		runs:        make(map[uuid.UUID]*run),
		stopped:     make(chan struct{}),
	}
}

// SetDelayer wires delayed resume scheduling (used by wait nodes).
func (s *Scheduler) SetDelayer(d Delayer) {
	s.delayer = d
}

// Start begins consuming coordinator resolutions.
func (s *Scheduler) Start() {
	if s.approvals != nil {
		go s.watchApprovals()
	}
	if s.forms != nil {
		go s.watchForms()
	}
}

// Stop shuts the worker pool down after in-flight nodes finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
	s.workers.Close()
}

// StartExecution validates the flow graph and launches the execution's run
// loop. The execution must be pending.
func (s *Scheduler) StartExecution(ctx context.Context, executionID uuid.UUID) error {
	exec, err := s.store.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionStatusPending {
		return fmt.Errorf("%w: execution is %s, not pending", errs.ErrStateConflict, exec.Status)
	}

	graph, parse, err := s.loadGraph(ctx, exec)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	exec.Status = models.ExecutionStatusRunning
	exec.StartedAt = &now
	exec.NodesTotal = graph.NodeCount()
	if err := s.store.Update(ctx, exec); err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}
	if err := s.state.InitExecution(ctx, exec.ID, exec.TriggerInput); err != nil {
		return fmt.Errorf("failed to init execution state: %w", err)
	}
	if err := s.state.UpdateExecutionStatus(ctx, exec.ID, models.ExecutionStatusRunning); err != nil {
		return fmt.Errorf("failed to record running status: %w", err)
	}

	metrics.ExecutionsStarted.WithLabelValues(exec.TriggerType).Inc()
	s.bus.Publish(events.Event{
		Type:        events.EventExecutionStarted,
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		Status:      models.ExecutionStatusRunning,
		Data: map[string]interface{}{
			"trigger_type": exec.TriggerType,
			"nodes_total":  exec.NodesTotal,
		},
		Timestamp: now,
	})

	r := newRun(s, exec, graph, parse.ExecutionOrder)
	s.mu.Lock()
	s.runs[exec.ID] = r
	s.mu.Unlock()

	go r.loop(parse.EntryPoints)
	return nil
}

// ResumeExecution re-arms a waiting execution. When data is non-nil the
// suspended node completes with it directly; otherwise the node
// re-executes. After a restart the frontier is rebuilt from persisted rows.
func (s *Scheduler) ResumeExecution(ctx context.Context, executionID uuid.UUID, data map[string]interface{}) error {
	return s.signalResume(ctx, executionID, resumeSignal{data: data})
}

// FailWaitingNode aborts the suspended node of a waiting execution, e.g.
// when its approval was rejected or expired.
func (s *Scheduler) FailWaitingNode(ctx context.Context, executionID uuid.UUID, reason, code string) error {
	return s.signalResume(ctx, executionID, resumeSignal{fail: true, failReason: reason, failCode: code})
}

func (s *Scheduler) signalResume(ctx context.Context, executionID uuid.UUID, sig resumeSignal) error {
	// The send happens under the registry lock. The run loop deregisters
	// itself under the same lock before it finishes, so a signal is never
	// buffered into a loop that already exited.
	s.mu.Lock()
	if r, ok := s.runs[executionID]; ok {
		select {
		case r.resumeCh <- sig:
			s.mu.Unlock()
			return nil
		default:
			s.mu.Unlock()
			return fmt.Errorf("%w: resume already pending", errs.ErrStateConflict)
		}
	}
	s.mu.Unlock()

	// No live run; rebuild one from persisted state.
	exec, err := s.store.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionStatusWaiting {
		return fmt.Errorf("%w: execution is %s, not waiting", errs.ErrStateConflict, exec.Status)
	}

	graph, parse, err := s.loadGraph(ctx, exec)
	if err != nil {
		return err
	}
	records, err := s.store.ListNodeExecutions(ctx, executionID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.Status == models.NodeStatusCompleted && record.OutputData != nil {
			// Re-seed the state store in case scratch state was lost.
			if _, ok, _ := s.state.GetNodeOutput(ctx, executionID, record.NodeID); !ok {
				if err := s.state.RecordNodeOutput(ctx, executionID, record.NodeID, record.OutputData); err != nil {
					log.Warn().Err(err).Str("node_id", record.NodeID).Msg("failed to reseed node output")
				}
			}
		}
	}

	r := newRun(s, exec, graph, parse.ExecutionOrder)
	r.restore(records)
	s.mu.Lock()
	s.runs[executionID] = r
	s.mu.Unlock()

	go r.loop(nil)
	r.resumeCh <- sig
	return nil
}

// CancelExecution synchronously flips a non-terminal execution to
// cancelled and signals in-flight workers. Cessation of running handlers
// is best-effort.
func (s *Scheduler) CancelExecution(ctx context.Context, executionID uuid.UUID, reason string) error {
	exec, err := s.store.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(exec.Status) {
		return fmt.Errorf("%w: execution already %s", errs.ErrStateConflict, exec.Status)
	}

	if s.approvals != nil {
		if err := s.approvals.CancelForExecution(ctx, executionID); err != nil {
			log.Warn().Err(err).Str("execution_id", executionID.String()).Msg("failed to cancel pending approvals")
		}
	}

	s.mu.Lock()
	r, ok := s.runs[executionID]
	s.mu.Unlock()
	if ok {
		select {
		case r.cancelCh <- reason:
		default:
			// A cancel is already queued.
		}
		return nil
	}

	// No live run (e.g. waiting execution after a restart).
	now := s.clock.Now()
	exec.Status = models.ExecutionStatusCancelled
	exec.CancelReason = &reason
	exec.CompletedAt = &now
	if exec.StartedAt != nil {
		durationMs := now.Sub(*exec.StartedAt).Milliseconds()
		exec.DurationMs = &durationMs
	}
	exec.WaitingNodeID = nil
	exec.PauseReason = nil
	if err := s.store.Update(ctx, exec); err != nil {
		return fmt.Errorf("failed to cancel execution: %w", err)
	}
	if err := s.state.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusCancelled); err != nil {
		log.Warn().Err(err).Msg("failed to record cancelled status")
	}
	s.bus.Publish(events.Event{
		Type:        events.EventExecutionCancelled,
		ExecutionID: exec.ID,
		FlowID:      exec.FlowID,
		Status:      models.ExecutionStatusCancelled,
		Data: map[string]interface{}{
			"cancel_reason": reason,
		},
		Timestamp: now,
	})
	s.finishMetrics(exec)
	return nil
}

// PauseExecution manually parks a running execution. In-flight nodes
// finish; nothing new dispatches until resume.
func (s *Scheduler) PauseExecution(ctx context.Context, executionID uuid.UUID, reason string) error {
	s.mu.Lock()
	r, ok := s.runs[executionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: execution is not running", errs.ErrStateConflict)
	}
	select {
	case r.pauseCh <- reason:
		return nil
	default:
		return fmt.Errorf("%w: pause already pending", errs.ErrStateConflict)
	}
}

func (s *Scheduler) loadGraph(ctx context.Context, exec *models.Execution) (*dag.Graph, *dag.ParseResult, error) {
	version, err := s.flows.GetVersion(ctx, exec.FlowVersionID)
	if err != nil {
		return nil, nil, err
	}
	def, err := dag.FromMap(version.Definition)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	parse := dag.Parse(def)
	if !parse.Valid {
		msgs := make([]string, 0, len(parse.Errors))
		for _, issue := range parse.Errors {
			msgs = append(msgs, issue.Message)
		}
		return nil, nil, fmt.Errorf("%w: %s", errs.ErrValidation, strings.Join(msgs, "; "))
	}
	return parse.Graph(), parse, nil
}

// onSuspend reacts to a handler's Suspend result after the run loop has
// parked the execution. Approval suspensions open the approval gate; wait
// suspensions schedule the delayed resume.
func (s *Scheduler) onSuspend(ctx context.Context, exec *models.Execution, nodeID string, susp *core.Suspension) {
	spec := susp.ResumeSpec
	switch susp.Reason {
	case core.SuspendApproval:
		if s.approvals == nil {
			return
		}
		req := approval.CreateRequest{
			ExecutionID:       exec.ID,
			NodeID:            nodeID,
			ApprovalMode:      core.GetString(spec, "approvalMode", models.ApprovalModeAny),
			RequiredApprovers: core.GetInt(spec, "requiredApprovers", 1),
		}
		if msg := core.GetString(spec, "message", ""); msg != "" {
			req.Message = &msg
		}
		if secs := core.GetInt(spec, "expiresInSeconds", 0); secs > 0 {
			t := s.clock.Now().Add(time.Duration(secs) * time.Second)
			req.ExpiresAt = &t
		}
		if _, err := s.approvals.Create(ctx, req); err != nil {
			log.Error().Err(err).
				Str("execution_id", exec.ID.String()).
				Str("node_id", nodeID).
				Msg("failed to create approval gate")
		}
	case core.SuspendWait:
		delayMs := core.GetInt(spec, "delayMs", 0)
		if delayMs <= 0 {
			return
		}
		delay := time.Duration(delayMs) * time.Millisecond
		if s.delayer != nil {
			if err := s.delayer.ScheduleResume(ctx, exec.ID, delay); err == nil {
				return
			} else {
				log.Warn().Err(err).Msg("failed to schedule delayed resume, falling back to timer")
			}
		}
		execID := exec.ID
		time.AfterFunc(delay, func() {
			if err := s.ResumeExecution(context.Background(), execID, map[string]interface{}{"waited": true}); err != nil {
				log.Warn().Err(err).Str("execution_id", execID.String()).Msg("delayed resume failed")
			}
		})
	case core.SuspendForm, core.SuspendWebhook:
		// Nothing to arm; an external submission resumes the execution.
	}
}

func (s *Scheduler) watchApprovals() {
	for {
		select {
		case <-s.stopped:
			return
		case res := <-s.approvals.Resolved():
			s.handleApprovalResolution(res)
		}
	}
}

func (s *Scheduler) handleApprovalResolution(res approval.Resolution) {
	ctx := context.Background()
	switch res.Status {
	case models.ApprovalStatusApproved:
		err := s.ResumeExecution(ctx, res.ExecutionID, map[string]interface{}{
			"approved": true,
			"status":   res.Status,
		})
		if err != nil {
			log.Warn().Err(err).Str("execution_id", res.ExecutionID.String()).Msg("failed to resume approved execution")
		}
	case models.ApprovalStatusRejected:
		if err := s.FailWaitingNode(ctx, res.ExecutionID, "approval rejected", "REJECTED"); err != nil {
			log.Warn().Err(err).Str("execution_id", res.ExecutionID.String()).Msg("failed to fail rejected execution")
		}
	case models.ApprovalStatusExpired:
		if err := s.FailWaitingNode(ctx, res.ExecutionID, "approval expired", "EXPIRED"); err != nil {
			log.Warn().Err(err).Str("execution_id", res.ExecutionID.String()).Msg("failed to fail expired execution")
		}
	case models.ApprovalStatusCancelled:
		// The execution cancel path already handled it.
	}
}

func (s *Scheduler) watchForms() {
	for {
		select {
		case <-s.stopped:
			return
		case sub := <-s.forms.Submitted():
			if err := s.ResumeExecution(context.Background(), sub.ExecutionID, sub.Data); err != nil {
				log.Warn().Err(err).
					Str("execution_id", sub.ExecutionID.String()).
					Msg("failed to resume execution after form submission")
			}
		}
	}
}

func (s *Scheduler) dropRun(executionID uuid.UUID) {
	s.mu.Lock()
	delete(s.runs, executionID)
	s.mu.Unlock()
}

func (s *Scheduler) finishMetrics(exec *models.Execution) {
	metrics.ExecutionsFinished.WithLabelValues(exec.Status).Inc()
	if exec.DurationMs != nil {
		metrics.ExecutionDuration.Observe(float64(*exec.DurationMs) / 1000)
	}
}
