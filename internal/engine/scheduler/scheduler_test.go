package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
	"github.com/nodeflow-ai/nodeflow/internal/engine/state"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/clock"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/errs"
)

// Test handlers. The echo trigger passes its input through; the others
// exercise completion, branching, failure, suspension and cancellation.

type echoTrigger struct{}

func (echoTrigger) Type() string { return "trigger.start" }
func (echoTrigger) Execute(_ context.Context, nc *core.NodeContext) (*core.Result, error) {
	return core.Success(core.CopyMap(nc.Input)), nil
}

type emitNode struct{}

func (emitNode) Type() string { return "test.emit" }
func (emitNode) Execute(_ context.Context, nc *core.NodeContext) (*core.Result, error) {
	output := core.CopyMap(nc.Input)
	output["emit"] = nc.NodeID
	return core.Success(output), nil
}

type failNode struct{}

func (failNode) Type() string { return "test.fail" }
func (failNode) Execute(_ context.Context, nc *core.NodeContext) (*core.Result, error) {
	return nil, &core.NodeError{
		Message: "synthetic failure",
		Code:    core.GetString(nc.Config, "code", "BOOM"),
	}
}

type branchNode struct{}

func (branchNode) Type() string { return "test.branch" }
func (branchNode) Execute(_ context.Context, nc *core.NodeContext) (*core.Result, error) {
	branch := core.GetString(nc.Config, "branch", "default")
	return core.SuccessBranches(map[string]interface{}{"picked": branch}, branch), nil
}

type holdNode struct{}

func (holdNode) Type() string { return "test.hold" }
func (holdNode) Execute(_ context.Context, _ *core.NodeContext) (*core.Result, error) {
	return core.Suspend(core.SuspendForm, nil), nil
}

type blockNode struct{}

func (blockNode) Type() string { return "test.block" }
func (blockNode) Execute(ctx context.Context, _ *core.NodeContext) (*core.Result, error) {
	<-ctx.Done()
	return nil, &core.NodeError{Message: "interrupted", Code: "INTERRUPTED"}
}

// gateRelease lets a test hold test.gate nodes open until it is ready.
var (
	gateMu      sync.Mutex
	gateRelease chan struct{}
)

func armGate() {
	gateMu.Lock()
	defer gateMu.Unlock()
	gateRelease = make(chan struct{})
}

func openGate() {
	gateMu.Lock()
	defer gateMu.Unlock()
	close(gateRelease)
}

type gateNode struct{}

func (gateNode) Type() string { return "test.gate" }
func (gateNode) Execute(ctx context.Context, _ *core.NodeContext) (*core.Result, error) {
	gateMu.Lock()
	release := gateRelease
	gateMu.Unlock()
	select {
	case <-release:
		return core.Success(map[string]interface{}{"gated": true}), nil
	case <-ctx.Done():
		return nil, &core.NodeError{Message: "interrupted", Code: "INTERRUPTED"}
	}
}

// flakyCalls counts test.flaky attempts so the first one runs into its
// deadline and later ones succeed.
var (
	flakyMu    sync.Mutex
	flakyCalls int
)

func resetFlaky() {
	flakyMu.Lock()
	defer flakyMu.Unlock()
	flakyCalls = 0
}

type flakyNode struct{}

func (flakyNode) Type() string { return "test.flaky" }
func (flakyNode) Execute(ctx context.Context, _ *core.NodeContext) (*core.Result, error) {
	flakyMu.Lock()
	flakyCalls++
	attempt := flakyCalls
	flakyMu.Unlock()
	if attempt == 1 {
		<-ctx.Done()
		return nil, &core.NodeError{Message: "interrupted", Code: "INTERRUPTED"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return core.Success(map[string]interface{}{"attempts": attempt}), nil
}

func init() {
	core.Register(echoTrigger{}, core.Meta{DisplayName: "Echo Trigger", Category: "trigger", IsTrigger: true})
	core.Register(emitNode{})
	core.Register(failNode{})
	core.Register(branchNode{})
	core.Register(holdNode{})
	core.Register(blockNode{})
	core.Register(gateNode{})
	core.Register(flakyNode{})
}

// In-memory stores.

type memExecStore struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*models.Execution
	records    map[uuid.UUID][]*models.NodeExecution
}

func newMemExecStore() *memExecStore {
	return &memExecStore{
		executions: make(map[uuid.UUID]*models.Execution),
		records:    make(map[uuid.UUID][]*models.NodeExecution),
	}
}

func (s *memExecStore) put(execution *models.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *execution
	s.executions[execution.ID] = &cp
}

func (s *memExecStore) get(id uuid.UUID) *models.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.executions[id]
	return &cp
}

func (s *memExecStore) GetByID(_ context.Context, id uuid.UUID) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *execution
	return &cp, nil
}

func (s *memExecStore) Update(_ context.Context, execution *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *execution
	s.executions[execution.ID] = &cp
	return nil
}

func (s *memExecStore) CreateNodeExecution(_ context.Context, ne *models.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ne.ID == uuid.Nil {
		ne.ID = uuid.New()
	}
	cp := *ne
	s.records[ne.ExecutionID] = append(s.records[ne.ExecutionID], &cp)
	return nil
}

func (s *memExecStore) UpdateNodeExecution(_ context.Context, ne *models.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, record := range s.records[ne.ExecutionID] {
		if record.NodeID == ne.NodeID {
			cp := *ne
			s.records[ne.ExecutionID][i] = &cp
			return nil
		}
	}
	return errs.ErrNotFound
}

func (s *memExecStore) ListNodeExecutions(_ context.Context, executionID uuid.UUID) ([]*models.NodeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.NodeExecution, 0, len(s.records[executionID]))
	for _, record := range s.records[executionID] {
		cp := *record
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memExecStore) nodeRecord(executionID uuid.UUID, nodeID string) *models.NodeExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records[executionID] {
		if record.NodeID == nodeID {
			cp := *record
			return &cp
		}
	}
	return nil
}

type memFlowStore struct {
	mu       sync.Mutex
	versions map[uuid.UUID]*models.FlowVersion
}

func newMemFlowStore() *memFlowStore {
	return &memFlowStore{versions: make(map[uuid.UUID]*models.FlowVersion)}
}

func (s *memFlowStore) GetVersion(_ context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.versions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return version, nil
}

// Fixture helpers.

type fixture struct {
	sched *Scheduler
	store *memExecStore
	flows *memFlowStore
	state *state.MemoryStore
	bus   *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemExecStore()
	flows := newMemFlowStore()
	stateStore := state.NewMemoryStore()
	bus := events.NewBus(64)
	sched := New(
		Config{PoolSize: 2, PerExecutionCap: 4, DefaultNodeTimeout: 5 * time.Second},
		store, flows, stateStore, bus,
		nil, nil, nil,
		clock.System(),
	)
	t.Cleanup(sched.Stop)
	return &fixture{sched: sched, store: store, flows: flows, state: stateStore, bus: bus}
}

func defNode(id, nodeType string, data map[string]interface{}) map[string]interface{} {
	node := map[string]interface{}{"id": id, "type": nodeType}
	if data != nil {
		node["data"] = data
	}
	return node
}

func defEdge(source, handle, target string) map[string]interface{} {
	edge := map[string]interface{}{"source": source, "target": target}
	if handle != "" {
		edge["sourceHandle"] = handle
	}
	return edge
}

func (f *fixture) seedFlow(nodes, edges []map[string]interface{}) uuid.UUID {
	versionID := uuid.New()
	nodeList := make([]interface{}, len(nodes))
	for i, n := range nodes {
		nodeList[i] = n
	}
	edgeList := make([]interface{}, len(edges))
	for i, e := range edges {
		edgeList[i] = e
	}
	f.flows.mu.Lock()
	f.flows.versions[versionID] = &models.FlowVersion{
		ID:         versionID,
		FlowID:     uuid.New(),
		Version:    1,
		Status:     models.FlowVersionPublished,
		Definition: models.JSON{"nodes": nodeList, "edges": edgeList},
	}
	f.flows.mu.Unlock()
	return versionID
}

func (f *fixture) seedExecution(versionID uuid.UUID, triggerInput models.JSON) *models.Execution {
	f.flows.mu.Lock()
	flowID := f.flows.versions[versionID].FlowID
	f.flows.mu.Unlock()
	execution := &models.Execution{
		ID:            uuid.New(),
		FlowID:        flowID,
		FlowVersionID: versionID,
		Status:        models.ExecutionStatusPending,
		TriggerType:   models.TriggerManual,
		TriggerInput:  triggerInput,
	}
	f.store.put(execution)
	return execution
}

// collectUntil drains events until one of the terminal types arrives.
func collectUntil(t *testing.T, sub *events.Subscription, terminal ...events.EventType) []events.Event {
	t.Helper()
	isTerminal := func(typ events.EventType) bool {
		for _, want := range terminal {
			if typ == want {
				return true
			}
		}
		return false
	}
	var collected []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			collected = append(collected, ev)
			if isTerminal(ev.Type) {
				return collected
			}
		case <-deadline:
			t.Fatalf("timed out after %d events waiting for %v", len(collected), terminal)
		}
	}
}

func eventTypes(evs []events.Event) []events.EventType {
	out := make([]events.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestLinearExecutionCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("a", "test.emit", nil),
			defNode("b", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "a"),
			defEdge("a", "", "b"),
		},
	)
	execution := f.seedExecution(versionID, models.JSON{"seed": float64(7)})

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))

	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)
	assert.Equal(t, []events.EventType{
		events.EventExecutionStarted,
		events.EventNodeStarted, events.EventNodeCompleted,
		events.EventNodeStarted, events.EventNodeCompleted,
		events.EventNodeStarted, events.EventNodeCompleted,
		events.EventExecutionCompleted,
	}, eventTypes(evs))

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, 3, final.NodesTotal)
	assert.Equal(t, 3, final.NodesCompleted)
	require.NotNil(t, final.CompletedAt)
	require.NotNil(t, final.DurationMs)

	// Output is keyed by node id; the trigger input flowed through the chain.
	require.Contains(t, final.OutputData, "b")
	tail := final.OutputData["b"].(map[string]interface{})
	assert.Equal(t, float64(7), tail["seed"])
	assert.Equal(t, "b", tail["emit"])

	records, err := f.store.ListNodeExecutions(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, record := range records {
		assert.Equal(t, models.NodeStatusCompleted, record.Status)
		assert.NotNil(t, record.CompletedAt)
	}
}

func TestBranchSkipsUntakenPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("br", "test.branch", map[string]interface{}{"branch": "yes"}),
			defNode("a", "test.emit", nil),
			defNode("b", "test.emit", nil),
			defNode("join", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "br"),
			defEdge("br", "yes", "a"),
			defEdge("br", "no", "b"),
			defEdge("a", "", "join"),
			defEdge("b", "", "join"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))
	collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Contains(t, final.OutputData, "a")
	assert.Contains(t, final.OutputData, "join")
	assert.NotContains(t, final.OutputData, "b")

	// The skipped node never got a row.
	assert.Nil(t, f.store.nodeRecord(execution.ID, "b"))

	decision, ok, err := f.state.GetBranchDecision(ctx, execution.ID, "br")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"yes"}, decision)
}

func TestNodeFailureFailsExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("x", "test.fail", nil),
			defNode("y", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "x"),
			defEdge("x", "", "y"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))
	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)
	assert.Equal(t, events.EventExecutionFailed, evs[len(evs)-1].Type)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Equal(t, "synthetic failure", *final.ErrorMessage)
	require.NotNil(t, final.ErrorNodeID)
	assert.Equal(t, "x", *final.ErrorNodeID)

	record := f.store.nodeRecord(execution.ID, "x")
	require.NotNil(t, record)
	assert.Equal(t, models.NodeStatusFailed, record.Status)
	assert.Nil(t, f.store.nodeRecord(execution.ID, "y"))
}

func TestErrorTriggerAbsorbsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("x", "test.fail", nil),
			defNode("err", "trigger.error", nil),
			defNode("recover", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "x"),
			defEdge("err", "", "recover"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))
	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)

	// The error pipeline ran to completion, so the execution completes.
	assert.Equal(t, events.EventExecutionCompleted, evs[len(evs)-1].Type)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)

	// The error trigger's output carries the failure context downstream.
	require.Contains(t, final.OutputData, "err")
	errOut := final.OutputData["err"].(map[string]interface{})
	assert.Equal(t, "x", errOut["errorNodeId"])
	assert.Equal(t, "BOOM", errOut["errorType"])
	assert.Contains(t, final.OutputData, "recover")
}

func TestErrorTriggerTypeFilterMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("x", "test.fail", nil),
			defNode("err", "trigger.error", map[string]interface{}{
				"errorTypes": []interface{}{"TIMEOUT"},
			}),
			defNode("recover", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "x"),
			defEdge("err", "", "recover"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))
	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)

	// BOOM does not match the TIMEOUT filter; no error pipeline fires.
	assert.Equal(t, events.EventExecutionFailed, evs[len(evs)-1].Type)
	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	assert.NotContains(t, final.OutputData, "recover")
}

func TestSuspendAndResumeWithData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("hold", "test.hold", nil),
			defNode("after", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "hold"),
			defEdge("hold", "", "after"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))
	collectUntil(t, sub, events.EventExecutionWaiting)

	waiting := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusWaiting, waiting.Status)
	require.NotNil(t, waiting.WaitingNodeID)
	assert.Equal(t, "hold", *waiting.WaitingNodeID)
	require.NotNil(t, waiting.PauseReason)
	assert.Equal(t, string(core.SuspendForm), *waiting.PauseReason)

	require.NoError(t, f.sched.ResumeExecution(ctx, execution.ID, map[string]interface{}{"answer": 42}))
	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)
	assert.Equal(t, events.EventExecutionResumed, evs[0].Type)
	assert.Equal(t, events.EventExecutionCompleted, evs[len(evs)-1].Type)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Nil(t, final.WaitingNodeID)
	assert.Nil(t, final.PauseReason)

	// The resume data became the suspended node's output and flowed on.
	holdOut := final.OutputData["hold"].(map[string]interface{})
	assert.Equal(t, 42, holdOut["answer"])
	afterOut := final.OutputData["after"].(map[string]interface{})
	assert.Equal(t, 42, afterOut["answer"])
}

func TestResumeRebuildsRunAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("hold", "test.hold", nil),
			defNode("after", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "hold"),
			defEdge("hold", "", "after"),
		},
	)

	// A waiting execution persisted by a previous process: the trigger
	// completed, the hold node suspended, scratch state was lost.
	waitingNode := "hold"
	pauseReason := string(core.SuspendForm)
	started := time.Now().Add(-time.Minute)
	execution := &models.Execution{
		ID:             uuid.New(),
		FlowID:         uuid.New(),
		FlowVersionID:  versionID,
		Status:         models.ExecutionStatusWaiting,
		TriggerType:    models.TriggerForm,
		WaitingNodeID:  &waitingNode,
		PauseReason:    &pauseReason,
		StartedAt:      &started,
		NodesTotal:     3,
		NodesCompleted: 1,
	}
	f.store.put(execution)
	require.NoError(t, f.store.CreateNodeExecution(ctx, &models.NodeExecution{
		ExecutionID:   execution.ID,
		NodeID:        "t",
		ComponentName: "trigger.start",
		Status:        models.NodeStatusCompleted,
		OutputData:    models.JSON{"seed": float64(1)},
	}))
	require.NoError(t, f.store.CreateNodeExecution(ctx, &models.NodeExecution{
		ExecutionID:   execution.ID,
		NodeID:        "hold",
		ComponentName: "test.hold",
		Status:        models.NodeStatusRunning,
	}))

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.ResumeExecution(ctx, execution.ID, map[string]interface{}{"ok": true}))
	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)
	assert.Equal(t, events.EventExecutionCompleted, evs[len(evs)-1].Type)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)

	// The trigger output was reseeded from the persisted row.
	assert.Contains(t, final.OutputData, "t")
	afterOut := final.OutputData["after"].(map[string]interface{})
	assert.Equal(t, true, afterOut["ok"])

	record := f.store.nodeRecord(execution.ID, "hold")
	require.NotNil(t, record)
	assert.Equal(t, models.NodeStatusCompleted, record.Status)
}

func TestFailWaitingNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("hold", "test.hold", nil),
			defNode("after", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "hold"),
			defEdge("hold", "", "after"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))
	collectUntil(t, sub, events.EventExecutionWaiting)

	require.NoError(t, f.sched.FailWaitingNode(ctx, execution.ID, "approval rejected", "REJECTED"))
	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)
	assert.Equal(t, events.EventExecutionFailed, evs[len(evs)-1].Type)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Equal(t, "approval rejected", *final.ErrorMessage)
	assert.Nil(t, f.store.nodeRecord(execution.ID, "after"))
}

func TestRetryAfterTimeoutGetsFreshDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resetFlaky()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("fl", "test.flaky", map[string]interface{}{
				"timeoutMs":   float64(100),
				"retryOnFail": true,
				"maxRetries":  float64(2),
			}),
		},
		[]map[string]interface{}{
			defEdge("t", "", "fl"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))
	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)

	// The first attempt times out; the retry runs under a fresh deadline
	// and succeeds.
	assert.Equal(t, events.EventExecutionCompleted, evs[len(evs)-1].Type)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)

	record := f.store.nodeRecord(execution.ID, "fl")
	require.NotNil(t, record)
	assert.Equal(t, models.NodeStatusCompleted, record.Status)
	assert.Equal(t, 1, record.RetryCount)
}

func TestResumeAfterCompletionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("a", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "a"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))
	collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)

	// The run deregisters before the terminal status is written, so a late
	// resume is refused instead of being silently swallowed.
	err := f.sched.ResumeExecution(ctx, execution.ID, map[string]interface{}{"late": true})
	assert.ErrorIs(t, err, errs.ErrStateConflict)
}

func TestCancelExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("slow", "test.block", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "slow"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))

	// Wait until the blocking node is in flight before cancelling.
	for {
		evs := collectUntil(t, sub, events.EventNodeStarted)
		if evs[len(evs)-1].NodeID == "slow" {
			break
		}
	}
	require.NoError(t, f.sched.CancelExecution(ctx, execution.ID, "operator cancel"))
	collectUntil(t, sub, events.EventExecutionCancelled)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, final.Status)
	require.NotNil(t, final.CancelReason)
	assert.Equal(t, "operator cancel", *final.CancelReason)
	require.NotNil(t, final.CompletedAt)

	// Cancelling a terminal execution is a conflict.
	assert.ErrorIs(t, f.sched.CancelExecution(ctx, execution.ID, "again"), errs.ErrStateConflict)
}

func TestCancelWaitingExecutionWithoutLiveRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("hold", "test.hold", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "hold"),
		},
	)
	waitingNode := "hold"
	started := time.Now().Add(-time.Minute)
	execution := &models.Execution{
		ID:            uuid.New(),
		FlowID:        uuid.New(),
		FlowVersionID: versionID,
		Status:        models.ExecutionStatusWaiting,
		TriggerType:   models.TriggerManual,
		WaitingNodeID: &waitingNode,
		StartedAt:     &started,
	}
	f.store.put(execution)

	require.NoError(t, f.sched.CancelExecution(ctx, execution.ID, "flow deleted"))

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, final.Status)
	assert.Nil(t, final.WaitingNodeID)
	require.NotNil(t, final.DurationMs)
}

func TestManualPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	armGate()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("gate", "test.gate", nil),
			defNode("after", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "gate"),
			defEdge("gate", "", "after"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	sub := f.bus.Subscribe(&execution.ID)
	defer sub.Close()
	require.NoError(t, f.sched.StartExecution(ctx, execution.ID))

	for {
		evs := collectUntil(t, sub, events.EventNodeStarted)
		if evs[len(evs)-1].NodeID == "gate" {
			break
		}
	}
	require.NoError(t, f.sched.PauseExecution(ctx, execution.ID, models.PauseReasonManual))
	collectUntil(t, sub, events.EventExecutionWaiting)

	paused := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusWaiting, paused.Status)
	require.NotNil(t, paused.PauseReason)
	assert.Equal(t, models.PauseReasonManual, *paused.PauseReason)
	assert.Nil(t, paused.WaitingNodeID)

	// The in-flight node finishes while paused; nothing new dispatches.
	openGate()
	collectUntil(t, sub, events.EventNodeCompleted)
	assert.Nil(t, f.store.nodeRecord(execution.ID, "after"))

	require.NoError(t, f.sched.ResumeExecution(ctx, execution.ID, nil))
	evs := collectUntil(t, sub, events.EventExecutionCompleted, events.EventExecutionFailed)
	assert.Equal(t, events.EventExecutionCompleted, evs[len(evs)-1].Type)

	final := f.store.get(execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Contains(t, final.OutputData, "after")
}

func TestStartExecutionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	versionID := f.seedFlow(
		[]map[string]interface{}{
			defNode("t", "trigger.start", nil),
			defNode("a", "test.emit", nil),
			defNode("b", "test.emit", nil),
		},
		[]map[string]interface{}{
			defEdge("t", "", "a"),
			defEdge("a", "", "b"),
			defEdge("b", "", "a"),
		},
	)
	execution := f.seedExecution(versionID, nil)

	// Cycle in the definition surfaces as a validation error.
	err := f.sched.StartExecution(ctx, execution.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)

	// Non-pending executions are refused.
	running := f.seedExecution(versionID, nil)
	running.Status = models.ExecutionStatusRunning
	f.store.put(running)
	assert.ErrorIs(t, f.sched.StartExecution(ctx, running.ID), errs.ErrStateConflict)

	assert.ErrorIs(t, f.sched.StartExecution(ctx, uuid.New()), errs.ErrNotFound)
}

func TestPauseRequiresLiveRun(t *testing.T) {
	f := newFixture(t)

	err := f.sched.PauseExecution(context.Background(), uuid.New(), models.PauseReasonManual)
	assert.ErrorIs(t, err, errs.ErrStateConflict)
}
