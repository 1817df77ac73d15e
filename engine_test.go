package flowline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// visitRecorder tracks which nodes actually executed, in order.
type visitRecorder struct {
	mu      sync.Mutex
	visited []string
}

func (r *visitRecorder) record(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.visited = append(r.visited, nodeID)
}

func (r *visitRecorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.visited...)
}

// testRegistry builds an exhaustive registry where http_request nodes run
// fn and every other type passes through.
func testRegistry(t *testing.T, fn func(ctx context.Context, nodeCtx NodeContext, rc RunContext) (RunContext, error)) *Registry {
	t.Helper()

	var execs []NodeExecutor
	for _, nodeType := range AllNodeTypes() {
		if nodeType == NodeTypeHTTPRequest {
			execs = append(execs, NodeExecutorFunc{NodeType: nodeType, Fn: fn})

			continue
		}
		execs = append(execs, stubExecutor(nodeType))
	}

	registry, err := NewRegistry(execs...)
	require.NoError(t, err)

	return registry
}

func newTestEngine(t *testing.T, store Store, registry *Registry, opts ...EngineOption) *Engine {
	t.Helper()

	base := []EngineOption{
		WithEngineStore(store),
		WithEngineTxManager(NewMemoryTxManager()),
		WithMaxNodeRetries(0),
		WithRetryDelay(RetryStrategyFixed, 0),
	}

	return NewEngine(registry, append(base, opts...)...)
}

func drainQueue(t *testing.T, engine *Engine) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		empty, err := engine.ExecuteNext(ctx, "test-worker")
		require.NoError(t, err)
		if empty {
			return
		}
	}

	t.Fatal("queue did not drain after 100 steps")
}

func saveLinearWorkflow(t *testing.T, store Store, workflowID string, nodeIDs ...string) {
	t.Helper()

	wf := &Workflow{ID: workflowID, UserID: "user-1", Name: "test"}
	for _, id := range nodeIDs {
		wf.Nodes = append(wf.Nodes, Node{ID: id, WorkflowID: workflowID, Type: NodeTypeHTTPRequest})
	}
	for i := 0; i+1 < len(nodeIDs); i++ {
		wf.Connections = append(wf.Connections, Connection{FromNodeID: nodeIDs[i], ToNodeID: nodeIDs[i+1]})
	}

	require.NoError(t, store.SaveWorkflow(context.Background(), wf))
}

func TestEngine_LinearRunCompletes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	recorder := &visitRecorder{}

	registry := testRegistry(t, func(_ context.Context, nodeCtx NodeContext, _ RunContext) (RunContext, error) {
		recorder.record(nodeCtx.NodeID)

		return RunContext{nodeCtx.NodeID: "done"}, nil
	})

	engine := newTestEngine(t, store, registry)
	saveLinearWorkflow(t, store, "wf-1", "a", "b", "c")

	executionID, err := engine.Start(ctx, "wf-1", "evt-1", RunContext{"seed": "x"})
	require.NoError(t, err)

	drainQueue(t, engine)

	assert.Equal(t, []string{"a", "b", "c"}, recorder.order())

	execution, err := store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, execution.Status)
	assert.Nil(t, execution.Error)
	require.NotNil(t, execution.CompletedAt)

	// Output is the full fold: seed plus every node's contribution.
	out, err := UnmarshalRunContext(execution.Output)
	require.NoError(t, err)
	assert.Equal(t, "x", out["seed"])
	assert.Equal(t, "done", out["a"])
	assert.Equal(t, "done", out["c"])

	runs, err := store.ListNodeRuns(ctx, executionID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, run := range runs {
		assert.Equal(t, NodeRunStatusCompleted, run.Status)
	}
}

func TestEngine_ConfigErrorFailsRunAndHaltsChain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	recorder := &visitRecorder{}

	registry := testRegistry(t, func(_ context.Context, nodeCtx NodeContext, _ RunContext) (RunContext, error) {
		recorder.record(nodeCtx.NodeID)
		if nodeCtx.NodeID == "b" {
			return nil, MissingConfigError("endpoint")
		}

		return nil, nil
	})

	engine := newTestEngine(t, store, registry)
	saveLinearWorkflow(t, store, "wf-1", "a", "b", "c")

	executionID, err := engine.Start(ctx, "wf-1", "evt-1", nil)
	require.NoError(t, err)

	drainQueue(t, engine)

	// c is never dispatched.
	assert.Equal(t, []string{"a", "b"}, recorder.order())

	execution, err := store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, execution.Status)
	assert.Nil(t, execution.Output)
	require.NotNil(t, execution.Error)
	assert.Contains(t, *execution.Error, "endpoint")

	runs, err := store.ListNodeRuns(ctx, executionID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, NodeRunStatusFailed, runs[1].Status)
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	recorder := &visitRecorder{}

	registry := testRegistry(t, func(_ context.Context, nodeCtx NodeContext, _ RunContext) (RunContext, error) {
		recorder.record(nodeCtx.NodeID)

		return nil, nil
	})

	engine := newTestEngine(t, store, registry)
	saveLinearWorkflow(t, store, "wf-1", "a", "b")

	firstID, err := engine.Start(ctx, "wf-1", "evt-1", nil)
	require.NoError(t, err)

	secondID, err := engine.Start(ctx, "wf-1", "evt-1", nil)
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	drainQueue(t, engine)

	// Each node still ran exactly once.
	assert.Equal(t, []string{"a", "b"}, recorder.order())

	executions, err := store.ListExecutions(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	// A different event id does start a second run.
	thirdID, err := engine.Start(ctx, "wf-1", "evt-2", nil)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, thirdID)
}

func TestEngine_CycleFailsBeforeAnyDispatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	recorder := &visitRecorder{}

	registry := testRegistry(t, func(_ context.Context, nodeCtx NodeContext, _ RunContext) (RunContext, error) {
		recorder.record(nodeCtx.NodeID)

		return nil, nil
	})

	engine := newTestEngine(t, store, registry)

	wf := &Workflow{
		ID:     "wf-cycle",
		UserID: "user-1",
		Name:   "cyclic",
		Nodes: []Node{
			{ID: "a", Type: NodeTypeHTTPRequest},
			{ID: "b", Type: NodeTypeHTTPRequest},
		},
		Connections: []Connection{
			{FromNodeID: "a", ToNodeID: "b"},
			{FromNodeID: "b", ToNodeID: "a"},
		},
	}
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	executionID, err := engine.Start(ctx, "wf-cycle", "evt-1", nil)
	require.NoError(t, err)

	drainQueue(t, engine)

	assert.Empty(t, recorder.order())

	execution, err := store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Contains(t, *execution.Error, "cycle")

	runs, err := store.ListNodeRuns(ctx, executionID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEngine_TransientErrorRetriesWithinBudget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var attempts int
	registry := testRegistry(t, func(_ context.Context, _ NodeContext, _ RunContext) (RunContext, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset")
		}

		return RunContext{"result": "ok"}, nil
	})

	engine := newTestEngine(t, store, registry, WithMaxNodeRetries(3))
	saveLinearWorkflow(t, store, "wf-1", "a")

	executionID, err := engine.Start(ctx, "wf-1", "evt-1", nil)
	require.NoError(t, err)

	drainQueue(t, engine)

	assert.Equal(t, 3, attempts)

	execution, err := store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, execution.Status)

	runs, err := store.ListNodeRuns(ctx, executionID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, NodeRunStatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].RetryCount)
}

func TestEngine_TransientErrorExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var attempts int
	registry := testRegistry(t, func(_ context.Context, _ NodeContext, _ RunContext) (RunContext, error) {
		attempts++

		return nil, errors.New("connection reset")
	})

	engine := newTestEngine(t, store, registry, WithMaxNodeRetries(2))
	saveLinearWorkflow(t, store, "wf-1", "a")

	executionID, err := engine.Start(ctx, "wf-1", "evt-1", nil)
	require.NoError(t, err)

	drainQueue(t, engine)

	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)

	execution, err := store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, execution.Status)
}

func TestEngine_EmptyWorkflowCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	registry := testRegistry(t, func(_ context.Context, _ NodeContext, _ RunContext) (RunContext, error) {
		return nil, nil
	})

	engine := newTestEngine(t, store, registry)

	require.NoError(t, store.SaveWorkflow(ctx, &Workflow{ID: "wf-empty", UserID: "u", Name: "empty"}))

	executionID, err := engine.Start(ctx, "wf-empty", "evt-1", RunContext{"seed": "x"})
	require.NoError(t, err)

	execution, err := store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, execution.Status)

	out, err := UnmarshalRunContext(execution.Output)
	require.NoError(t, err)
	assert.Equal(t, "x", out["seed"])
}

func TestEngine_MissingWorkflowFailsRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	registry := testRegistry(t, func(_ context.Context, _ NodeContext, _ RunContext) (RunContext, error) {
		return nil, nil
	})

	engine := newTestEngine(t, store, registry)

	executionID, err := engine.Start(ctx, "wf-missing", "evt-1", nil)
	require.NoError(t, err)

	execution, err := store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, execution.Status)
}

func TestEngine_PanicRecordsStack(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	registry := testRegistry(t, func(_ context.Context, _ NodeContext, _ RunContext) (RunContext, error) {
		panic("executor bug")
	})

	engine := newTestEngine(t, store, registry)
	saveLinearWorkflow(t, store, "wf-1", "a")

	executionID, err := engine.Start(ctx, "wf-1", "evt-1", nil)
	require.NoError(t, err)

	drainQueue(t, engine)

	execution, err := store.GetExecution(ctx, executionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Contains(t, *execution.Error, "executor bug")
	require.NotNil(t, execution.ErrorStack)
	assert.NotEmpty(t, *execution.ErrorStack)
}

func TestEngine_PublishesNodeStatuses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	publisher := NewMemoryPublisher()

	registry := testRegistry(t, func(_ context.Context, nodeCtx NodeContext, _ RunContext) (RunContext, error) {
		if nodeCtx.NodeID == "b" {
			return nil, MissingConfigError("endpoint")
		}

		return nil, nil
	})

	engine := newTestEngine(t, store, registry, WithEnginePublisher(publisher))
	saveLinearWorkflow(t, store, "wf-1", "a", "b")

	executionID, err := engine.Start(ctx, "wf-1", "evt-1", nil)
	require.NoError(t, err)

	events, cancel := publisher.Subscribe(executionID)
	defer cancel()

	drainQueue(t, engine)

	var statuses []NodeStatus
	for len(events) > 0 {
		statuses = append(statuses, (<-events).Status)
	}

	assert.Equal(t, []NodeStatus{
		NodeStatusLoading, NodeStatusSuccess,
		NodeStatusLoading, NodeStatusError,
	}, statuses)
}
