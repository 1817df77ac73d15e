package flowline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxNodeRetries = 3
	defaultRetryDelay     = 5 * time.Second
)

// Engine is the execution run controller. It owns the whole lifecycle of a
// run: the idempotent Execution record, the ordering of the graph, the
// queue-driven fold over the ordered nodes and the terminal status. No
// other component writes Execution status.
type Engine struct {
	txManager     TxManager
	store         Store
	registry      *Registry
	publisher     StatusPublisher
	pluginManager *PluginManager
	env           *RunEnvironment

	maxNodeRetries int
	retryDelay     time.Duration
	retryStrategy  RetryStrategy
	nodeTimeout    time.Duration
}

func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	engine := &Engine{
		registry:       registry,
		publisher:      NewNopPublisher(),
		env:            NewRunEnvironment(nil),
		maxNodeRetries: DefaultMaxNodeRetries,
		retryDelay:     defaultRetryDelay,
		retryStrategy:  RetryStrategyExponential,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Start idempotently begins a run for one triggering event. Delivering the
// same (workflowID, triggerEventID) pair again returns the existing
// execution id without creating a second run.
func (engine *Engine) Start(
	ctx context.Context,
	workflowID string,
	triggerEventID string,
	initial RunContext,
) (int64, error) {
	var executionID int64

	err := engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		execution, created, err := engine.store.CreateExecution(ctx, workflowID, triggerEventID)
		if err != nil {
			return fmt.Errorf("create execution: %w", err)
		}

		executionID = execution.ID

		if !created {
			return nil
		}

		_ = engine.store.LogEvent(ctx, execution.ID, nil, EventExecutionStarted, map[string]any{
			KeyWorkflowID:     workflowID,
			KeyTriggerEventID: triggerEventID,
		})

		if engine.pluginManager != nil {
			if err := engine.pluginManager.ExecuteRunStart(ctx, execution); err != nil {
				return fmt.Errorf("run start hooks: %w", err)
			}
		}

		workflow, err := engine.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return engine.failExecution(ctx, execution, fmt.Errorf("load workflow: %w", err), nil)
		}

		ordered, err := OrderNodes(workflow.Nodes, workflow.Connections)
		if err != nil {
			// Cycles and dangling references are permanent: no node runs.
			return engine.failExecution(ctx, execution, err, nil)
		}

		input, err := initial.MarshalRaw()
		if err != nil {
			return engine.failExecution(ctx, execution, err, nil)
		}

		if len(ordered) == 0 {
			return engine.completeExecution(ctx, execution, input)
		}

		nodeOrder := make([]string, len(ordered))
		for i, node := range ordered {
			nodeOrder[i] = node.ID
		}

		if err := engine.store.UpdateExecutionPlan(ctx, execution.ID, nodeOrder); err != nil {
			return fmt.Errorf("update execution plan: %w", err)
		}

		return engine.enqueueNode(ctx, execution.ID, ordered[0], input)
	})
	if err != nil {
		return 0, err
	}

	return executionID, nil
}

// ExecuteNext dequeues one node step and runs it to a decision: success
// (enqueue the successor or finalize the run), retry, or permanent failure.
// It returns empty=true when the queue had nothing due.
func (engine *Engine) ExecuteNext(ctx context.Context, workerID string) (empty bool, err error) {
	err = engine.txManager.ReadCommitted(ctx, func(ctx context.Context) error {
		item, err := engine.store.Dequeue(ctx, workerID)
		if err != nil {
			return fmt.Errorf("dequeue: %w", err)
		}

		if item == nil {
			empty = true

			return nil
		}

		defer func() {
			_ = engine.store.RemoveFromQueue(ctx, item.ID)
		}()

		execution, err := engine.store.GetExecution(ctx, item.ExecutionID)
		if err != nil {
			return fmt.Errorf("get execution: %w", err)
		}

		run, err := engine.store.GetNodeRun(ctx, item.NodeRunID)
		if err != nil {
			return fmt.Errorf("get node run: %w", err)
		}

		return engine.executeNode(ctx, execution, run)
	})

	return empty, err
}

func (engine *Engine) executeNode(ctx context.Context, execution *Execution, run *NodeRun) error {
	workflow, err := engine.store.GetWorkflow(ctx, execution.WorkflowID)
	if err != nil {
		return engine.failNode(ctx, execution, run, fmt.Errorf("load workflow: %w", err))
	}

	node, ok := findNode(workflow.Nodes, run.NodeID)
	if !ok {
		return engine.failNode(ctx, execution, run,
			NonRetriable(fmt.Errorf("node %s no longer belongs to workflow %s", run.NodeID, workflow.ID)))
	}

	executor, err := engine.registry.Executor(node.Type)
	if err != nil {
		// A hole in the registry is a programming error, not a user error.
		return engine.failNode(ctx, execution, run, NonRetriable(err))
	}

	if err := engine.store.UpdateNodeRun(ctx, run.ID, NodeRunStatusRunning, nil, nil); err != nil {
		return fmt.Errorf("update node run: %w", err)
	}

	_ = engine.store.LogEvent(ctx, execution.ID, &run.ID, EventNodeStarted, map[string]any{
		KeyNodeID:   run.NodeID,
		KeyNodeType: node.Type,
	})

	if engine.pluginManager != nil {
		engine.pluginManager.ExecuteNodeStart(ctx, execution, run)
	}

	engine.publishStatus(ctx, execution.ID, node, NodeStatusLoading)

	rc, err := UnmarshalRunContext(run.Input)
	if err != nil {
		return engine.failNode(ctx, execution, run, NonRetriable(err))
	}

	nodeCtx := NodeContext{
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		UserID:      workflow.UserID,
		NodeID:      node.ID,
		Config:      node.Config,
		Attempt:     run.RetryCount,
		Env:         engine.env,
	}

	execCtx := ctx
	if engine.nodeTimeout != 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, engine.nodeTimeout)
		defer cancel()
	}

	out, execErr := executor.Execute(execCtx, nodeCtx, rc)
	if execErr != nil {
		return engine.handleNodeFailure(ctx, execution, run, node, execErr)
	}

	return engine.handleNodeSuccess(ctx, execution, workflow, run, node, rc.Merge(out))
}

func (engine *Engine) handleNodeSuccess(
	ctx context.Context,
	execution *Execution,
	workflow *Workflow,
	run *NodeRun,
	node Node,
	merged RunContext,
) error {
	output, err := merged.MarshalRaw()
	if err != nil {
		return engine.failNode(ctx, execution, run, NonRetriable(err))
	}

	if err := engine.store.UpdateNodeRun(ctx, run.ID, NodeRunStatusCompleted, output, nil); err != nil {
		return fmt.Errorf("update node run: %w", err)
	}

	_ = engine.store.LogEvent(ctx, execution.ID, &run.ID, EventNodeCompleted, map[string]any{
		KeyNodeID: run.NodeID,
	})

	if engine.pluginManager != nil {
		engine.pluginManager.ExecuteNodeComplete(ctx, execution, run)
	}

	engine.publishStatus(ctx, execution.ID, node, NodeStatusSuccess)

	nextID, last := successorOf(execution.NodeOrder, run.NodeID)
	if last {
		return engine.completeExecution(ctx, execution, output)
	}

	next, ok := findNode(workflow.Nodes, nextID)
	if !ok {
		return engine.failNode(ctx, execution, run,
			NonRetriable(fmt.Errorf("node %s no longer belongs to workflow %s", nextID, workflow.ID)))
	}

	return engine.enqueueNode(ctx, execution.ID, next, output)
}

func (engine *Engine) handleNodeFailure(
	ctx context.Context,
	execution *Execution,
	run *NodeRun,
	node Node,
	execErr error,
) error {
	if !IsNonRetriable(execErr) && run.RetryCount < run.MaxRetries {
		errMsg := execErr.Error()
		if err := engine.store.UpdateNodeRun(ctx, run.ID, NodeRunStatusFailed, nil, &errMsg); err != nil {
			return fmt.Errorf("update node run: %w", err)
		}

		_ = engine.store.LogEvent(ctx, execution.ID, &run.ID, EventNodeRetry, map[string]any{
			KeyNodeID:     run.NodeID,
			KeyRetryCount: run.RetryCount + 1,
			KeyError:      errMsg,
		})

		delay := CalculateRetryDelay(engine.retryStrategy, engine.retryDelay, run.RetryCount+1)

		return engine.store.EnqueueNodeRun(ctx, execution.ID, run.ID, delay)
	}

	engine.publishStatus(ctx, execution.ID, node, NodeStatusError)

	return engine.failNode(ctx, execution, run, execErr)
}

// failNode records a permanent node failure and moves the whole execution
// to Failed. No further nodes execute.
func (engine *Engine) failNode(ctx context.Context, execution *Execution, run *NodeRun, execErr error) error {
	errMsg := execErr.Error()

	if err := engine.store.UpdateNodeRun(ctx, run.ID, NodeRunStatusFailed, nil, &errMsg); err != nil {
		return fmt.Errorf("update node run: %w", err)
	}

	_ = engine.store.LogEvent(ctx, execution.ID, &run.ID, EventNodeFailed, map[string]any{
		KeyNodeID: run.NodeID,
		KeyError:  errMsg,
	})

	if engine.pluginManager != nil {
		engine.pluginManager.ExecuteNodeFailed(ctx, execution, run, execErr)
	}

	return engine.failExecution(ctx, execution, execErr, stackOf(execErr))
}

func (engine *Engine) failExecution(ctx context.Context, execution *Execution, execErr error, stack *string) error {
	errMsg := execErr.Error()

	err := engine.store.UpdateExecutionStatus(ctx, execution.ID, StatusFailed, nil, &errMsg, stack)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}

	_ = engine.store.LogEvent(ctx, execution.ID, nil, EventExecutionFailed, map[string]any{
		KeyError: errMsg,
	})

	if engine.pluginManager != nil {
		engine.pluginManager.ExecuteRunFailed(ctx, execution)
	}

	return nil
}

func (engine *Engine) completeExecution(ctx context.Context, execution *Execution, output []byte) error {
	err := engine.store.UpdateExecutionStatus(ctx, execution.ID, StatusCompleted, output, nil, nil)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}

	_ = engine.store.LogEvent(ctx, execution.ID, nil, EventExecutionCompleted, nil)

	if engine.pluginManager != nil {
		engine.pluginManager.ExecuteRunComplete(ctx, execution)
	}

	return nil
}

func (engine *Engine) enqueueNode(ctx context.Context, executionID int64, node Node, input []byte) error {
	run := &NodeRun{
		ExecutionID: executionID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      NodeRunStatusPending,
		Input:       input,
		MaxRetries:  engine.maxNodeRetries,
	}

	if err := engine.store.CreateNodeRun(ctx, run); err != nil {
		return fmt.Errorf("create node run: %w", err)
	}

	if err := engine.store.EnqueueNodeRun(ctx, executionID, run.ID, 0); err != nil {
		return fmt.Errorf("enqueue node run: %w", err)
	}

	return nil
}

// publishStatus is strictly fire-and-forget: a broken observer channel must
// never affect the run's outcome.
func (engine *Engine) publishStatus(ctx context.Context, executionID int64, node Node, status NodeStatus) {
	event := StatusEvent{
		ExecutionID: executionID,
		NodeID:      node.ID,
		Status:      status,
	}

	if err := engine.publisher.Publish(ctx, node.Type.Family(), event); err != nil {
		slog.Debug("status publish failed", "node_id", node.ID, "error", err)
	}
}

func findNode(nodes []Node, id string) (Node, bool) {
	for _, node := range nodes {
		if node.ID == id {
			return node, true
		}
	}

	return Node{}, false
}

func successorOf(order []string, nodeID string) (string, bool) {
	for i, id := range order {
		if id == nodeID {
			if i == len(order)-1 {
				return "", true
			}

			return order[i+1], false
		}
	}

	return "", true
}

func stackOf(err error) *string {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return &panicErr.Stack
	}

	return nil
}
