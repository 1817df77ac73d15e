package flowline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
)

// NodeContext carries everything an executor may need beyond the run
// context itself: the node's identity and stored configuration, the run it
// belongs to, the owning user, the attempt number and the injected
// environment of external clients.
type NodeContext struct {
	ExecutionID int64
	WorkflowID  string
	UserID      string
	NodeID      string
	Config      map[string]any
	Attempt     int
	Env         *RunEnvironment
}

// ConfigString fetches a string config field, "" when absent.
func (c NodeContext) ConfigString(key string) string {
	val, _ := c.Config[key].(string)

	return val
}

// NodeExecutor is the single extension point for node kinds. Execute
// receives the context produced by the predecessor node and returns the
// updated mapping to merge into it (new keys overwrite, the rest persist).
//
// Executors signal a permanent problem with a *ConfigError or a
// NonRetriable wrap; any other error is treated as transient and retried.
type NodeExecutor interface {
	Type() NodeType
	Execute(ctx context.Context, nodeCtx NodeContext, rc RunContext) (RunContext, error)
}

// NodeExecutorFunc adapts a function to the NodeExecutor interface.
type NodeExecutorFunc struct {
	NodeType NodeType
	Fn       func(ctx context.Context, nodeCtx NodeContext, rc RunContext) (RunContext, error)
}

func (f NodeExecutorFunc) Type() NodeType { return f.NodeType }

func (f NodeExecutorFunc) Execute(ctx context.Context, nodeCtx NodeContext, rc RunContext) (RunContext, error) {
	return f.Fn(ctx, nodeCtx, rc)
}

// Registry is the closed, total mapping from node type to executor.
// NewRegistry fails when the mapping is not exhaustive over AllNodeTypes,
// so a missing executor surfaces at startup rather than mid-run.
type Registry struct {
	executors map[NodeType]NodeExecutor
}

func NewRegistry(executors ...NodeExecutor) (*Registry, error) {
	byType := make(map[NodeType]NodeExecutor, len(executors))
	for _, exec := range executors {
		if _, dup := byType[exec.Type()]; dup {
			return nil, fmt.Errorf("duplicate executor for node type %q", exec.Type())
		}

		byType[exec.Type()] = wrapPanicExecutor(exec)
	}

	var missing []string
	for _, t := range AllNodeTypes() {
		if _, ok := byType[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)

		return nil, fmt.Errorf("no executor registered for node types: %s", strings.Join(missing, ", "))
	}

	return &Registry{executors: byType}, nil
}

// MustRegistry is NewRegistry for wiring code where an incomplete mapping
// is a programming error.
func MustRegistry(executors ...NodeExecutor) *Registry {
	registry, err := NewRegistry(executors...)
	if err != nil {
		panic(err)
	}

	return registry
}

func (r *Registry) Executor(t NodeType) (NodeExecutor, error) {
	exec, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for node type %q", t)
	}

	return exec, nil
}

type noPanicExecutor struct {
	executor NodeExecutor
}

func wrapPanicExecutor(executor NodeExecutor) NodeExecutor {
	return &noPanicExecutor{executor: executor}
}

func (e *noPanicExecutor) Type() NodeType { return e.executor.Type() }

func (e *noPanicExecutor) Execute(
	ctx context.Context,
	nodeCtx NodeContext,
	rc RunContext,
) (out RunContext, errRes error) {
	defer func() {
		if r := recover(); r != nil {
			errRes = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()

	return e.executor.Execute(ctx, nodeCtx, rc)
}
