package flowline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type PluginPriority int

const (
	PriorityLow    PluginPriority = 0
	PriorityNormal PluginPriority = 50
	PriorityHigh   PluginPriority = 100
)

// Plugin hooks into the run and node lifecycle. Start hooks may veto the
// run by returning an error; completion hooks are observational and their
// errors are only logged.
type Plugin interface {
	// Name returns unique plugin identifier
	Name() string

	// Priority determines execution order (higher = earlier)
	Priority() PluginPriority

	OnRunStart(ctx context.Context, execution *Execution) error
	OnRunComplete(ctx context.Context, execution *Execution) error
	OnRunFailed(ctx context.Context, execution *Execution) error
	OnNodeStart(ctx context.Context, execution *Execution, run *NodeRun) error
	OnNodeComplete(ctx context.Context, execution *Execution, run *NodeRun) error
	OnNodeFailed(ctx context.Context, execution *Execution, run *NodeRun, err error) error
}

// BasePlugin provides default no-op implementations
type BasePlugin struct {
	name     string
	priority PluginPriority
}

func NewBasePlugin(name string, priority PluginPriority) BasePlugin {
	return BasePlugin{name: name, priority: priority}
}

func (p BasePlugin) Name() string             { return p.name }
func (p BasePlugin) Priority() PluginPriority { return p.priority }
func (p BasePlugin) OnRunStart(context.Context, *Execution) error {
	return nil
}
func (p BasePlugin) OnRunComplete(context.Context, *Execution) error {
	return nil
}
func (p BasePlugin) OnRunFailed(context.Context, *Execution) error {
	return nil
}
func (p BasePlugin) OnNodeStart(context.Context, *Execution, *NodeRun) error    { return nil }
func (p BasePlugin) OnNodeComplete(context.Context, *Execution, *NodeRun) error { return nil }
func (p BasePlugin) OnNodeFailed(context.Context, *Execution, *NodeRun, error) error {
	return nil
}

// PluginManager manages plugin lifecycle
type PluginManager struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewPluginManager() *PluginManager {
	return &PluginManager{
		plugins: make([]Plugin, 0),
	}
}

func (pm *PluginManager) Register(plugin Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.plugins = append(pm.plugins, plugin)

	sort.Slice(pm.plugins, func(i, j int) bool {
		return pm.plugins[i].Priority() > pm.plugins[j].Priority()
	})
}

func (pm *PluginManager) ExecuteRunStart(ctx context.Context, execution *Execution) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnRunStart(ctx, execution); err != nil {
			return fmt.Errorf("plugin %s failed: %w", plugin.Name(), err)
		}
	}

	return nil
}

func (pm *PluginManager) ExecuteRunComplete(ctx context.Context, execution *Execution) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnRunComplete(ctx, execution); err != nil {
			slog.Error("plugin error on run complete", "plugin", plugin.Name(), "error", err)
		}
	}
}

func (pm *PluginManager) ExecuteRunFailed(ctx context.Context, execution *Execution) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnRunFailed(ctx, execution); err != nil {
			slog.Error("plugin error on run failed", "plugin", plugin.Name(), "error", err)
		}
	}
}

func (pm *PluginManager) ExecuteNodeStart(ctx context.Context, execution *Execution, run *NodeRun) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnNodeStart(ctx, execution, run); err != nil {
			slog.Error("plugin error on node start", "plugin", plugin.Name(), "error", err)
		}
	}
}

func (pm *PluginManager) ExecuteNodeComplete(ctx context.Context, execution *Execution, run *NodeRun) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnNodeComplete(ctx, execution, run); err != nil {
			slog.Error("plugin error on node complete", "plugin", plugin.Name(), "error", err)
		}
	}
}

func (pm *PluginManager) ExecuteNodeFailed(ctx context.Context, execution *Execution, run *NodeRun, nodeErr error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, plugin := range pm.plugins {
		if err := plugin.OnNodeFailed(ctx, execution, run, nodeErr); err != nil {
			slog.Error("plugin error on node failed", "plugin", plugin.Name(), "error", err)
		}
	}
}
