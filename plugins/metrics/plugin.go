package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/flowline-dev/flowline"
)

var _ flowline.Plugin = (*MetricsPlugin)(nil)

type MetricsPlugin struct {
	flowline.BasePlugin

	collector           Collector
	executionStartTimes map[int64]time.Time
	nodeStartTimes      map[int64]time.Time
	mu                  sync.Mutex
}

func New(collector Collector) *MetricsPlugin {
	return &MetricsPlugin{
		BasePlugin:          flowline.NewBasePlugin("metrics", flowline.PriorityHigh),
		collector:           collector,
		executionStartTimes: make(map[int64]time.Time),
		nodeStartTimes:      make(map[int64]time.Time),
	}
}

func (p *MetricsPlugin) OnRunStart(_ context.Context, execution *flowline.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.executionStartTimes[execution.ID] = time.Now()

	if p.collector != nil {
		p.collector.RecordExecutionStarted(execution.WorkflowID)
	}

	return nil
}

func (p *MetricsPlugin) OnRunComplete(_ context.Context, execution *flowline.Execution) error {
	return p.finishExecution(execution, flowline.StatusCompleted)
}

func (p *MetricsPlugin) OnRunFailed(_ context.Context, execution *flowline.Execution) error {
	return p.finishExecution(execution, flowline.StatusFailed)
}

func (p *MetricsPlugin) finishExecution(execution *flowline.Execution, status flowline.ExecutionStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime, ok := p.executionStartTimes[execution.ID]
	if !ok {
		return nil
	}

	duration := time.Since(startTime)
	delete(p.executionStartTimes, execution.ID)

	if p.collector != nil {
		p.collector.RecordExecutionFinished(execution.WorkflowID, status, duration)
	}

	return nil
}

func (p *MetricsPlugin) OnNodeStart(
	_ context.Context,
	execution *flowline.Execution,
	run *flowline.NodeRun,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nodeStartTimes[run.ID] = time.Now()

	if p.collector != nil {
		p.collector.RecordNodeStarted(execution.WorkflowID, run.NodeType)
		if run.RetryCount > 0 {
			p.collector.RecordNodeRetried(execution.WorkflowID, run.NodeType)
		}
	}

	return nil
}

func (p *MetricsPlugin) OnNodeComplete(
	_ context.Context,
	execution *flowline.Execution,
	run *flowline.NodeRun,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime, ok := p.nodeStartTimes[run.ID]
	if !ok {
		return nil
	}

	duration := time.Since(startTime)
	delete(p.nodeStartTimes, run.ID)

	if p.collector != nil {
		p.collector.RecordNodeCompleted(execution.WorkflowID, run.NodeType, duration)
	}

	return nil
}

func (p *MetricsPlugin) OnNodeFailed(
	_ context.Context,
	execution *flowline.Execution,
	run *flowline.NodeRun,
	_ error,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime, ok := p.nodeStartTimes[run.ID]
	if !ok {
		return nil
	}

	duration := time.Since(startTime)
	delete(p.nodeStartTimes, run.ID)

	if p.collector != nil {
		p.collector.RecordNodeFailed(execution.WorkflowID, run.NodeType, duration)
	}

	return nil
}
