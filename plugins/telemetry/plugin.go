// Package telemetry records one trace span per execution and one child
// span per node dispatch.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowline-dev/flowline"
)

var _ flowline.Plugin = (*TelemetryPlugin)(nil)

type spanEntry struct {
	span      trace.Span
	createdAt time.Time
}

type executionCtxEntry struct {
	ctx       context.Context
	createdAt time.Time
}

type TelemetryPlugin struct {
	flowline.BasePlugin

	tracer        trace.Tracer
	mu            sync.Mutex
	spans         map[string]*spanEntry
	executionCtxs map[int64]*executionCtxEntry
	spanTTL       time.Duration
}

type TelemetryOption func(*TelemetryPlugin)

// WithSpanTTL bounds how long an unclosed span is kept. Spans outliving
// the TTL are ended with an error status; this guards against leaked
// entries when a process never sees the matching completion hook.
func WithSpanTTL(ttl time.Duration) TelemetryOption {
	return func(p *TelemetryPlugin) {
		p.spanTTL = ttl
	}
}

func New(tracer trace.Tracer, opts ...TelemetryOption) *TelemetryPlugin {
	if tracer == nil {
		tracer = otel.Tracer("flowline")
	}

	plugin := &TelemetryPlugin{
		BasePlugin:    flowline.NewBasePlugin("telemetry", flowline.PriorityHigh),
		tracer:        tracer,
		spans:         make(map[string]*spanEntry),
		executionCtxs: make(map[int64]*executionCtxEntry),
		spanTTL:       1 * time.Hour,
	}

	for _, opt := range opts {
		opt(plugin)
	}

	return plugin
}

func (p *TelemetryPlugin) OnRunStart(ctx context.Context, execution *flowline.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	spanName := fmt.Sprintf("execution.%s", execution.WorkflowID)
	executionCtx, span := p.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))

	span.SetAttributes(
		attribute.Int64("execution.id", execution.ID),
		attribute.String("execution.workflow_id", execution.WorkflowID),
		attribute.String("execution.trigger_event_id", execution.TriggerEventID),
	)

	now := time.Now()
	p.spans[executionSpanKey(execution.ID)] = &spanEntry{span: span, createdAt: now}
	p.executionCtxs[execution.ID] = &executionCtxEntry{ctx: executionCtx, createdAt: now}

	p.cleanupExpired()

	return nil
}

func (p *TelemetryPlugin) OnRunComplete(_ context.Context, execution *flowline.Execution) error {
	p.endExecutionSpan(execution, codes.Ok, "execution completed")

	return nil
}

func (p *TelemetryPlugin) OnRunFailed(_ context.Context, execution *flowline.Execution) error {
	p.endExecutionSpan(execution, codes.Error, "execution failed")

	return nil
}

func (p *TelemetryPlugin) endExecutionSpan(execution *flowline.Execution, code codes.Code, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := executionSpanKey(execution.ID)
	if entry, ok := p.spans[key]; ok {
		entry.span.SetAttributes(attribute.String("execution.status", string(execution.Status)))
		if execution.Error != nil {
			entry.span.SetAttributes(attribute.String("execution.error", *execution.Error))
		}
		entry.span.SetStatus(code, msg)
		entry.span.End()
		delete(p.spans, key)
	}
	delete(p.executionCtxs, execution.ID)
}

func (p *TelemetryPlugin) OnNodeStart(
	ctx context.Context,
	execution *flowline.Execution,
	run *flowline.NodeRun,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Link node spans under the execution span when we hold its context.
	nodeCtx := ctx
	if entry, ok := p.executionCtxs[execution.ID]; ok {
		nodeCtx = entry.ctx
	}

	spanName := fmt.Sprintf("node.%s", run.NodeID)
	_, span := p.tracer.Start(nodeCtx, spanName, trace.WithSpanKind(trace.SpanKindInternal))

	span.SetAttributes(
		attribute.Int64("node_run.id", run.ID),
		attribute.Int64("node_run.execution_id", run.ExecutionID),
		attribute.String("node_run.node_id", run.NodeID),
		attribute.String("node_run.node_type", string(run.NodeType)),
		attribute.Int("node_run.retry_count", run.RetryCount),
		attribute.String("execution.workflow_id", execution.WorkflowID),
	)

	p.spans[nodeSpanKey(run.ID)] = &spanEntry{span: span, createdAt: time.Now()}

	p.cleanupExpired()

	return nil
}

func (p *TelemetryPlugin) OnNodeComplete(
	_ context.Context,
	_ *flowline.Execution,
	run *flowline.NodeRun,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := nodeSpanKey(run.ID)
	if entry, ok := p.spans[key]; ok {
		entry.span.SetAttributes(attribute.Int("node_run.retry_count", run.RetryCount))
		entry.span.SetStatus(codes.Ok, "node completed")
		entry.span.End()
		delete(p.spans, key)
	}

	return nil
}

func (p *TelemetryPlugin) OnNodeFailed(
	_ context.Context,
	_ *flowline.Execution,
	run *flowline.NodeRun,
	err error,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := nodeSpanKey(run.ID)
	if entry, ok := p.spans[key]; ok {
		entry.span.SetAttributes(attribute.Int("node_run.retry_count", run.RetryCount))
		if err != nil {
			entry.span.RecordError(err)
		}
		entry.span.SetStatus(codes.Error, "node failed")
		entry.span.End()
		delete(p.spans, key)
	}

	return nil
}

func (p *TelemetryPlugin) cleanupExpired() {
	now := time.Now()

	for key, entry := range p.spans {
		if now.Sub(entry.createdAt) > p.spanTTL {
			entry.span.SetStatus(codes.Error, "span expired due to TTL")
			entry.span.End()
			delete(p.spans, key)
		}
	}

	for executionID, entry := range p.executionCtxs {
		if now.Sub(entry.createdAt) > p.spanTTL {
			delete(p.executionCtxs, executionID)
		}
	}
}

func executionSpanKey(executionID int64) string {
	return fmt.Sprintf("execution:%d", executionID)
}

func nodeSpanKey(nodeRunID int64) string {
	return fmt.Sprintf("node:%d", nodeRunID)
}
