package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline"
)

type recordingCollector struct {
	mu       sync.Mutex
	started  int
	finished map[flowline.ExecutionStatus]int
	nodes    map[string]int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{
		finished: make(map[flowline.ExecutionStatus]int),
		nodes:    make(map[string]int),
	}
}

func (c *recordingCollector) RecordExecutionStarted(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
}

func (c *recordingCollector) RecordExecutionFinished(_ string, status flowline.ExecutionStatus, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished[status]++
}

func (c *recordingCollector) RecordNodeStarted(string, flowline.NodeType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes["started"]++
}

func (c *recordingCollector) RecordNodeCompleted(string, flowline.NodeType, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes["completed"]++
}

func (c *recordingCollector) RecordNodeFailed(string, flowline.NodeType, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes["failed"]++
}

func (c *recordingCollector) RecordNodeRetried(string, flowline.NodeType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes["retried"]++
}

func TestMetricsPlugin_ExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	collector := newRecordingCollector()
	plugin := New(collector)

	execution := &flowline.Execution{ID: 1, WorkflowID: "wf-1"}

	require.NoError(t, plugin.OnRunStart(ctx, execution))
	require.NoError(t, plugin.OnRunComplete(ctx, execution))

	assert.Equal(t, 1, collector.started)
	assert.Equal(t, 1, collector.finished[flowline.StatusCompleted])

	// Completion without a matching start is ignored.
	require.NoError(t, plugin.OnRunComplete(ctx, &flowline.Execution{ID: 2, WorkflowID: "wf-1"}))
	assert.Equal(t, 1, collector.finished[flowline.StatusCompleted])
}

func TestMetricsPlugin_NodeLifecycle(t *testing.T) {
	ctx := context.Background()
	collector := newRecordingCollector()
	plugin := New(collector)

	execution := &flowline.Execution{ID: 1, WorkflowID: "wf-1"}
	run := &flowline.NodeRun{ID: 10, ExecutionID: 1, NodeID: "a", NodeType: flowline.NodeTypeHTTPRequest}

	require.NoError(t, plugin.OnNodeStart(ctx, execution, run))
	require.NoError(t, plugin.OnNodeComplete(ctx, execution, run))

	retriedRun := &flowline.NodeRun{ID: 11, ExecutionID: 1, NodeID: "a", NodeType: flowline.NodeTypeHTTPRequest, RetryCount: 1}
	require.NoError(t, plugin.OnNodeStart(ctx, execution, retriedRun))
	require.NoError(t, plugin.OnNodeFailed(ctx, execution, retriedRun, assert.AnError))

	assert.Equal(t, 2, collector.nodes["started"])
	assert.Equal(t, 1, collector.nodes["completed"])
	assert.Equal(t, 1, collector.nodes["failed"])
	assert.Equal(t, 1, collector.nodes["retried"])
}

func TestPrometheusCollector_RegistersCleanly(t *testing.T) {
	registry := prometheus.NewRegistry()

	collector := NewPrometheusCollector(registry)
	collector.RecordExecutionStarted("wf-1")
	collector.RecordExecutionFinished("wf-1", flowline.StatusCompleted, time.Second)
	collector.RecordNodeStarted("wf-1", flowline.NodeTypeHTTPRequest)
	collector.RecordNodeCompleted("wf-1", flowline.NodeTypeHTTPRequest, time.Millisecond)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
