// Package metrics exposes execution and node run counters and latency
// histograms through a plugin attached to the engine lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flowline-dev/flowline"
)

type PrometheusCollector struct {
	executionStarted  *prometheus.CounterVec
	executionFinished *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	nodeStarted   *prometheus.CounterVec
	nodeCompleted *prometheus.CounterVec
	nodeFailed    *prometheus.CounterVec
	nodeRetried   *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
}

func NewPrometheusCollector(registry prometheus.Registerer) *PrometheusCollector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &PrometheusCollector{
		executionStarted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_execution_started_total",
				Help: "Total number of executions started",
			},
			[]string{"workflow_id"},
		),
		executionFinished: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_execution_finished_total",
				Help: "Total number of executions that reached a terminal status",
			},
			[]string{"workflow_id", "status"},
		),
		executionDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowline_execution_duration_seconds",
				Help:    "Duration of executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_id", "status"},
		),
		nodeStarted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_node_started_total",
				Help: "Total number of node dispatches started",
			},
			[]string{"workflow_id", "node_type"},
		),
		nodeCompleted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_node_completed_total",
				Help: "Total number of completed node dispatches",
			},
			[]string{"workflow_id", "node_type"},
		),
		nodeFailed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_node_failed_total",
				Help: "Total number of failed node dispatches",
			},
			[]string{"workflow_id", "node_type"},
		),
		nodeRetried: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowline_node_retried_total",
				Help: "Total number of node dispatch retries",
			},
			[]string{"workflow_id", "node_type"},
		),
		nodeDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowline_node_duration_seconds",
				Help:    "Duration of node dispatches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_id", "node_type"},
		),
	}
}

func (c *PrometheusCollector) RecordExecutionStarted(workflowID string) {
	c.executionStarted.WithLabelValues(workflowID).Inc()
}

func (c *PrometheusCollector) RecordExecutionFinished(
	workflowID string,
	status flowline.ExecutionStatus,
	duration time.Duration,
) {
	c.executionFinished.WithLabelValues(workflowID, string(status)).Inc()
	c.executionDuration.WithLabelValues(workflowID, string(status)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordNodeStarted(workflowID string, nodeType flowline.NodeType) {
	c.nodeStarted.WithLabelValues(workflowID, string(nodeType)).Inc()
}

func (c *PrometheusCollector) RecordNodeCompleted(
	workflowID string,
	nodeType flowline.NodeType,
	duration time.Duration,
) {
	c.nodeCompleted.WithLabelValues(workflowID, string(nodeType)).Inc()
	c.nodeDuration.WithLabelValues(workflowID, string(nodeType)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordNodeFailed(
	workflowID string,
	nodeType flowline.NodeType,
	duration time.Duration,
) {
	c.nodeFailed.WithLabelValues(workflowID, string(nodeType)).Inc()
	c.nodeDuration.WithLabelValues(workflowID, string(nodeType)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordNodeRetried(workflowID string, nodeType flowline.NodeType) {
	c.nodeRetried.WithLabelValues(workflowID, string(nodeType)).Inc()
}
