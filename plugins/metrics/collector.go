package metrics

import (
	"time"

	"github.com/flowline-dev/flowline"
)

// Collector abstracts the metrics backend so the plugin can be tested
// without a live Prometheus registry.
type Collector interface {
	RecordExecutionStarted(workflowID string)
	RecordExecutionFinished(workflowID string, status flowline.ExecutionStatus, duration time.Duration)

	RecordNodeStarted(workflowID string, nodeType flowline.NodeType)
	RecordNodeCompleted(workflowID string, nodeType flowline.NodeType, duration time.Duration)
	RecordNodeFailed(workflowID string, nodeType flowline.NodeType, duration time.Duration)
	RecordNodeRetried(workflowID string, nodeType flowline.NodeType)
}
