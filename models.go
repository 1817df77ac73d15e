package flowline

import (
	"encoding/json"
	"time"
)

type NodeType string

const (
	NodeTypeInitial        NodeType = "initial"
	NodeTypeManualTrigger  NodeType = "manual_trigger"
	NodeTypeWebhookTrigger NodeType = "webhook_trigger"
	NodeTypeCronTrigger    NodeType = "cron_trigger"
	NodeTypeFormTrigger    NodeType = "form_trigger"
	NodeTypeHTTPRequest    NodeType = "http_request"
	NodeTypeOpenAI         NodeType = "openai"
	NodeTypeAnthropic      NodeType = "anthropic"
	NodeTypeGemini         NodeType = "gemini"
)

// AllNodeTypes is the closed enumeration the executor registry is
// validated against at construction time.
func AllNodeTypes() []NodeType {
	return []NodeType{
		NodeTypeInitial,
		NodeTypeManualTrigger,
		NodeTypeWebhookTrigger,
		NodeTypeCronTrigger,
		NodeTypeFormTrigger,
		NodeTypeHTTPRequest,
		NodeTypeOpenAI,
		NodeTypeAnthropic,
		NodeTypeGemini,
	}
}

// Family groups node types into the channel families used by the status
// publisher. Observers subscribe per family, not per concrete type.
func (t NodeType) Family() string {
	switch t {
	case NodeTypeHTTPRequest:
		return "http"
	case NodeTypeOpenAI, NodeTypeAnthropic, NodeTypeGemini:
		return "model"
	default:
		return "trigger"
	}
}

type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

type NodeRunStatus string

const (
	NodeRunStatusPending   NodeRunStatus = "pending"
	NodeRunStatusRunning   NodeRunStatus = "running"
	NodeRunStatusCompleted NodeRunStatus = "completed"
	NodeRunStatusFailed    NodeRunStatus = "failed"
)

// NodeStatus is the lifecycle value published for live observers.
type NodeStatus string

const (
	NodeStatusLoading NodeStatus = "loading"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

type RetryStrategy uint8

const (
	RetryStrategyFixed       RetryStrategy = iota // Fixed delay between retries
	RetryStrategyExponential                      // Exponential backoff: delay = base * 2^attempt
	RetryStrategyLinear                           // Linear backoff: delay = base * attempt
)

// Workflow is authored by the editor and read-only to the engine.
type Workflow struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Node struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       NodeType       `json:"type"`
	Config     map[string]any `json:"config"`
}

// Connection is a directed edge: the output of From feeds the input of To.
type Connection struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
}

// Execution is one run attempt. It is created in StatusRunning and mutated
// exactly once more, into one of the two terminal states.
type Execution struct {
	ID             int64           `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	TriggerEventID string          `json:"trigger_event_id"`
	Status         ExecutionStatus `json:"status"`
	NodeOrder      []string        `json:"node_order"`
	Output         json.RawMessage `json:"output"`
	Error          *string         `json:"error"`
	ErrorStack     *string         `json:"error_stack"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
}

// NodeRun is the durable record of a single node dispatch within one
// execution, including its retry budget.
type NodeRun struct {
	ID          int64           `json:"id"`
	ExecutionID int64           `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	NodeType    NodeType        `json:"node_type"`
	Status      NodeRunStatus   `json:"status"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output"`
	Error       *string         `json:"error"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

type QueueItem struct {
	ID          int64      `json:"id"`
	ExecutionID int64      `json:"execution_id"`
	NodeRunID   int64      `json:"node_run_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	AttemptedAt *time.Time `json:"attempted_at"`
	AttemptedBy *string    `json:"attempted_by"`
}

type ExecutionEvent struct {
	ID          int64           `json:"id"`
	ExecutionID int64           `json:"execution_id"`
	NodeRunID   *int64          `json:"node_run_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CronSchedule is keyed by node: a node carries at most one schedule.
// NextRunAt, once computed, is strictly in the future relative to the
// computation time in the schedule's timezone.
type CronSchedule struct {
	NodeID     string     `json:"node_id"`
	WorkflowID string     `json:"workflow_id"`
	Expression string     `json:"expression"`
	Timezone   string     `json:"timezone"`
	Enabled    bool       `json:"enabled"`
	NextRunAt  *time.Time `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type SummaryStats struct {
	TotalExecutions     uint `json:"total_executions"`
	RunningExecutions   uint `json:"running_executions"`
	CompletedExecutions uint `json:"completed_executions"`
	FailedExecutions    uint `json:"failed_executions"`
	EnabledSchedules    uint `json:"enabled_schedules"`
	QueueDepth          uint `json:"queue_depth"`
}
