package flowline

const (
	// Event types
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventNodeStarted        = "node_started"
	EventNodeCompleted      = "node_completed"
	EventNodeRetry          = "node_retry"
	EventNodeFailed         = "node_failed"
	EventCronFired          = "cron_fired"
	EventWebhookReceived    = "webhook_received"

	// Event data keys
	KeyWorkflowID     = "workflow_id"
	KeyTriggerEventID = "trigger_event_id"
	KeyNodeID         = "node_id"
	KeyNodeType       = "node_type"
	KeyRetryCount     = "retry_count"
	KeyError          = "error"
	KeyExpression     = "expression"
	KeyFiredAt        = "fired_at"
)
