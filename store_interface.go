package flowline

import (
	"context"
	"encoding/json"
	"time"
)

type Store interface {
	// Workflows (authored externally, persisted here for the engine to read).
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// Executions. CreateExecution is idempotent on
	// (workflowID, triggerEventID): the bool result reports whether a new
	// row was created.
	CreateExecution(
		ctx context.Context,
		workflowID string,
		triggerEventID string,
	) (*Execution, bool, error)
	UpdateExecutionPlan(ctx context.Context, executionID int64, nodeOrder []string) error
	UpdateExecutionStatus(
		ctx context.Context,
		executionID int64,
		status ExecutionStatus,
		output json.RawMessage,
		errMsg *string,
		errStack *string,
	) error
	GetExecution(ctx context.Context, executionID int64) (*Execution, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*Execution, error)

	// Node runs.
	CreateNodeRun(ctx context.Context, run *NodeRun) error
	UpdateNodeRun(
		ctx context.Context,
		nodeRunID int64,
		status NodeRunStatus,
		output json.RawMessage,
		errMsg *string,
	) error
	GetNodeRun(ctx context.Context, nodeRunID int64) (*NodeRun, error)
	ListNodeRuns(ctx context.Context, executionID int64) ([]*NodeRun, error)

	// Durable step queue.
	EnqueueNodeRun(ctx context.Context, executionID, nodeRunID int64, delay time.Duration) error
	Dequeue(ctx context.Context, workerID string) (*QueueItem, error)
	RemoveFromQueue(ctx context.Context, queueID int64) error

	// Audit log.
	LogEvent(ctx context.Context, executionID int64, nodeRunID *int64, eventType string, payload any) error
	ListEvents(ctx context.Context, executionID int64) ([]*ExecutionEvent, error)

	// Cron schedules.
	UpsertCronSchedule(ctx context.Context, schedule *CronSchedule) error
	GetCronSchedule(ctx context.Context, nodeID string) (*CronSchedule, error)
	ListCronSchedules(ctx context.Context) ([]*CronSchedule, error)
	ListDueCronSchedules(ctx context.Context, now time.Time) ([]*CronSchedule, error)
	// ClaimCronSchedule atomically re-checks that the schedule is still due
	// and advances last_run_at/next_run_at in one statement. Exactly one of
	// any number of racing sweeps wins the claim.
	ClaimCronSchedule(ctx context.Context, nodeID string, now time.Time, nextRunAt time.Time) (bool, error)

	GetSummaryStats(ctx context.Context) (*SummaryStats, error)
}
