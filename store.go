package flowline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

var _ Store = (*StoreImpl)(nil)

type StoreImpl struct {
	db Tx
}

func NewStore(pool *pgxpool.Pool) *StoreImpl {
	return &StoreImpl{db: pool}
}

func (store *StoreImpl) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	executor := store.getExecutor(ctx)

	const query = `
INSERT INTO flowline.workflows (id, user_id, name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
RETURNING created_at, updated_at`

	err := executor.QueryRow(ctx, query,
		wf.ID, wf.UserID, wf.Name, time.Now(),
	).Scan(&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}

	// The editor writes the whole graph at once; replace it wholesale.
	if _, err := executor.Exec(ctx,
		`DELETE FROM flowline.workflow_connections WHERE workflow_id = $1`, wf.ID); err != nil {
		return fmt.Errorf("clear connections: %w", err)
	}
	if _, err := executor.Exec(ctx,
		`DELETE FROM flowline.workflow_nodes WHERE workflow_id = $1`, wf.ID); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}

	for _, node := range wf.Nodes {
		configJSON, err := json.Marshal(node.Config)
		if err != nil {
			return fmt.Errorf("marshal node config: %w", err)
		}

		if _, err := executor.Exec(ctx, `
INSERT INTO flowline.workflow_nodes (id, workflow_id, type, config)
VALUES ($1, $2, $3, $4)`,
			node.ID, wf.ID, node.Type, configJSON,
		); err != nil {
			return fmt.Errorf("insert node %s: %w", node.ID, err)
		}
	}

	for _, conn := range wf.Connections {
		if _, err := executor.Exec(ctx, `
INSERT INTO flowline.workflow_connections (workflow_id, from_node_id, to_node_id)
VALUES ($1, $2, $3)`,
			wf.ID, conn.FromNodeID, conn.ToNodeID,
		); err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}
	}

	return nil
}

func (store *StoreImpl) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, user_id, name, created_at, updated_at
FROM flowline.workflows
WHERE id = $1`

	wf := &Workflow{}
	err := executor.QueryRow(ctx, query, id).Scan(
		&wf.ID, &wf.UserID, &wf.Name, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := executor.Query(ctx, `
SELECT id, workflow_id, type, config
FROM flowline.workflow_nodes
WHERE workflow_id = $1
ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var node Node
		var configJSON []byte

		if err := rows.Scan(&node.ID, &node.WorkflowID, &node.Type, &configJSON); err != nil {
			return nil, err
		}

		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &node.Config); err != nil {
				return nil, fmt.Errorf("unmarshal node config: %w", err)
			}
		}

		wf.Nodes = append(wf.Nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	connRows, err := executor.Query(ctx, `
SELECT from_node_id, to_node_id
FROM flowline.workflow_connections
WHERE workflow_id = $1
ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer connRows.Close()

	for connRows.Next() {
		var conn Connection
		if err := connRows.Scan(&conn.FromNodeID, &conn.ToNodeID); err != nil {
			return nil, err
		}

		wf.Connections = append(wf.Connections, conn)
	}

	return wf, connRows.Err()
}

func (store *StoreImpl) CreateExecution(
	ctx context.Context,
	workflowID string,
	triggerEventID string,
) (*Execution, bool, error) {
	executor := store.getExecutor(ctx)

	const insertQuery = `
INSERT INTO flowline.executions (workflow_id, trigger_event_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (workflow_id, trigger_event_id) DO NOTHING
RETURNING id, workflow_id, trigger_event_id, status, created_at, updated_at`

	execution := &Execution{}
	err := executor.QueryRow(ctx, insertQuery,
		workflowID, triggerEventID, StatusRunning, time.Now(),
	).Scan(
		&execution.ID, &execution.WorkflowID, &execution.TriggerEventID,
		&execution.Status, &execution.CreatedAt, &execution.UpdatedAt,
	)
	if err == nil {
		return execution, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// The trigger event was already delivered; return the existing run.
	const selectQuery = `
SELECT id, workflow_id, trigger_event_id, status, created_at, updated_at
FROM flowline.executions
WHERE workflow_id = $1 AND trigger_event_id = $2`

	err = executor.QueryRow(ctx, selectQuery, workflowID, triggerEventID).Scan(
		&execution.ID, &execution.WorkflowID, &execution.TriggerEventID,
		&execution.Status, &execution.CreatedAt, &execution.UpdatedAt,
	)
	if err != nil {
		return nil, false, err
	}

	return execution, false, nil
}

func (store *StoreImpl) UpdateExecutionPlan(ctx context.Context, executionID int64, nodeOrder []string) error {
	executor := store.getExecutor(ctx)

	orderJSON, err := json.Marshal(nodeOrder)
	if err != nil {
		return fmt.Errorf("marshal node order: %w", err)
	}

	const query = `
UPDATE flowline.executions
SET node_order = $2, updated_at = $3
WHERE id = $1`

	_, err = executor.Exec(ctx, query, executionID, orderJSON, time.Now())

	return err
}

func (store *StoreImpl) UpdateExecutionStatus(
	ctx context.Context,
	executionID int64,
	status ExecutionStatus,
	output json.RawMessage,
	errMsg *string,
	errStack *string,
) error {
	executor := store.getExecutor(ctx)

	const query = `
UPDATE flowline.executions
SET status = $2, output = $3, error = $4, error_stack = $5, updated_at = $6,
	completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN $6 ELSE completed_at END
WHERE id = $1`

	_, err := executor.Exec(ctx, query, executionID, status, output, errMsg, errStack, time.Now())

	return err
}

func (store *StoreImpl) GetExecution(ctx context.Context, executionID int64) (*Execution, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, workflow_id, trigger_event_id, status, node_order, output, error, error_stack,
	   created_at, updated_at, completed_at
FROM flowline.executions
WHERE id = $1`

	execution := &Execution{}
	var orderJSON []byte

	err := executor.QueryRow(ctx, query, executionID).Scan(
		&execution.ID, &execution.WorkflowID, &execution.TriggerEventID,
		&execution.Status, &orderJSON, &execution.Output,
		&execution.Error, &execution.ErrorStack,
		&execution.CreatedAt, &execution.UpdatedAt, &execution.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(orderJSON) > 0 {
		if err := json.Unmarshal(orderJSON, &execution.NodeOrder); err != nil {
			return nil, fmt.Errorf("unmarshal node order: %w", err)
		}
	}

	return execution, nil
}

func (store *StoreImpl) ListExecutions(ctx context.Context, workflowID string) ([]*Execution, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, workflow_id, trigger_event_id, status, node_order, output, error, error_stack,
	   created_at, updated_at, completed_at
FROM flowline.executions
WHERE workflow_id = $1
ORDER BY created_at DESC`

	rows, err := executor.Query(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		execution := &Execution{}
		var orderJSON []byte

		err := rows.Scan(
			&execution.ID, &execution.WorkflowID, &execution.TriggerEventID,
			&execution.Status, &orderJSON, &execution.Output,
			&execution.Error, &execution.ErrorStack,
			&execution.CreatedAt, &execution.UpdatedAt, &execution.CompletedAt,
		)
		if err != nil {
			return nil, err
		}

		if len(orderJSON) > 0 {
			if err := json.Unmarshal(orderJSON, &execution.NodeOrder); err != nil {
				return nil, fmt.Errorf("unmarshal node order: %w", err)
			}
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (store *StoreImpl) CreateNodeRun(ctx context.Context, run *NodeRun) error {
	executor := store.getExecutor(ctx)

	const query = `
INSERT INTO flowline.node_runs
(execution_id, node_id, node_type, status, input, max_retries, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`

	return executor.QueryRow(ctx, query,
		run.ExecutionID, run.NodeID, run.NodeType,
		run.Status, run.Input, run.MaxRetries, time.Now(),
	).Scan(&run.ID, &run.CreatedAt)
}

func (store *StoreImpl) UpdateNodeRun(
	ctx context.Context,
	nodeRunID int64,
	status NodeRunStatus,
	output json.RawMessage,
	errMsg *string,
) error {
	executor := store.getExecutor(ctx)

	const query = `
UPDATE flowline.node_runs
SET status = $2, output = $3, error = $4,
	completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN $5 ELSE completed_at END,
	started_at = CASE WHEN started_at IS NULL AND $2 = 'running' THEN $5 ELSE started_at END,
	retry_count = CASE WHEN $2 = 'failed' THEN retry_count + 1 ELSE retry_count END
WHERE id = $1`

	_, err := executor.Exec(ctx, query, nodeRunID, status, output, errMsg, time.Now())

	return err
}

func (store *StoreImpl) GetNodeRun(ctx context.Context, nodeRunID int64) (*NodeRun, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, execution_id, node_id, node_type, status, input, output, error,
	   retry_count, max_retries, started_at, completed_at, created_at
FROM flowline.node_runs
WHERE id = $1`

	run := &NodeRun{}
	err := executor.QueryRow(ctx, query, nodeRunID).Scan(
		&run.ID, &run.ExecutionID, &run.NodeID, &run.NodeType,
		&run.Status, &run.Input, &run.Output, &run.Error,
		&run.RetryCount, &run.MaxRetries,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

func (store *StoreImpl) ListNodeRuns(ctx context.Context, executionID int64) ([]*NodeRun, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, execution_id, node_id, node_type, status, input, output, error,
	   retry_count, max_retries, started_at, completed_at, created_at
FROM flowline.node_runs
WHERE execution_id = $1
ORDER BY created_at`

	rows, err := executor.Query(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*NodeRun
	for rows.Next() {
		run := &NodeRun{}
		err := rows.Scan(
			&run.ID, &run.ExecutionID, &run.NodeID, &run.NodeType,
			&run.Status, &run.Input, &run.Output, &run.Error,
			&run.RetryCount, &run.MaxRetries,
			&run.StartedAt, &run.CompletedAt, &run.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (store *StoreImpl) EnqueueNodeRun(
	ctx context.Context,
	executionID, nodeRunID int64,
	delay time.Duration,
) error {
	executor := store.getExecutor(ctx)

	const query = `
INSERT INTO flowline.execution_queue (execution_id, node_run_id, scheduled_at)
VALUES ($1, $2, $3)`

	scheduledAt := time.Now().Add(delay)
	_, err := executor.Exec(ctx, query, executionID, nodeRunID, scheduledAt)

	return err
}

func (store *StoreImpl) Dequeue(ctx context.Context, workerID string) (*QueueItem, error) {
	executor := store.getExecutor(ctx)

	const query = `
WITH next_item AS (
	SELECT id
	FROM flowline.execution_queue
	WHERE scheduled_at <= $1 AND attempted_at IS NULL
	ORDER BY scheduled_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE flowline.execution_queue
SET attempted_at = $1, attempted_by = $2
FROM next_item
WHERE flowline.execution_queue.id = next_item.id
RETURNING flowline.execution_queue.id, execution_id, node_run_id, scheduled_at, attempted_at, attempted_by`

	item := &QueueItem{}
	err := executor.QueryRow(ctx, query, time.Now(), workerID).Scan(
		&item.ID, &item.ExecutionID, &item.NodeRunID,
		&item.ScheduledAt, &item.AttemptedAt, &item.AttemptedBy,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	return item, err
}

func (store *StoreImpl) RemoveFromQueue(ctx context.Context, queueID int64) error {
	executor := store.getExecutor(ctx)

	const query = `DELETE FROM flowline.execution_queue WHERE id = $1`
	_, err := executor.Exec(ctx, query, queueID)

	return err
}

func (store *StoreImpl) LogEvent(
	ctx context.Context,
	executionID int64,
	nodeRunID *int64,
	eventType string,
	payload any,
) error {
	executor := store.getExecutor(ctx)

	const query = `
INSERT INTO flowline.execution_events (execution_id, node_run_id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4, $5)`

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = executor.Exec(ctx, query, executionID, nodeRunID, eventType, payloadJSON, time.Now())

	return err
}

func (store *StoreImpl) ListEvents(ctx context.Context, executionID int64) ([]*ExecutionEvent, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT id, execution_id, node_run_id, event_type, payload, created_at
FROM flowline.execution_events
WHERE execution_id = $1
ORDER BY created_at`

	rows, err := executor.Query(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ExecutionEvent
	for rows.Next() {
		event := &ExecutionEvent{}
		err := rows.Scan(
			&event.ID, &event.ExecutionID, &event.NodeRunID,
			&event.EventType, &event.Payload, &event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func (store *StoreImpl) UpsertCronSchedule(ctx context.Context, schedule *CronSchedule) error {
	executor := store.getExecutor(ctx)

	const query = `
INSERT INTO flowline.cron_schedules
(node_id, workflow_id, expression, timezone, enabled, next_run_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (node_id) DO UPDATE
SET expression = EXCLUDED.expression,
	timezone = EXCLUDED.timezone,
	enabled = EXCLUDED.enabled,
	next_run_at = EXCLUDED.next_run_at,
	updated_at = EXCLUDED.updated_at
RETURNING created_at, updated_at`

	return executor.QueryRow(ctx, query,
		schedule.NodeID, schedule.WorkflowID, schedule.Expression,
		schedule.Timezone, schedule.Enabled, schedule.NextRunAt, time.Now(),
	).Scan(&schedule.CreatedAt, &schedule.UpdatedAt)
}

func (store *StoreImpl) GetCronSchedule(ctx context.Context, nodeID string) (*CronSchedule, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT node_id, workflow_id, expression, timezone, enabled, next_run_at, last_run_at, created_at, updated_at
FROM flowline.cron_schedules
WHERE node_id = $1`

	schedule := &CronSchedule{}
	err := executor.QueryRow(ctx, query, nodeID).Scan(
		&schedule.NodeID, &schedule.WorkflowID, &schedule.Expression,
		&schedule.Timezone, &schedule.Enabled,
		&schedule.NextRunAt, &schedule.LastRunAt,
		&schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}

	return schedule, nil
}

func (store *StoreImpl) ListCronSchedules(ctx context.Context) ([]*CronSchedule, error) {
	return store.listSchedules(ctx, `
SELECT node_id, workflow_id, expression, timezone, enabled, next_run_at, last_run_at, created_at, updated_at
FROM flowline.cron_schedules
ORDER BY node_id`)
}

func (store *StoreImpl) ListDueCronSchedules(ctx context.Context, now time.Time) ([]*CronSchedule, error) {
	return store.listSchedules(ctx, `
SELECT node_id, workflow_id, expression, timezone, enabled, next_run_at, last_run_at, created_at, updated_at
FROM flowline.cron_schedules
WHERE enabled = true AND (next_run_at IS NULL OR next_run_at <= $1)
ORDER BY node_id`, now)
}

func (store *StoreImpl) listSchedules(ctx context.Context, query string, args ...any) ([]*CronSchedule, error) {
	executor := store.getExecutor(ctx)

	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*CronSchedule
	for rows.Next() {
		schedule := &CronSchedule{}
		err := rows.Scan(
			&schedule.NodeID, &schedule.WorkflowID, &schedule.Expression,
			&schedule.Timezone, &schedule.Enabled,
			&schedule.NextRunAt, &schedule.LastRunAt,
			&schedule.CreatedAt, &schedule.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		schedules = append(schedules, schedule)
	}

	return schedules, rows.Err()
}

func (store *StoreImpl) ClaimCronSchedule(
	ctx context.Context,
	nodeID string,
	now time.Time,
	nextRunAt time.Time,
) (bool, error) {
	executor := store.getExecutor(ctx)

	// One statement: re-check due-ness and advance the schedule together,
	// so racing sweeps cannot both win the same firing.
	const query = `
UPDATE flowline.cron_schedules
SET last_run_at = $2, next_run_at = $3, updated_at = $2
WHERE node_id = $1
  AND enabled = true
  AND (next_run_at IS NULL OR next_run_at <= $2)`

	tag, err := executor.Exec(ctx, query, nodeID, now, nextRunAt)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (store *StoreImpl) GetSummaryStats(ctx context.Context) (*SummaryStats, error) {
	executor := store.getExecutor(ctx)

	const query = `
SELECT
	(SELECT COUNT(*) FROM flowline.executions),
	(SELECT COUNT(*) FROM flowline.executions WHERE status = 'running'),
	(SELECT COUNT(*) FROM flowline.executions WHERE status = 'completed'),
	(SELECT COUNT(*) FROM flowline.executions WHERE status = 'failed'),
	(SELECT COUNT(*) FROM flowline.cron_schedules WHERE enabled = true),
	(SELECT COUNT(*) FROM flowline.execution_queue WHERE attempted_at IS NULL)`

	stats := &SummaryStats{}
	err := executor.QueryRow(ctx, query).Scan(
		&stats.TotalExecutions,
		&stats.RunningExecutions,
		&stats.CompletedExecutions,
		&stats.FailedExecutions,
		&stats.EnabledSchedules,
		&stats.QueueDepth,
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (store *StoreImpl) getExecutor(ctx context.Context) Tx {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}

	return store.db
}
