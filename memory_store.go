package flowline

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a full in-memory Store for tests and embedded use. It
// honours the same contracts as the Postgres store: idempotent execution
// creation, at-most-once cron claims, retry_count advancing on failure.
type MemoryStore struct {
	mu sync.Mutex

	workflows  map[string]*Workflow
	executions map[int64]*Execution
	execIndex  map[string]int64 // workflowID + "\x00" + triggerEventID
	nodeRuns   map[int64]*NodeRun
	queue      map[int64]*QueueItem
	events     map[int64][]*ExecutionEvent
	schedules  map[string]*CronSchedule

	nextExecutionID int64
	nextNodeRunID   int64
	nextQueueID     int64
	nextEventID     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*Workflow),
		executions: make(map[int64]*Execution),
		execIndex:  make(map[string]int64),
		nodeRuns:   make(map[int64]*NodeRun),
		queue:      make(map[int64]*QueueItem),
		events:     make(map[int64][]*ExecutionEvent),
		schedules:  make(map[string]*CronSchedule),
	}
}

func (s *MemoryStore) SaveWorkflow(_ context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.workflows[wf.ID]; ok {
		wf.CreatedAt = existing.CreatedAt
	} else {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	saved := *wf
	saved.Nodes = append([]Node(nil), wf.Nodes...)
	saved.Connections = append([]Connection(nil), wf.Connections...)
	s.workflows[wf.ID] = &saved

	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrEntityNotFound
	}

	copied := *wf
	copied.Nodes = append([]Node(nil), wf.Nodes...)
	copied.Connections = append([]Connection(nil), wf.Connections...)

	return &copied, nil
}

func (s *MemoryStore) CreateExecution(
	_ context.Context,
	workflowID string,
	triggerEventID string,
) (*Execution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := workflowID + "\x00" + triggerEventID
	if existingID, ok := s.execIndex[key]; ok {
		copied := *s.executions[existingID]

		return &copied, false, nil
	}

	s.nextExecutionID++
	now := time.Now()
	execution := &Execution{
		ID:             s.nextExecutionID,
		WorkflowID:     workflowID,
		TriggerEventID: triggerEventID,
		Status:         StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.executions[execution.ID] = execution
	s.execIndex[key] = execution.ID

	copied := *execution

	return &copied, true, nil
}

func (s *MemoryStore) UpdateExecutionPlan(_ context.Context, executionID int64, nodeOrder []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrEntityNotFound
	}

	execution.NodeOrder = append([]string(nil), nodeOrder...)
	execution.UpdatedAt = time.Now()

	return nil
}

func (s *MemoryStore) UpdateExecutionStatus(
	_ context.Context,
	executionID int64,
	status ExecutionStatus,
	output json.RawMessage,
	errMsg *string,
	errStack *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrEntityNotFound
	}

	now := time.Now()
	execution.Status = status
	execution.Output = output
	execution.Error = errMsg
	execution.ErrorStack = errStack
	execution.UpdatedAt = now

	if status == StatusCompleted || status == StatusFailed {
		execution.CompletedAt = &now
	}

	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, executionID int64) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return nil, ErrEntityNotFound
	}

	copied := *execution
	copied.NodeOrder = append([]string(nil), execution.NodeOrder...)

	return &copied, nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, workflowID string) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var executions []*Execution
	for _, execution := range s.executions {
		if execution.WorkflowID != workflowID {
			continue
		}

		copied := *execution
		copied.NodeOrder = append([]string(nil), execution.NodeOrder...)
		executions = append(executions, &copied)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].ID > executions[j].ID
	})

	return executions, nil
}

func (s *MemoryStore) CreateNodeRun(_ context.Context, run *NodeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNodeRunID++
	run.ID = s.nextNodeRunID
	run.CreatedAt = time.Now()

	copied := *run
	s.nodeRuns[run.ID] = &copied

	return nil
}

func (s *MemoryStore) UpdateNodeRun(
	_ context.Context,
	nodeRunID int64,
	status NodeRunStatus,
	output json.RawMessage,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.nodeRuns[nodeRunID]
	if !ok {
		return ErrEntityNotFound
	}

	now := time.Now()
	run.Status = status
	run.Output = output
	run.Error = errMsg

	switch status {
	case NodeRunStatusRunning:
		if run.StartedAt == nil {
			run.StartedAt = &now
		}
	case NodeRunStatusFailed:
		run.RetryCount++
		run.CompletedAt = &now
	case NodeRunStatusCompleted:
		run.CompletedAt = &now
	}

	return nil
}

func (s *MemoryStore) GetNodeRun(_ context.Context, nodeRunID int64) (*NodeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.nodeRuns[nodeRunID]
	if !ok {
		return nil, ErrEntityNotFound
	}

	copied := *run

	return &copied, nil
}

func (s *MemoryStore) ListNodeRuns(_ context.Context, executionID int64) ([]*NodeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []*NodeRun
	for _, run := range s.nodeRuns {
		if run.ExecutionID != executionID {
			continue
		}

		copied := *run
		runs = append(runs, &copied)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].ID < runs[j].ID
	})

	return runs, nil
}

func (s *MemoryStore) EnqueueNodeRun(
	_ context.Context,
	executionID, nodeRunID int64,
	delay time.Duration,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextQueueID++
	s.queue[s.nextQueueID] = &QueueItem{
		ID:          s.nextQueueID,
		ExecutionID: executionID,
		NodeRunID:   nodeRunID,
		ScheduledAt: time.Now().Add(delay),
	}

	return nil
}

func (s *MemoryStore) Dequeue(_ context.Context, workerID string) (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	var oldest *QueueItem
	for _, item := range s.queue {
		if item.AttemptedAt != nil || item.ScheduledAt.After(now) {
			continue
		}
		if oldest == nil || item.ScheduledAt.Before(oldest.ScheduledAt) {
			oldest = item
		}
	}

	if oldest == nil {
		return nil, nil
	}

	oldest.AttemptedAt = &now
	oldest.AttemptedBy = &workerID

	copied := *oldest

	return &copied, nil
}

func (s *MemoryStore) RemoveFromQueue(_ context.Context, queueID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queue, queueID)

	return nil
}

func (s *MemoryStore) LogEvent(
	_ context.Context,
	executionID int64,
	nodeRunID *int64,
	eventType string,
	payload any,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.nextEventID++
	s.events[executionID] = append(s.events[executionID], &ExecutionEvent{
		ID:          s.nextEventID,
		ExecutionID: executionID,
		NodeRunID:   nodeRunID,
		EventType:   eventType,
		Payload:     payloadJSON,
		CreatedAt:   time.Now(),
	})

	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, executionID int64) ([]*ExecutionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]*ExecutionEvent, 0, len(s.events[executionID]))
	for _, event := range s.events[executionID] {
		copied := *event
		events = append(events, &copied)
	}

	return events, nil
}

func (s *MemoryStore) UpsertCronSchedule(_ context.Context, schedule *CronSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.schedules[schedule.NodeID]; ok {
		schedule.CreatedAt = existing.CreatedAt
		schedule.LastRunAt = existing.LastRunAt
	} else {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	copied := *schedule
	s.schedules[schedule.NodeID] = &copied

	return nil
}

func (s *MemoryStore) GetCronSchedule(_ context.Context, nodeID string) (*CronSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[nodeID]
	if !ok {
		return nil, ErrEntityNotFound
	}

	copied := *schedule

	return &copied, nil
}

func (s *MemoryStore) ListCronSchedules(_ context.Context) ([]*CronSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.collectSchedules(func(*CronSchedule) bool { return true }), nil
}

func (s *MemoryStore) ListDueCronSchedules(_ context.Context, now time.Time) ([]*CronSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.collectSchedules(func(schedule *CronSchedule) bool {
		if !schedule.Enabled {
			return false
		}

		return schedule.NextRunAt == nil || !schedule.NextRunAt.After(now)
	}), nil
}

func (s *MemoryStore) collectSchedules(match func(*CronSchedule) bool) []*CronSchedule {
	var schedules []*CronSchedule
	for _, schedule := range s.schedules {
		if !match(schedule) {
			continue
		}

		copied := *schedule
		schedules = append(schedules, &copied)
	}

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].NodeID < schedules[j].NodeID
	})

	return schedules
}

func (s *MemoryStore) ClaimCronSchedule(
	_ context.Context,
	nodeID string,
	now time.Time,
	nextRunAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[nodeID]
	if !ok || !schedule.Enabled {
		return false, nil
	}
	if schedule.NextRunAt != nil && schedule.NextRunAt.After(now) {
		return false, nil
	}

	lastRun := now
	nextRun := nextRunAt
	schedule.LastRunAt = &lastRun
	schedule.NextRunAt = &nextRun
	schedule.UpdatedAt = now

	return true, nil
}

func (s *MemoryStore) GetSummaryStats(_ context.Context) (*SummaryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &SummaryStats{}
	for _, execution := range s.executions {
		stats.TotalExecutions++
		switch execution.Status {
		case StatusRunning:
			stats.RunningExecutions++
		case StatusCompleted:
			stats.CompletedExecutions++
		case StatusFailed:
			stats.FailedExecutions++
		}
	}

	for _, schedule := range s.schedules {
		if schedule.Enabled {
			stats.EnabledSchedules++
		}
	}

	for _, item := range s.queue {
		if item.AttemptedAt == nil {
			stats.QueueDepth++
		}
	}

	return stats, nil
}
