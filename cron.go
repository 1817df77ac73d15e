package flowline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard five-field syntax
// (minute hour day month weekday).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextAfter evaluates a cron expression in the given IANA timezone and
// returns the next occurrence strictly after now.
func NextAfter(expression, timezone string, now time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expression, err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	return schedule.Next(now.In(loc)), nil
}

// CronScheduler sweeps due schedules and starts one run per firing. Sweeps
// may overlap: the atomic row claim in the store guarantees a firing is
// handed to the engine at most once, and the per-firing trigger-event id
// keeps the run idempotent even if a claim is somehow replayed.
type CronScheduler struct {
	engine   *Engine
	store    Store
	interval time.Duration
	stopCh   chan struct{}
}

func NewCronScheduler(engine *Engine, store Store, interval time.Duration) *CronScheduler {
	if interval <= 0 {
		interval = time.Minute
	}

	return &CronScheduler{
		engine:   engine,
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (s *CronScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("cron scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cron scheduler stopping: context cancelled")

			return
		case <-s.stopCh:
			slog.Info("cron scheduler stopping: stop signal received")

			return
		case <-ticker.C:
			if err := s.Sweep(ctx, time.Now()); err != nil {
				slog.Error("cron sweep failed", "error", err)
			}
		}
	}
}

func (s *CronScheduler) Stop() {
	close(s.stopCh)
}

// Sweep processes every due enabled schedule. A failure on one schedule is
// logged and does not prevent the rest of the sweep; the failed schedule
// keeps its stale next_run_at and is retried on a later sweep.
func (s *CronScheduler) Sweep(ctx context.Context, now time.Time) error {
	due, err := s.store.ListDueCronSchedules(ctx, now)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	for _, schedule := range due {
		if err := s.fire(ctx, schedule, now); err != nil {
			slog.Error("cron schedule failed",
				"node_id", schedule.NodeID,
				"workflow_id", schedule.WorkflowID,
				"error", err,
			)
		}
	}

	return nil
}

func (s *CronScheduler) fire(ctx context.Context, schedule *CronSchedule, now time.Time) error {
	next, err := NextAfter(schedule.Expression, schedule.Timezone, now)
	if err != nil {
		return err
	}

	claimed, err := s.store.ClaimCronSchedule(ctx, schedule.NodeID, now, next)
	if err != nil {
		return fmt.Errorf("claim schedule: %w", err)
	}
	if !claimed {
		// Another sweep won the race for this firing.
		return nil
	}

	firedAt := now
	if schedule.NextRunAt != nil {
		firedAt = *schedule.NextRunAt
	}

	initial := RunContext{
		"cron": map[string]any{
			"nodeId":     schedule.NodeID,
			"expression": schedule.Expression,
			"firedAt":    firedAt.UTC().Format(time.RFC3339),
		},
	}

	triggerEventID := fmt.Sprintf("cron/%s/%d", schedule.NodeID, firedAt.Unix())

	executionID, err := s.engine.Start(ctx, schedule.WorkflowID, triggerEventID, initial)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	_ = s.store.LogEvent(ctx, executionID, nil, EventCronFired, map[string]any{
		KeyNodeID:     schedule.NodeID,
		KeyExpression: schedule.Expression,
		KeyFiredAt:    firedAt.UTC(),
	})

	return nil
}

// SaveSchedule upserts a node's schedule and computes its initial
// next_run_at, mirroring what configuration edits do.
func (s *CronScheduler) SaveSchedule(ctx context.Context, schedule *CronSchedule) error {
	next, err := NextAfter(schedule.Expression, schedule.Timezone, time.Now())
	if err != nil {
		return err
	}

	schedule.NextRunAt = &next

	return s.store.UpsertCronSchedule(ctx, schedule)
}
