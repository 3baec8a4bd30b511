// Package scheduler fires stored workflows on cron, interval or one-off
// schedules. It polls the store for due entries and hands each one to a
// submit function, so it needs no knowledge of how workflows actually run.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/apiarist/apiary/internal/config"
	"github.com/apiarist/apiary/internal/store"
)

// SubmitFunc starts one workflow from its stored request JSON.
type SubmitFunc func(ctx context.Context, workflow []byte) error

type Scheduler struct {
	store        *store.Store
	submit       SubmitFunc
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, submit SubmitFunc, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		submit:       submit,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// Add validates and stores a new scheduled workflow. The schedule may be
// schedule JSON or a bare cron expression.
func (s *Scheduler) Add(id, name, rawSchedule string, workflow []byte) error {
	normalized, err := NormalizeSchedule(rawSchedule)
	if err != nil {
		return err
	}
	return s.store.SaveScheduledWorkflow(&store.ScheduledWorkflow{
		ID:        id,
		Name:      name,
		Schedule:  normalized,
		Workflow:  string(workflow),
		Status:    "active",
		NextRunAt: CalculateNextRun(normalized),
	})
}

// Pause stops a schedule from firing without deleting it.
func (s *Scheduler) Pause(id string) error {
	return s.store.UpdateScheduledWorkflowStatus(id, "paused")
}

// Resume reactivates a paused schedule and recomputes its next run.
func (s *Scheduler) Resume(id string) error {
	w, err := s.store.GetScheduledWorkflow(id)
	if err != nil {
		return err
	}
	if w == nil {
		return store.ErrNotFound
	}
	if err := s.store.UpdateScheduledWorkflowStatus(id, "active"); err != nil {
		return err
	}
	return s.store.UpdateScheduledWorkflowNextRun(id, CalculateNextRun(w.Schedule))
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueScheduledWorkflows(time.Now())
	if err != nil {
		slog.Error("failed to get due workflows", "error", err)
		return
	}

	for _, w := range due {
		s.fire(ctx, w)
	}
}

func (s *Scheduler) fire(ctx context.Context, w store.ScheduledWorkflow) {
	slog.Info("submitting scheduled workflow", "id", w.ID, "name", w.Name)

	err := s.submit(ctx, []byte(w.Workflow))

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled workflow submission failed", "id", w.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	nextRun := CalculateNextRun(w.Schedule)

	if err := s.store.UpdateScheduledWorkflowRun(w.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update scheduled workflow run", "id", w.ID, "error", err)
	}

	// One-off schedules with no next run are done.
	if nextRun == nil {
		slog.Info("no next run, completing one-off schedule", "id", w.ID, "name", w.Name)
		if err := s.store.UpdateScheduledWorkflowStatus(w.ID, "completed"); err != nil {
			slog.Error("failed to complete schedule", "id", w.ID, "error", err)
		}
	}
}
