package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"paddylink/internal/core"
)

// Store abstracts the persistence layer used by the scheduler.
type Store interface {
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, status *ScheduleStatus) ([]*Schedule, error)
	UpdateScheduleRunInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	UpdateScheduleNextRun(ctx context.Context, id string, nextRunAt *time.Time) error
}

// CommandRunner executes one command lifecycle end to end.
type CommandRunner interface {
	Execute(ctx context.Context, req core.Request, onProgress func(core.Phase)) (core.Result, error)
}

// Scheduler fires recurring device commands on their cron rhythm.
type Scheduler struct {
	store    Store
	runner   CommandRunner
	logger   *slog.Logger
	location *time.Location

	cron    *cron.Cron
	entryMu sync.RWMutex
	entries map[string]cron.EntryID

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store Store, runner CommandRunner, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(location),
	)
	return &Scheduler{
		store:    store,
		runner:   runner,
		logger:   logger,
		location: location,
		cron:     c,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start begins the firing loop. ctx bounds background command executions.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop stops the cron loop and returns a context that completes once
// in-flight firings have been dispatched.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Sync loads all schedules from the store and (un)registers them.
func (s *Scheduler) Sync(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx, nil)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	for _, sched := range schedules {
		if sched.Status == ScheduleStatusActive {
			if err := s.register(ctx, sched); err != nil {
				s.logger.Error("register schedule", "schedule_id", sched.ID, "err", err)
			}
		} else {
			s.unregister(sched.ID)
		}
	}
	return nil
}

// AddOrUpdate refreshes the cron entry for a created or modified schedule.
func (s *Scheduler) AddOrUpdate(ctx context.Context, sched *Schedule) error {
	s.unregister(sched.ID)
	if sched.Status == ScheduleStatusActive {
		return s.register(ctx, sched)
	}
	return nil
}

// Remove stops firing the given schedule.
func (s *Scheduler) Remove(scheduleID string) {
	s.unregister(scheduleID)
}

// RunNow fires the schedule immediately, outside its cron rhythm. The
// uniqueness rule still applies: an in-flight command for the pair makes
// this fail fast.
func (s *Scheduler) RunNow(ctx context.Context, sched *Schedule) (core.Result, error) {
	return s.runner.Execute(ctx, sched.Request(), nil)
}

func (s *Scheduler) register(ctx context.Context, sched *Schedule) error {
	parsed, err := ParseCron(sched.Cron)
	if err != nil {
		return err
	}
	now := time.Now().In(s.location)
	if next := NextOccurrences(parsed, now, 1); len(next) == 1 {
		nextUTC := next[0].UTC()
		if err := s.store.UpdateScheduleNextRun(ctx, sched.ID, &nextUTC); err != nil {
			s.logger.Warn("update next_run_at failed", "schedule_id", sched.ID, "err", err)
		}
	}

	scheduleID := sched.ID
	entryID := s.cron.Schedule(parsed, cron.FuncJob(func() {
		s.fire(scheduleID)
	}))

	s.entryMu.Lock()
	s.entries[scheduleID] = entryID
	s.entryMu.Unlock()
	return nil
}

func (s *Scheduler) unregister(scheduleID string) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if entryID, ok := s.entries[scheduleID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, scheduleID)
	}
}

// fire reloads the schedule (it may have been edited since registration)
// and runs the command in the background.
func (s *Scheduler) fire(scheduleID string) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		s.logger.Error("load schedule for firing", "schedule_id", scheduleID, "err", err)
		return
	}
	if sched.Status != ScheduleStatusActive {
		return
	}

	firedAt := time.Now().UTC()
	var nextAt *time.Time
	if parsed, err := ParseCron(sched.Cron); err == nil {
		if next := NextOccurrences(parsed, time.Now().In(s.location), 1); len(next) == 1 {
			nextUTC := next[0].UTC()
			nextAt = &nextUTC
		}
	}
	if err := s.store.UpdateScheduleRunInfo(ctx, sched.ID, &firedAt, nextAt); err != nil {
		s.logger.Warn("update schedule run info", "schedule_id", sched.ID, "err", err)
	}

	go func() {
		result, err := s.runner.Execute(ctx, sched.Request(), nil)
		if errors.Is(err, core.ErrCommandInFlight) {
			s.logger.Warn("schedule firing skipped, command still in flight",
				"schedule_id", sched.ID, "target", sched.Target, "kind", sched.Kind)
			return
		}
		if err != nil {
			s.logger.Error("schedule firing failed", "schedule_id", sched.ID, "err", err)
			return
		}
		s.logger.Info("schedule fired",
			"schedule_id", sched.ID, "target", sched.Target, "kind", sched.Kind,
			"token", result.Token, "outcome", string(result.Outcome.Kind))
	}()
}

// NewID returns an identifier for a newly created schedule.
func NewID() string {
	return core.NewToken()
}
