package schedule

import (
	"time"

	"paddylink/internal/core"
)

// ScheduleStatus describes whether a schedule is being fired.
type ScheduleStatus string

const (
	ScheduleStatusActive ScheduleStatus = "active"
	ScheduleStatusPaused ScheduleStatus = "paused"
)

// Schedule is a recurring device command: fire the same (target, kind,
// action, params) on a 5-field cron rhythm. A firing that would overlap an
// unresolved command for the pair is skipped, never queued.
type Schedule struct {
	ID         string
	Name       *string
	Target     string
	Kind       string
	Action     string
	Params     map[string]any
	Cron       string
	DeadlineMs *int64
	Status     ScheduleStatus
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Deadline returns the per-firing deadline, or zero for the service default.
func (s *Schedule) Deadline() time.Duration {
	if s.DeadlineMs == nil || *s.DeadlineMs <= 0 {
		return 0
	}
	return time.Duration(*s.DeadlineMs) * time.Millisecond
}

// Request builds the command request one firing executes.
func (s *Schedule) Request() core.Request {
	return core.Request{
		Target:   s.Target,
		Kind:     s.Kind,
		Action:   s.Action,
		Params:   s.Params,
		Deadline: s.Deadline(),
	}
}
