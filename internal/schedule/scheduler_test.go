package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paddylink/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
	lastRuns  map[string]time.Time
	nextRuns  map[string]time.Time
}

func newFakeStore(schedules ...*Schedule) *fakeStore {
	fs := &fakeStore{
		schedules: make(map[string]*Schedule),
		lastRuns:  make(map[string]time.Time),
		nextRuns:  make(map[string]time.Time),
	}
	for _, s := range schedules {
		fs.schedules[s.ID] = s
	}
	return fs
}

func (f *fakeStore) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sched, ok := f.schedules[id]
	if !ok {
		return nil, context.Canceled
	}
	copied := *sched
	return &copied, nil
}

func (f *fakeStore) ListSchedules(_ context.Context, status *ScheduleStatus) ([]*Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Schedule
	for _, sched := range f.schedules {
		if status != nil && sched.Status != *status {
			continue
		}
		copied := *sched
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeStore) UpdateScheduleRunInfo(_ context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lastRunAt != nil {
		f.lastRuns[id] = *lastRunAt
	}
	if nextRunAt != nil {
		f.nextRuns[id] = *nextRunAt
	}
	return nil
}

func (f *fakeStore) UpdateScheduleNextRun(_ context.Context, id string, nextRunAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if nextRunAt != nil {
		f.nextRuns[id] = *nextRunAt
	}
	return nil
}

func (f *fakeStore) nextRun(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.nextRuns[id]
	return t, ok
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []core.Request
	err      error
	result   core.Result
}

func (r *fakeRunner) Execute(_ context.Context, req core.Request, _ func(core.Phase)) (core.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.result, r.err
}

func (r *fakeRunner) calls() []core.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Request(nil), r.requests...)
}

func activeSchedule(id string) *Schedule {
	deadline := int64(45_000)
	return &Schedule{
		ID:         id,
		Target:     "P7",
		Kind:       core.KindRelay,
		Action:     "open",
		Params:     map[string]any{"channel": 1},
		Cron:       "*/5 * * * *",
		DeadlineMs: &deadline,
		Status:     ScheduleStatusActive,
	}
}

func TestScheduleRequestCarriesDeadline(t *testing.T) {
	sched := activeSchedule("s1")
	req := sched.Request()
	assert.Equal(t, "P7", req.Target)
	assert.Equal(t, core.KindRelay, req.Kind)
	assert.Equal(t, "open", req.Action)
	assert.Equal(t, 45*time.Second, req.Deadline)

	sched.DeadlineMs = nil
	assert.Zero(t, sched.Request().Deadline)
}

func TestParseCronRejectsDescriptors(t *testing.T) {
	_, err := ParseCron("@hourly")
	assert.Error(t, err)
	_, err = ParseCron("bad")
	assert.Error(t, err)
	_, err = ParseCron("*/5 * * * *")
	assert.NoError(t, err)
}

func TestNextOccurrences(t *testing.T) {
	parsed, err := ParseCron("0 2 * * *")
	require.NoError(t, err)
	from := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	next := NextOccurrences(parsed, from, 3)
	require.Len(t, next, 3)
	assert.Equal(t, time.Date(2026, 8, 27, 2, 0, 0, 0, time.UTC), next[0])
	assert.Equal(t, time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC), next[1])
	assert.True(t, next[2].After(next[1]))
}

func TestSyncRegistersActiveOnly(t *testing.T) {
	paused := activeSchedule("s2")
	paused.Status = ScheduleStatusPaused
	fs := newFakeStore(activeSchedule("s1"), paused)
	s := NewScheduler(fs, &fakeRunner{}, testLogger(), time.UTC)

	require.NoError(t, s.Sync(context.Background()))

	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	assert.Contains(t, s.entries, "s1")
	assert.NotContains(t, s.entries, "s2")
}

func TestSyncRecordsNextRun(t *testing.T) {
	fs := newFakeStore(activeSchedule("s1"))
	s := NewScheduler(fs, &fakeRunner{}, testLogger(), time.UTC)

	require.NoError(t, s.Sync(context.Background()))
	next, ok := fs.nextRun("s1")
	require.True(t, ok)
	assert.True(t, next.After(time.Now().Add(-time.Minute)))
}

func TestAddOrUpdateFollowsStatus(t *testing.T) {
	fs := newFakeStore()
	s := NewScheduler(fs, &fakeRunner{}, testLogger(), time.UTC)
	ctx := context.Background()

	sched := activeSchedule("s1")
	require.NoError(t, s.AddOrUpdate(ctx, sched))
	s.entryMu.RLock()
	assert.Contains(t, s.entries, "s1")
	s.entryMu.RUnlock()

	sched.Status = ScheduleStatusPaused
	require.NoError(t, s.AddOrUpdate(ctx, sched))
	s.entryMu.RLock()
	assert.NotContains(t, s.entries, "s1")
	s.entryMu.RUnlock()
}

func TestAddOrUpdateRejectsBadCron(t *testing.T) {
	s := NewScheduler(newFakeStore(), &fakeRunner{}, testLogger(), time.UTC)
	sched := activeSchedule("s1")
	sched.Cron = "@reboot"
	assert.Error(t, s.AddOrUpdate(context.Background(), sched))
}

func TestRemove(t *testing.T) {
	fs := newFakeStore()
	s := NewScheduler(fs, &fakeRunner{}, testLogger(), time.UTC)
	require.NoError(t, s.AddOrUpdate(context.Background(), activeSchedule("s1")))

	s.Remove("s1")
	s.Remove("s1") // absent id is fine

	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	assert.Empty(t, s.entries)
}

func TestRunNowExecutesRequest(t *testing.T) {
	runner := &fakeRunner{result: core.Result{Token: "tok"}}
	s := NewScheduler(newFakeStore(), runner, testLogger(), time.UTC)

	res, err := s.RunNow(context.Background(), activeSchedule("s1"))
	require.NoError(t, err)
	assert.Equal(t, "tok", res.Token)

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "P7", calls[0].Target)
	assert.Equal(t, 45*time.Second, calls[0].Deadline)
}

func TestRunNowPropagatesInFlight(t *testing.T) {
	runner := &fakeRunner{err: core.ErrCommandInFlight}
	s := NewScheduler(newFakeStore(), runner, testLogger(), time.UTC)

	_, err := s.RunNow(context.Background(), activeSchedule("s1"))
	assert.ErrorIs(t, err, core.ErrCommandInFlight)
}

func TestFireSkipsPausedSchedule(t *testing.T) {
	sched := activeSchedule("s1")
	fs := newFakeStore(sched)
	runner := &fakeRunner{}
	s := NewScheduler(fs, runner, testLogger(), time.UTC)

	// pause after registration; fire must reload and notice
	fs.mu.Lock()
	fs.schedules["s1"].Status = ScheduleStatusPaused
	fs.mu.Unlock()

	s.fire("s1")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, runner.calls())
}

func TestFireRunsCommandAndRecordsRunInfo(t *testing.T) {
	sched := activeSchedule("s1")
	fs := newFakeStore(sched)
	runner := &fakeRunner{result: core.Result{Token: "tok"}}
	s := NewScheduler(fs, runner, testLogger(), time.UTC)

	s.fire("s1")

	require.Eventually(t, func() bool {
		return len(runner.calls()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Contains(t, fs.lastRuns, "s1")
	assert.Contains(t, fs.nextRuns, "s1")
}
