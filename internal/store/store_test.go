package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paddylink/internal/core"
	"paddylink/internal/schedule"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.DB.Close() })
	return st
}

func sampleLog(token string, requestedAt int64) *core.CommandLog {
	return &core.CommandLog{
		Token:          token,
		Target:         "P7",
		Kind:           core.KindRelay,
		Action:         "open",
		Params:         map[string]any{"channel": float64(2)},
		Outcome:        core.OutcomeSuccess,
		Status:         core.StatusCompleted,
		RequestedAt:    requestedAt,
		AcknowledgedAt: requestedAt + 150,
		ExecutedAt:     requestedAt + 900,
		DurationMs:     950,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, st.Archive(ctx, sampleLog("t1", 1000)))
	require.NoError(t, st.DB.Close())

	// reopening runs no migration twice and keeps the data
	st, err = Open(ctx, dir)
	require.NoError(t, err)
	defer st.DB.Close()
	entry, err := st.GetCommand(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "P7", entry.Target)
}

func TestArchiveAndGetCommand(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	in := sampleLog("tok-1", 1_700_000_000_000)
	require.NoError(t, st.Archive(ctx, in))

	out, err := st.GetCommand(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, in.Token, out.Token)
	assert.Equal(t, in.Target, out.Target)
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.Action, out.Action)
	assert.Equal(t, in.Params, out.Params)
	assert.Equal(t, in.Outcome, out.Outcome)
	assert.Equal(t, in.Status, out.Status)
	assert.Empty(t, out.ErrorDetail)
	assert.Equal(t, in.RequestedAt, out.RequestedAt)
	assert.Equal(t, in.AcknowledgedAt, out.AcknowledgedAt)
	assert.Equal(t, in.ExecutedAt, out.ExecutedAt)
	assert.Equal(t, in.DurationMs, out.DurationMs)
	assert.False(t, out.CreatedAt.IsZero())
}

func TestArchiveTimeoutEntry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	in := &core.CommandLog{
		Token:       "tok-to",
		Target:      "P7",
		Kind:        core.KindSensor,
		Action:      "scan",
		Outcome:     core.OutcomeTimeout,
		Status:      core.StatusTimeout,
		ErrorDetail: "no response within deadline",
		RequestedAt: 1_700_000_000_000,
	}
	require.NoError(t, st.Archive(ctx, in))

	out, err := st.GetCommand(ctx, "tok-to")
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeTimeout, out.Outcome)
	assert.Equal(t, "no response within deadline", out.ErrorDetail)
	assert.Zero(t, out.AcknowledgedAt)
	assert.Zero(t, out.ExecutedAt)
	assert.Nil(t, out.Params)
}

func TestGetCommandNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetCommand(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestListCommandsFilterAndPaging(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i, target := range []string{"A", "A", "B"} {
		entry := sampleLog("", 1000)
		entry.Token = string(rune('x' + i))
		entry.Target = target
		entry.CreatedAt = time.Date(2026, 8, 1, 0, i, 0, 0, time.UTC)
		require.NoError(t, st.Archive(ctx, entry))
	}

	all, err := st.ListCommands(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// newest first
	assert.Equal(t, "z", all[0].Token)

	onlyA, err := st.ListCommands(ctx, "A", 10, 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	for _, entry := range onlyA {
		assert.Equal(t, "A", entry.Target)
	}

	page, err := st.ListCommands(ctx, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "y", page[0].Token)
}

func testSchedule(id string) *schedule.Schedule {
	name := "nightly relay open"
	deadline := int64(30_000)
	return &schedule.Schedule{
		ID:         id,
		Name:       &name,
		Target:     "P7",
		Kind:       core.KindRelay,
		Action:     "open",
		Params:     map[string]any{"channel": float64(1)},
		Cron:       "0 2 * * *",
		DeadlineMs: &deadline,
		Status:     schedule.ScheduleStatusActive,
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	in := testSchedule("sched-1")
	require.NoError(t, st.InsertSchedule(ctx, in))

	out, err := st.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.NotNil(t, out.Name)
	assert.Equal(t, *in.Name, *out.Name)
	assert.Equal(t, in.Target, out.Target)
	assert.Equal(t, in.Cron, out.Cron)
	require.NotNil(t, out.DeadlineMs)
	assert.Equal(t, int64(30_000), *out.DeadlineMs)
	assert.Equal(t, schedule.ScheduleStatusActive, out.Status)
	assert.Nil(t, out.LastRunAt)
	assert.Nil(t, out.NextRunAt)
}

func TestUpdateSchedule(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	in := testSchedule("sched-1")
	require.NoError(t, st.InsertSchedule(ctx, in))

	in.Action = "close"
	in.Status = schedule.ScheduleStatusPaused
	in.Name = nil
	require.NoError(t, st.UpdateSchedule(ctx, in))

	out, err := st.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, "close", out.Action)
	assert.Equal(t, schedule.ScheduleStatusPaused, out.Status)
	assert.Nil(t, out.Name)

	missing := testSchedule("ghost")
	assert.ErrorIs(t, st.UpdateSchedule(ctx, missing), ErrScheduleNotFound)
}

func TestDeleteSchedule(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertSchedule(ctx, testSchedule("sched-1")))
	require.NoError(t, st.DeleteSchedule(ctx, "sched-1"))
	_, err := st.GetSchedule(ctx, "sched-1")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.ErrorIs(t, st.DeleteSchedule(ctx, "sched-1"), ErrScheduleNotFound)
}

func TestListSchedulesByStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	active := testSchedule("a")
	paused := testSchedule("b")
	paused.Status = schedule.ScheduleStatusPaused
	require.NoError(t, st.InsertSchedule(ctx, active))
	require.NoError(t, st.InsertSchedule(ctx, paused))

	all, err := st.ListSchedules(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	want := schedule.ScheduleStatusActive
	onlyActive, err := st.ListSchedules(ctx, &want)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "a", onlyActive[0].ID)
}

func TestUpdateScheduleRunInfo(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertSchedule(ctx, testSchedule("sched-1")))

	last := time.Date(2026, 8, 27, 2, 0, 0, 0, time.UTC)
	next := last.Add(24 * time.Hour)
	require.NoError(t, st.UpdateScheduleRunInfo(ctx, "sched-1", &last, &next))

	out, err := st.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.NotNil(t, out.LastRunAt)
	require.NotNil(t, out.NextRunAt)
	assert.True(t, out.LastRunAt.Equal(last))
	assert.True(t, out.NextRunAt.Equal(next))

	later := next.Add(24 * time.Hour)
	require.NoError(t, st.UpdateScheduleNextRun(ctx, "sched-1", &later))
	out, err = st.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	assert.True(t, out.NextRunAt.Equal(later))
}
