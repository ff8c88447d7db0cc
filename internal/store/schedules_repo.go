package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"paddylink/internal/schedule"
)

var ErrScheduleNotFound = errors.New("schedule not found")

// InsertSchedule stores a new recurring command definition.
func (s *Store) InsertSchedule(ctx context.Context, sched *schedule.Schedule) error {
	now := time.Now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now
	params, err := encodeParams(sched.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO schedules
			(id, name, target, kind, action, params, cron, deadline_ms, status,
			 last_run_at, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sched.ID, nullableString(sched.Name), sched.Target, sched.Kind, sched.Action,
		params, sched.Cron, nullableInt64(sched.DeadlineMs), string(sched.Status),
		nullableTime(sched.LastRunAt), nullableTime(sched.NextRunAt),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// UpdateSchedule rewrites the mutable fields of a schedule.
func (s *Store) UpdateSchedule(ctx context.Context, sched *schedule.Schedule) error {
	sched.UpdatedAt = time.Now().UTC()
	params, err := encodeParams(sched.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE schedules
		SET name = ?, target = ?, kind = ?, action = ?, params = ?, cron = ?,
		    deadline_ms = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, nullableString(sched.Name), sched.Target, sched.Kind, sched.Action, params,
		sched.Cron, nullableInt64(sched.DeadlineMs), string(sched.Status),
		sched.UpdatedAt.Format(time.RFC3339Nano), sched.ID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return requireRow(res, ErrScheduleNotFound)
}

// DeleteSchedule removes a schedule definition.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return requireRow(res, ErrScheduleNotFound)
}

// GetSchedule loads one schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id string) (*schedule.Schedule, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, target, kind, action, params, cron, deadline_ms, status,
		       last_run_at, next_run_at, created_at, updated_at
		FROM schedules WHERE id = ?
	`, id)
	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return sched, nil
}

// ListSchedules returns all schedules, optionally filtered by status.
func (s *Store) ListSchedules(ctx context.Context, status *schedule.ScheduleStatus) ([]*schedule.Schedule, error) {
	query := `
		SELECT id, name, target, kind, action, params, cron, deadline_ms, status,
		       last_run_at, next_run_at, created_at, updated_at
		FROM schedules
	`
	args := []any{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	var schedules []*schedule.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedules, nil
}

// UpdateScheduleRunInfo records the last firing and the next planned one.
func (s *Store) UpdateScheduleRunInfo(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE schedules SET last_run_at = ?, next_run_at = ? WHERE id = ?
	`, nullableTime(lastRunAt), nullableTime(nextRunAt), id)
	if err != nil {
		return fmt.Errorf("update schedule run info: %w", err)
	}
	return requireRow(res, ErrScheduleNotFound)
}

// UpdateScheduleNextRun records only the next planned firing.
func (s *Store) UpdateScheduleNextRun(ctx context.Context, id string, nextRunAt *time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE schedules SET next_run_at = ? WHERE id = ?
	`, nullableTime(nextRunAt), id)
	if err != nil {
		return fmt.Errorf("update schedule next run: %w", err)
	}
	return requireRow(res, ErrScheduleNotFound)
}

func requireRow(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*schedule.Schedule, error) {
	var (
		id, target, kind, action, cronExpr, status string
		name, params                               sql.NullString
		deadlineMs                                 sql.NullInt64
		lastRunAt, nextRunAt                       sql.NullString
		createdAt, updatedAt                       string
	)
	if err := scanner.Scan(&id, &name, &target, &kind, &action, &params, &cronExpr,
		&deadlineMs, &status, &lastRunAt, &nextRunAt, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	sched := &schedule.Schedule{
		ID:        id,
		Target:    target,
		Kind:      kind,
		Action:    action,
		Cron:      cronExpr,
		Status:    schedule.ScheduleStatus(status),
		CreatedAt: mustParseTime(createdAt),
		UpdatedAt: mustParseTime(updatedAt),
	}
	if name.Valid {
		sched.Name = &name.String
	}
	if params.Valid {
		sched.Params = decodeParams(params.String)
	}
	if deadlineMs.Valid {
		sched.DeadlineMs = &deadlineMs.Int64
	}
	if lastRunAt.Valid {
		t := mustParseTime(lastRunAt.String)
		sched.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := mustParseTime(nextRunAt.String)
		sched.NextRunAt = &t
	}
	return sched, nil
}
