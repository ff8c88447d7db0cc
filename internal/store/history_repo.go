package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paddylink/internal/core"
)

var ErrCommandNotFound = errors.New("command not found")

// Archive inserts one terminal command outcome. Implements core.History.
func (s *Store) Archive(ctx context.Context, entry *core.CommandLog) error {
	params, err := encodeParams(entry.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO command_history
			(token, target, kind, action, params, outcome, status, error_detail,
			 requested_at, acknowledged_at, executed_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Token, entry.Target, entry.Kind, entry.Action, params,
		string(entry.Outcome), string(entry.Status), nullableString(strPtrOrNil(entry.ErrorDetail)),
		entry.RequestedAt, nullableMillis(entry.AcknowledgedAt), nullableMillis(entry.ExecutedAt),
		entry.DurationMs, entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert command history: %w", err)
	}
	return nil
}

// GetCommand loads one archived outcome by token.
func (s *Store) GetCommand(ctx context.Context, token string) (*core.CommandLog, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT token, target, kind, action, params, outcome, status, error_detail,
		       requested_at, acknowledged_at, executed_at, duration_ms, created_at
		FROM command_history WHERE token = ?
	`, token)
	entry, err := scanCommandLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListCommands returns archived outcomes, newest first. target filters when
// non-empty.
func (s *Store) ListCommands(ctx context.Context, target string, limit, offset int) ([]*core.CommandLog, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT token, target, kind, action, params, outcome, status, error_detail,
		       requested_at, acknowledged_at, executed_at, duration_ms, created_at
		FROM command_history
	`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list command history: %w", err)
	}
	defer rows.Close()
	var entries []*core.CommandLog
	for rows.Next() {
		entry, err := scanCommandLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanCommandLog(scanner interface {
	Scan(dest ...any) error
}) (*core.CommandLog, error) {
	var (
		token, target, kind, action string
		params                      sql.NullString
		outcome, status             string
		errorDetail                 sql.NullString
		requestedAt                 int64
		acknowledgedAt, executedAt  sql.NullInt64
		durationMs                  int64
		createdAt                   string
	)
	if err := scanner.Scan(&token, &target, &kind, &action, &params, &outcome, &status,
		&errorDetail, &requestedAt, &acknowledgedAt, &executedAt, &durationMs, &createdAt); err != nil {
		return nil, fmt.Errorf("scan command history: %w", err)
	}
	entry := &core.CommandLog{
		Token:       token,
		Target:      target,
		Kind:        kind,
		Action:      action,
		Outcome:     core.OutcomeKind(outcome),
		Status:      core.Status(status),
		RequestedAt: requestedAt,
		DurationMs:  durationMs,
		CreatedAt:   mustParseTime(createdAt),
	}
	if params.Valid {
		entry.Params = decodeParams(params.String)
	}
	if errorDetail.Valid {
		entry.ErrorDetail = errorDetail.String
	}
	if acknowledgedAt.Valid {
		entry.AcknowledgedAt = acknowledgedAt.Int64
	}
	if executedAt.Valid {
		entry.ExecutedAt = executedAt.Int64
	}
	return entry, nil
}

func encodeParams(params map[string]any) (any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeParams(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil
	}
	return params
}

func nullableMillis(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(time.RFC3339Nano)
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtrOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func mustParseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		panic(fmt.Sprintf("invalid stored time %q: %v", value, err))
	}
	return t
}
