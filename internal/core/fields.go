package core

import (
	"encoding/json"
	"strconv"
)

// Field names of a command record as stored in the record store. Devices
// write only their own fields (acknowledged_at, executed_at, terminal
// status, error_detail); the controller owns the rest.
const (
	FieldToken          = "token"
	FieldTarget         = "target"
	FieldKind           = "kind"
	FieldAction         = "action"
	FieldParams         = "params"
	FieldRequestedAt    = "requested_at"
	FieldAcknowledgedAt = "acknowledged_at"
	FieldExecutedAt     = "executed_at"
	FieldStatus         = "status"
	FieldErrorDetail    = "error_detail"
)

// Fields renders the record as a full field map for an upsert. Unset
// optional fields are emitted as nil so the write clears leftovers from a
// prior cycle.
func (r *Record) Fields() map[string]any {
	fields := map[string]any{
		FieldToken:          r.Token,
		FieldTarget:         r.Target,
		FieldKind:           r.Kind,
		FieldAction:         r.Action,
		FieldParams:         nil,
		FieldRequestedAt:    r.RequestedAt,
		FieldAcknowledgedAt: nil,
		FieldExecutedAt:     nil,
		FieldStatus:         string(r.Status),
		FieldErrorDetail:    nil,
	}
	if len(r.Params) > 0 {
		fields[FieldParams] = r.Params
	}
	if r.AcknowledgedAt != 0 {
		fields[FieldAcknowledgedAt] = r.AcknowledgedAt
	}
	if r.ExecutedAt != 0 {
		fields[FieldExecutedAt] = r.ExecutedAt
	}
	if r.ErrorDetail != "" {
		fields[FieldErrorDetail] = r.ErrorDetail
	}
	return fields
}

// RecordFromFields decodes a field map delivered by the record store.
// Returns false when the map does not hold a record (absent or deleted).
// Readers tolerate partial field sets: a missing field is simply unset.
func RecordFromFields(fields map[string]any) (Record, bool) {
	if len(fields) == 0 {
		return Record{}, false
	}
	rec := Record{
		Token:          asString(fields[FieldToken]),
		Target:         asString(fields[FieldTarget]),
		Kind:           asString(fields[FieldKind]),
		Action:         asString(fields[FieldAction]),
		RequestedAt:    asInt64(fields[FieldRequestedAt]),
		AcknowledgedAt: asInt64(fields[FieldAcknowledgedAt]),
		ExecutedAt:     asInt64(fields[FieldExecutedAt]),
		Status:         Status(asString(fields[FieldStatus])),
		ErrorDetail:    asString(fields[FieldErrorDetail]),
	}
	if params, ok := fields[FieldParams].(map[string]any); ok {
		rec.Params = params
	}
	return rec, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt64 accepts the numeric shapes a field can come back as after a
// store round-trip (native ints, JSON float64, json.Number).
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		parsed, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// scalarParam reports whether a parameter value is a plain scalar. Domain
// validation of parameter meaning is a device concern, not ours.
func scalarParam(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}
