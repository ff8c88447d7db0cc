package core

import "time"

// Status is the shared lifecycle field of a command record. The device is
// authoritative for completed/error, the controller for pending/timeout.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusTimeout      Status = "timeout"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusError:     true,
	StatusTimeout:   true,
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return terminalStatuses[s]
}

// Well-known command kinds understood by paddy field controllers.
const (
	KindRelay    = "relay"
	KindMotor    = "motor"
	KindSensor   = "sensor"
	KindLocation = "location"
)

// Record is the unit of coordination between the controller and a device.
// The controller writes Token, Target, Kind, Action, Params, RequestedAt
// and the pending/timeout statuses; the device writes AcknowledgedAt,
// ExecutedAt and the completed/error statuses. All timestamps are absolute
// Unix milliseconds; zero means unset.
type Record struct {
	Token          string
	Target         string
	Kind           string
	Action         string
	Params         map[string]any
	RequestedAt    int64
	AcknowledgedAt int64
	ExecutedAt     int64
	Status         Status
	ErrorDetail    string
}

// OutcomeKind tags the caller-visible result of one command lifecycle.
type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeDeviceError OutcomeKind = "device_error"
	OutcomeTimeout     OutcomeKind = "timeout"
	OutcomeCancelled   OutcomeKind = "cancelled"
)

// Outcome is the tagged result returned to the dispatch caller. It is a
// value, never a panic across the core boundary.
type Outcome struct {
	Kind        OutcomeKind
	ExecutedAt  int64
	ErrorDetail string
}

// Success builds a completed outcome carrying the device execution time.
func Success(executedAt int64) Outcome {
	return Outcome{Kind: OutcomeSuccess, ExecutedAt: executedAt}
}

// DeviceError builds an outcome for a device-reported failure.
func DeviceError(detail string) Outcome {
	return Outcome{Kind: OutcomeDeviceError, ErrorDetail: detail}
}

// CommandLog is one archived terminal outcome, written once per lifecycle.
type CommandLog struct {
	Token          string
	Target         string
	Kind           string
	Action         string
	Params         map[string]any
	Outcome        OutcomeKind
	Status         Status
	ErrorDetail    string
	RequestedAt    int64
	AcknowledgedAt int64
	ExecutedAt     int64
	DurationMs     int64
	CreatedAt      time.Time
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
