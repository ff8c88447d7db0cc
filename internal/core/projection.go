package core

// Phase is the progress state derived purely from record fields, for
// progress display. It never feeds back into the record.
type Phase string

const (
	PhaseValidating  Phase = "validating"
	PhaseSent        Phase = "sent"
	PhaseAwaitingAck Phase = "awaiting_ack"
	PhaseExecuting   Phase = "executing"
	PhaseCompleted   Phase = "completed"
	PhaseErrored     Phase = "errored"
	PhaseTimedOut    Phase = "timed_out"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseErrored, PhaseTimedOut:
		return true
	default:
		return false
	}
}

var phaseRank = map[Phase]int{
	PhaseValidating:  0,
	PhaseSent:        1,
	PhaseAwaitingAck: 2,
	PhaseExecuting:   3,
	PhaseCompleted:   4,
	PhaseErrored:     4,
	PhaseTimedOut:    4,
}

// CanEnter reports whether moving from one phase to the next is legal:
// phases only advance, a terminal phase is never left, and completed is
// reachable only from awaiting-ack or executing (a device may complete
// without an explicit acknowledgement step). Errored and timed-out may be
// entered from any non-terminal phase.
func CanEnter(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseCompleted {
		return from == PhaseAwaitingAck || from == PhaseExecuting
	}
	return phaseRank[to] > phaseRank[from]
}

// Project classifies a record into its display phase. It is a pure
// function: a record with some but not all expected fields is simply not
// yet in the later state.
func Project(rec Record) Phase {
	switch {
	case rec.Status == StatusError:
		return PhaseErrored
	case rec.Status == StatusTimeout:
		return PhaseTimedOut
	case rec.Status == StatusCompleted && rec.ExecutedAt != 0:
		return PhaseCompleted
	case rec.AcknowledgedAt != 0:
		return PhaseExecuting
	default:
		return PhaseAwaitingAck
	}
}
