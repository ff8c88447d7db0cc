package core

import "testing"

func TestProject(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		want Phase
	}{
		{
			name: "pending record awaits acknowledgement",
			rec:  Record{Status: StatusPending, RequestedAt: 1000},
			want: PhaseAwaitingAck,
		},
		{
			name: "acknowledged record is executing",
			rec:  Record{Status: StatusAcknowledged, RequestedAt: 1000, AcknowledgedAt: 1500},
			want: PhaseExecuting,
		},
		{
			name: "executed timestamp without terminal status is still executing",
			rec:  Record{Status: StatusExecuting, RequestedAt: 1000, AcknowledgedAt: 1500, ExecutedAt: 2000},
			want: PhaseExecuting,
		},
		{
			name: "completed requires executed_at",
			rec:  Record{Status: StatusCompleted, RequestedAt: 1000},
			want: PhaseAwaitingAck,
		},
		{
			name: "completed with executed_at",
			rec:  Record{Status: StatusCompleted, RequestedAt: 1000, AcknowledgedAt: 1500, ExecutedAt: 2000},
			want: PhaseCompleted,
		},
		{
			name: "error wins over timestamps",
			rec:  Record{Status: StatusError, RequestedAt: 1000, AcknowledgedAt: 1500, ErrorDetail: "sensor fault"},
			want: PhaseErrored,
		},
		{
			name: "timeout set by the supervisor",
			rec:  Record{Status: StatusTimeout, RequestedAt: 1000},
			want: PhaseTimedOut,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Project(tc.rec); got != tc.want {
				t.Errorf("Project() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCanEnter(t *testing.T) {
	allowed := []struct{ from, to Phase }{
		{PhaseValidating, PhaseSent},
		{PhaseSent, PhaseAwaitingAck},
		{PhaseAwaitingAck, PhaseExecuting},
		{PhaseExecuting, PhaseCompleted},
		{PhaseAwaitingAck, PhaseCompleted},
		{PhaseSent, PhaseErrored},
		{PhaseAwaitingAck, PhaseErrored},
		{PhaseValidating, PhaseTimedOut},
		{PhaseExecuting, PhaseTimedOut},
	}
	for _, tc := range allowed {
		if !CanEnter(tc.from, tc.to) {
			t.Errorf("CanEnter(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Phase }{
		{PhaseCompleted, PhaseExecuting},
		{PhaseCompleted, PhaseErrored},
		{PhaseErrored, PhaseCompleted},
		{PhaseTimedOut, PhaseCompleted},
		{PhaseExecuting, PhaseAwaitingAck},
		{PhaseSent, PhaseValidating},
		{PhaseValidating, PhaseCompleted},
		{PhaseSent, PhaseCompleted},
	}
	for _, tc := range denied {
		if CanEnter(tc.from, tc.to) {
			t.Errorf("CanEnter(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusError, StatusTimeout} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusAcknowledged, StatusExecuting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
