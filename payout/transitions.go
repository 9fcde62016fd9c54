package payout

// =============================================================================
// PAYOUT STATE MACHINE
// =============================================================================
//
//   (none) --attendance--> underReview --approve--> pending --pay--> paid
//                               |                                   ^
//                               +---------------pay-----------------+
//   (none) --manual------> pending
//
// paid is terminal.

type Event string

const (
	EventApprove Event = "approve"
	EventPay     Event = "pay"
)

// Origin is how a payout came into existence.
type Origin string

const (
	OriginAttendance Origin = "attendance"
	OriginManual     Origin = "manual"
)

// Transition is one allowed edge.
type Transition struct {
	From  PayoutStatus
	Event Event
	To    PayoutStatus
}

var transitionsTable = []Transition{
	{From: PayoutUnderReview, Event: EventApprove, To: PayoutPending},
	{From: PayoutUnderReview, Event: EventPay, To: PayoutPaid},
	{From: PayoutPending, Event: EventPay, To: PayoutPaid},
}

var initialStatus = map[Origin]PayoutStatus{
	OriginAttendance: PayoutUnderReview,
	OriginManual:     PayoutPending,
}

// TransitionFor returns the edge for a status+event pair.
func TransitionFor(from PayoutStatus, ev Event) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// Reachable lists the statuses one event away from the given status.
func Reachable(from PayoutStatus) []PayoutStatus {
	var out []PayoutStatus
	for _, tr := range transitionsTable {
		if tr.From == from {
			out = append(out, tr.To)
		}
	}
	return out
}

// InitialStatus is the status a newly created payout starts in.
func InitialStatus(o Origin) PayoutStatus {
	return initialStatus[o]
}

// EventFor maps a requested target status to the event that reaches it.
func EventFor(to PayoutStatus) (Event, bool) {
	switch to {
	case PayoutPending:
		return EventApprove, true
	case PayoutPaid:
		return EventPay, true
	}
	return "", false
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(s PayoutStatus) bool {
	return len(Reachable(s)) == 0
}
