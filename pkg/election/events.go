package election

import "time"

// EventKind distinguishes the two leadership transitions.
type EventKind string

const (
	// EventAcquired fires on every transition into leading.
	EventAcquired EventKind = "Acquired"
	// EventLost fires on every transition out of leading.
	EventLost EventKind = "Lost"
)

// LostReason explains an EventLost.
type LostReason string

const (
	// ReasonSuperseded means another process took the lease over.
	ReasonSuperseded LostReason = "Superseded"
	// ReasonDeadlineExpired means no renewal was confirmed before the local
	// renew deadline.
	ReasonDeadlineExpired LostReason = "DeadlineExpired"
	// ReasonPermissionDenied means the store rejected access; the loop stops.
	ReasonPermissionDenied LostReason = "PermissionDenied"
	// ReasonShuttingDown means leadership was given up voluntarily.
	ReasonShuttingDown LostReason = "ShuttingDown"
)

// Event is one leadership transition. Acquired and Lost strictly alternate
// for a given elector: no Acquired while already leading, no Lost without a
// preceding Acquired.
type Event struct {
	Kind EventKind

	// Identity is the holder identity of this process. Set on Acquired.
	Identity string

	// Transitions is the transition counter recorded on the lease at the
	// moment leadership was taken. Set on Acquired.
	Transitions int32

	// Reason is set on Lost.
	Reason LostReason

	// At is the local time the transition was observed.
	At time.Time
}

func reasonLabel(r LostReason) string {
	switch r {
	case ReasonSuperseded:
		return "superseded"
	case ReasonDeadlineExpired:
		return "deadline_expired"
	case ReasonPermissionDenied:
		return "permission_denied"
	case ReasonShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}
