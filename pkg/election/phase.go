package election

// Phase is the fine-grained state of the claim loop. Transitions are driven
// by one goroutine; other goroutines only ever read it through State and
// Snapshot.
type Phase int

const (
	// PhaseUnclaimed means this process holds nothing and is polling for the
	// record to become free.
	PhaseUnclaimed Phase = iota
	// PhaseAcquiring means a create or takeover attempt is in flight.
	PhaseAcquiring
	// PhaseLeading means the last renewal was confirmed and the local renew
	// deadline has not passed.
	PhaseLeading
	// PhaseRenewing means a renewal attempt is in flight or being retried,
	// still inside the renew deadline.
	PhaseRenewing
	// PhaseReleasing means a voluntary stand-down is being written.
	PhaseReleasing
	// PhaseLost means leadership ended; the loop returns to PhaseUnclaimed on
	// its next pass.
	PhaseLost
	// PhaseFailed means a non-retryable error stopped the loop.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnclaimed:
		return "Unclaimed"
	case PhaseAcquiring:
		return "Acquiring"
	case PhaseLeading:
		return "Leading"
	case PhaseRenewing:
		return "Renewing"
	case PhaseReleasing:
		return "Releasing"
	case PhaseLost:
		return "Lost"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// leading reports whether the phase carries a live leadership belief.
func (p Phase) leading() bool {
	return p == PhaseLeading || p == PhaseRenewing
}

// Status is the coarse synchronous answer to "does this process lead".
type Status string

const (
	// StatusUnclaimed means this process does not believe it leads.
	StatusUnclaimed Status = "Unclaimed"
	// StatusLeading means this process believes it leads and its renew
	// deadline has not passed.
	StatusLeading Status = "Leading"
	// StatusUnknown means the loop is mid-release or stopped on a failure and
	// no claim belief is available.
	StatusUnknown Status = "Unknown"
)

func (p Phase) status() Status {
	switch p {
	case PhaseLeading, PhaseRenewing:
		return StatusLeading
	case PhaseUnclaimed, PhaseAcquiring, PhaseLost:
		return StatusUnclaimed
	default:
		return StatusUnknown
	}
}
