package core

// Phase is the scheduler's position in its rescan cycle. It advances once per
// tick, only while the queues and in-flight set are both empty, giving an
// alternating scan/drain/scan/drain/settle cadence instead of scanning on
// every tick.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBooted
	PhaseRescanned
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBooted:
		return "booted"
	case PhaseRescanned:
		return "rescanned"
	default:
		return "unknown"
	}
}

// Next returns the following phase in the cycle.
func (p Phase) Next() Phase {
	switch p {
	case PhaseIdle:
		return PhaseBooted
	case PhaseBooted:
		return PhaseRescanned
	default:
		return PhaseIdle
	}
}

// Scans reports whether entering this phase triggers a full rescan of every
// source. The settle step back to idle does not.
func (p Phase) Scans() bool {
	return p == PhaseBooted || p == PhaseRescanned
}
