package detect

import "time"

// DefaultMinRepInterval suppresses reps completing closer together than this.
const DefaultMinRepInterval = 300 * time.Millisecond

// CounterState is the position of the counter within a repetition.
type CounterState int

const (
	WaitingForDown CounterState = iota
	WaitingForUp
)

func (s CounterState) String() string {
	switch s {
	case WaitingForDown:
		return "waiting_for_down"
	case WaitingForUp:
		return "waiting_for_up"
	default:
		return "unknown"
	}
}

// Counter detects one down->up cycle as one repetition. Transition phases
// never change its state. It is a plain state machine; callers serialize access.
type Counter struct {
	state       CounterState
	minInterval time.Duration
	lastRep     time.Time
}

// NewCounter returns a Counter in WaitingForDown. A negative interval disables
// the inter-rep guard.
func NewCounter(minInterval time.Duration) *Counter {
	return &Counter{minInterval: max(minInterval, 0)}
}

// State returns the current counter state.
func (c *Counter) State() CounterState {
	return c.state
}

// Reset returns the counter to WaitingForDown and forgets the last rep time.
func (c *Counter) Reset() {
	c.state = WaitingForDown
	c.lastRep = time.Time{}
}

// Observe feeds one phase observed at ts and reports whether it completed a
// counted repetition. A cycle completing inside the guard interval of the
// previous counted rep is consumed without counting.
func (c *Counter) Observe(p Phase, ts time.Time) bool {
	switch {
	case c.state == WaitingForDown && p == PhaseDown:
		c.state = WaitingForUp
	case c.state == WaitingForUp && p == PhaseUp:
		c.state = WaitingForDown
		if !c.lastRep.IsZero() && ts.Sub(c.lastRep) < c.minInterval {
			return false
		}
		c.lastRep = ts
		return true
	}
	return false
}
