package models

import "time"

// DeviceStatus is the lifecycle state of a device during a run.
type DeviceStatus int

// Device states. The numeric order is the transition order; terminal states share
// the last rank.
const (
	StatusPending DeviceStatus = iota
	StatusWaking
	StatusCheckingHealth
	StatusHealthy
	StatusFailed
	StatusBlocked
)

func (s DeviceStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusWaking:
		return "waking"
	case StatusCheckingHealth:
		return "checking_health"
	case StatusHealthy:
		return "healthy"
	case StatusFailed:
		return "failed"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s DeviceStatus) Terminal() bool {
	return s == StatusHealthy || s == StatusFailed || s == StatusBlocked
}

func (s DeviceStatus) rank() int {
	if s.Terminal() {
		return int(StatusHealthy)
	}
	return int(s)
}

// CanTransition reports whether moving from s to next is a forward transition.
// Blocked is only reachable from Pending.
func (s DeviceStatus) CanTransition(next DeviceStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusBlocked {
		return s == StatusPending
	}
	return next.rank() > s.rank()
}

// Event is published on every device state transition.
type Event struct {
	RunID  string
	Time   time.Time
	Device string
	From   DeviceStatus
	To     DeviceStatus
	Err    error // nil unless To is Failed or Blocked
}

// RunResult is the aggregate outcome of one orchestrated run.
type RunResult struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Statuses  map[string]DeviceStatus
	Errors    map[string]error
	WakeOrder []string // devices in the order their WOL packet was dispatched
	Success   bool
}

// Count returns how many devices ended in the given status.
func (r *RunResult) Count(status DeviceStatus) int {
	n := 0
	for _, s := range r.Statuses {
		if s == status {
			n++
		}
	}
	return n
}
