package manager

import (
	"time"
)

// State is where a task is in its life.
type State string

const (
	StateUnknown   State = "unknown"
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Lifecycle is published on the manager's broker for every transition and
// forwarded signal.
type Lifecycle struct {
	TaskID  string
	Kind    string
	State   State
	Signal  string // set for pubsub.SignalEvent
	Args    []any  // set for pubsub.SignalEvent
	Reason  string // set for failed tasks
	Running int
	Pending int
	At      time.Time
}

// Outcome is what is remembered about a task after it finishes.
type Outcome struct {
	TaskID     string
	Kind       string
	Params     map[string]string
	Isolation  string
	State      State
	Reason     string
	Signals    int
	AdmittedAt time.Time
	StartedAt  time.Time // zero when the task never started
	FinishedAt time.Time
}

// RunTime returns how long the task ran, or zero if it never started.
func (o Outcome) RunTime() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// WaitTime returns how long the task waited for a slot.
func (o Outcome) WaitTime() time.Duration {
	end := o.StartedAt
	if end.IsZero() {
		end = o.FinishedAt
	}
	if end.IsZero() || o.AdmittedAt.IsZero() {
		return 0
	}
	return end.Sub(o.AdmittedAt)
}
