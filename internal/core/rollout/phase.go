// Package rollout contains the pure business logic of a service rollout:
// the phase state machine, deployment budgets, and health verification.
// This is part of the Functional Core - no I/O, only pure functions.
package rollout

import "fmt"

// Phase is a state of the rollout state machine.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseDeploying   Phase = "deploying"
	PhaseVerifying   Phase = "verifying"
	PhaseCommitted   Phase = "committed"
	PhaseRollingBack Phase = "rolling_back"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
)

// Phases lists every phase, in lifecycle order.
var Phases = []Phase{
	PhasePending,
	PhaseDeploying,
	PhaseVerifying,
	PhaseCommitted,
	PhaseRollingBack,
	PhaseSucceeded,
	PhaseFailed,
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Event drives a phase transition.
type Event string

const (
	EventResolved        Event = "resolved"         // target revision and count known
	EventUpdateAcked     Event = "update_acked"     // platform accepted the update
	EventUpdateRejected  Event = "update_rejected"  // platform refused the update
	EventHealthy         Event = "healthy"          // sustained healthy
	EventFatal           Event = "fatal"            // crash loop or image pull failure
	EventBudgetExhausted Event = "budget_exhausted" // attempts used up
	EventTimeout         Event = "timeout"          // invocation deadline hit
	EventFinalized       Event = "finalized"        // commit recorded
	EventRestored        Event = "restored"         // rollback target healthy
	EventRollbackFailed  Event = "rollback_failed"  // rollback could not restore
)

// Events lists every event.
var Events = []Event{
	EventResolved,
	EventUpdateAcked,
	EventUpdateRejected,
	EventHealthy,
	EventFatal,
	EventBudgetExhausted,
	EventTimeout,
	EventFinalized,
	EventRestored,
	EventRollbackFailed,
}

var transitions = map[Phase]map[Event]Phase{
	PhasePending: {
		EventResolved: PhaseDeploying,
		EventTimeout:  PhaseFailed,
	},
	PhaseDeploying: {
		EventUpdateAcked:    PhaseVerifying,
		EventUpdateRejected: PhaseFailed,
		// The update may have landed; restore the previous revision.
		EventTimeout: PhaseRollingBack,
	},
	PhaseVerifying: {
		EventHealthy:         PhaseCommitted,
		EventFatal:           PhaseRollingBack,
		EventBudgetExhausted: PhaseRollingBack,
		EventTimeout:         PhaseRollingBack,
	},
	PhaseCommitted: {
		EventFinalized: PhaseSucceeded,
	},
	PhaseRollingBack: {
		EventRestored:       PhaseFailed,
		EventRollbackFailed: PhaseFailed,
	},
	PhaseSucceeded: {},
	PhaseFailed:    {},
}

// Transition returns the phase reached by applying ev in phase p.
// Every (phase, event) pair not listed in the table is rejected.
func Transition(p Phase, ev Event) (Phase, error) {
	table, ok := transitions[p]
	if !ok {
		return p, fmt.Errorf("unknown rollout phase %q", p)
	}
	next, ok := table[ev]
	if !ok {
		return p, fmt.Errorf("invalid rollout transition: %s on %s", ev, p)
	}
	return next, nil
}
