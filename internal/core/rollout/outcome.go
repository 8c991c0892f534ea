package rollout

import (
	"time"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/service"
)

// Status summarizes how an invocation ended.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusRolledBack Status = "rolled_back" // target failed, service restored
	StatusFailed     Status = "failed"
	StatusEscalated  Status = "escalated" // rollback failed, state unknown
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusRolledBack, StatusFailed, StatusEscalated:
		return true
	}
	return false
}

// Severity orders statuses; higher is worse.
func (s Status) Severity() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusRolledBack:
		return 1
	case StatusFailed:
		return 2
	case StatusEscalated:
		return 3
	default:
		return 2
	}
}

// ExitCode maps a status to the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusRolledBack:
		return 2
	case StatusEscalated:
		return 3
	default:
		return 1
	}
}

// Outcome is the single terminal result of one reconciliation invocation.
type Outcome struct {
	InvocationID     string
	ServiceID        service.ID
	Phase            Phase
	Status           Status
	RevisionUsed     string
	PreviousRevision string
	Registered       bool // a new revision was registered
	Scaled           bool // the desired count was changed
	RolledOut        bool // a rollout was attempted
	DesiredCount     int
	RunningCount     int
	StartedAt        time.Time
	Duration         time.Duration
	Reason           string
	Err              error
	Escalated        bool
	Transitions      []Phase
}

// Classify derives the status from the terminal phase and error.
func Classify(phase Phase, rolledBack, escalated bool, err error) Status {
	switch {
	case escalated || failure.Is(err, failure.KindRollbackFailed):
		return StatusEscalated
	case phase == PhaseSucceeded && err == nil:
		return StatusSuccess
	case rolledBack:
		return StatusRolledBack
	default:
		return StatusFailed
	}
}

// Worst returns the most severe status among outcomes, or StatusSuccess if
// there are none.
func Worst(outcomes []Outcome) Status {
	worst := StatusSuccess
	for _, o := range outcomes {
		if o.Status.Severity() > worst.Severity() {
			worst = o.Status
		}
	}
	return worst
}
