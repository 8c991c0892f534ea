package rollout

import (
	"errors"
	"testing"

	"github.com/example/ecs-manage/internal/core/failure"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		phase      Phase
		rolledBack bool
		escalated  bool
		err        error
		want       Status
	}{
		{name: "committed", phase: PhaseSucceeded, want: StatusSuccess},
		{name: "restored", phase: PhaseFailed, rolledBack: true, err: failure.New(failure.KindHealthCheckFailed, "crash loop"), want: StatusRolledBack},
		{name: "escalated", phase: PhaseFailed, escalated: true, err: errors.New("draining"), want: StatusEscalated},
		{name: "rollback failure kind", phase: PhaseFailed, err: failure.New(failure.KindRollbackFailed, "x"), want: StatusEscalated},
		{name: "rejected", phase: PhaseFailed, err: failure.New(failure.KindPlatformRejected, "x"), want: StatusFailed},
		{name: "succeeded phase with error", phase: PhaseSucceeded, err: errors.New("scaling stopped"), want: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.phase, tt.rolledBack, tt.escalated, tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatus_ExitCode(t *testing.T) {
	tests := []struct {
		status Status
		want   int
	}{
		{StatusSuccess, 0},
		{StatusFailed, 1},
		{StatusRolledBack, 2},
		{StatusEscalated, 3},
	}
	for _, tt := range tests {
		if got := tt.status.ExitCode(); got != tt.want {
			t.Errorf("%s.ExitCode() = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestWorst(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{name: "none", statuses: nil, want: StatusSuccess},
		{name: "all good", statuses: []Status{StatusSuccess, StatusSuccess}, want: StatusSuccess},
		{name: "rolled back beats success", statuses: []Status{StatusSuccess, StatusRolledBack}, want: StatusRolledBack},
		{name: "failed beats rolled back", statuses: []Status{StatusRolledBack, StatusFailed, StatusSuccess}, want: StatusFailed},
		{name: "escalated beats all", statuses: []Status{StatusFailed, StatusEscalated, StatusRolledBack}, want: StatusEscalated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outcomes []Outcome
			for _, s := range tt.statuses {
				outcomes = append(outcomes, Outcome{Status: s})
			}
			if got := Worst(outcomes); got != tt.want {
				t.Errorf("Worst() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusRolledBack, StatusFailed, StatusEscalated} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("pending").Valid() {
		t.Error("pending is a phase, not a status")
	}
}
