// Package scaling contains the pure business logic for desired count changes.
// This is part of the Functional Core - no I/O, only pure functions.
package scaling

import (
	"fmt"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/service"
)

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string // Human-readable reason (populated when not allowed)
}

// Error returns the guard result as an OutOfBounds failure if not allowed,
// nil otherwise.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return failure.New(failure.KindOutOfBounds, "%s", r.Reason)
}

// CanScaleTo evaluates whether target is within the configured bounds.
// Rule: counts are non-negative, target >= Min, and target <= Max unless
// Max is zero (unbounded).
func CanScaleTo(target int, policy service.ScalingPolicy) GuardResult {
	if target < 0 {
		return GuardResult{Reason: fmt.Sprintf("desired count %d is negative", target)}
	}
	if target < policy.Min {
		return GuardResult{Reason: fmt.Sprintf("desired count %d is below minimum %d", target, policy.Min)}
	}
	if policy.Max > 0 && target > policy.Max {
		return GuardResult{Reason: fmt.Sprintf("desired count %d is above maximum %d", target, policy.Max)}
	}
	return GuardResult{Allowed: true}
}

// PlanSteps returns the sequence of intermediate desired counts that moves
// current to target, each differing from the previous by at most step. The
// last element is always target. A step of zero applies the change at once.
// An empty plan means nothing to do.
func PlanSteps(current, target, step int) []int {
	if current == target {
		return nil
	}
	if step <= 0 {
		return []int{target}
	}

	var steps []int
	next := current
	for next != target {
		if target > next {
			next = min(next+step, target)
		} else {
			next = max(next-step, target)
		}
		steps = append(steps, next)
	}
	return steps
}

// Stabilized reports whether a service has converged on a desired count.
func Stabilized(state service.ServiceState, desired int) bool {
	return state.RunningCount == desired && state.PendingCount == 0
}
