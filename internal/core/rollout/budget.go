package rollout

import (
	"fmt"

	"github.com/example/ecs-manage/internal/core/service"
)

// Budget is the capacity envelope of a rollout in task counts.
type Budget struct {
	MaxSurge       int // extra tasks allowed above desired
	MaxUnavailable int // tasks allowed below desired
}

// ComputeBudget converts policy percentages into counts against desired.
// Surge rounds up and unavailable rounds down, so the declared unavailable
// budget is never exceeded.
func ComputeBudget(desired int, policy service.DeploymentPolicy) Budget {
	if desired <= 0 {
		return Budget{}
	}
	surge := (desired*policy.MaxSurgePercent + 99) / 100
	unavailable := desired * policy.MaxUnavailablePercent / 100
	if unavailable > desired {
		unavailable = desired
	}
	return Budget{MaxSurge: surge, MaxUnavailable: unavailable}
}

// PlatformBounds are the percentage bounds understood by the platform.
type PlatformBounds struct {
	MinimumHealthyPercent int
	MaximumPercent        int
}

// Bounds translates a budget into platform percentages. The platform rounds
// the healthy minimum up and the maximum down, so the minimum is rounded
// up and the maximum down here as well.
func (b Budget) Bounds(desired int) PlatformBounds {
	if desired <= 0 {
		return PlatformBounds{MinimumHealthyPercent: 100, MaximumPercent: 200}
	}
	minHealthy := desired - b.MaxUnavailable
	maxTotal := desired + b.MaxSurge
	return PlatformBounds{
		MinimumHealthyPercent: (minHealthy*100 + desired - 1) / desired,
		MaximumPercent:        maxTotal * 100 / desired,
	}
}

// ValidatePolicy rejects policies under which a rollout could never make
// progress or which are out of range.
func ValidatePolicy(desired int, policy service.DeploymentPolicy) error {
	if policy.MaxSurgePercent < 0 || policy.MaxUnavailablePercent < 0 {
		return fmt.Errorf("deployment percentages must be non-negative")
	}
	if policy.MaxUnavailablePercent > 100 {
		return fmt.Errorf("max unavailable percent %d exceeds 100", policy.MaxUnavailablePercent)
	}
	b := ComputeBudget(desired, policy)
	if desired > 0 && b.MaxSurge == 0 && b.MaxUnavailable == 0 {
		return fmt.Errorf("deployment policy allows neither surge nor unavailability for %d tasks", desired)
	}
	return nil
}
