// Package primary defines the primary ports (driving adapters) for the application.
// These are the interfaces through which the CLI drives the application.
package primary

import (
	"context"

	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/core/service"
)

// ReconcileService defines the primary port for deploy and scale operations.
// Every call ends with exactly one outcome per service; failures are
// reported inside the outcome rather than returned as errors.
type ReconcileService interface {
	// Deploy reconciles one service against its spec.
	Deploy(ctx context.Context, spec service.ServiceSpec) rollout.Outcome

	// DeployAll reconciles several services concurrently, at most parallel
	// at a time. Outcomes are returned in spec order.
	DeployAll(ctx context.Context, specs []service.ServiceSpec, parallel int) []rollout.Outcome

	// Scale changes the desired count of a service without touching its
	// revision.
	Scale(ctx context.Context, req ScaleRequest) rollout.Outcome
}

// ScaleRequest contains parameters for scaling a service.
type ScaleRequest struct {
	ID     service.ID
	Count  int
	Policy service.ScalingPolicy
}
