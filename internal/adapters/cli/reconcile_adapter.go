package cli

import (
	"context"
	"io"

	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/ports/primary"
)

// ReconcileAdapter is a thin adapter that translates CLI operations to
// ReconcileService calls.
type ReconcileAdapter struct {
	service primary.ReconcileService
	out     io.Writer
}

// NewReconcileAdapter creates a new ReconcileAdapter with the given service.
func NewReconcileAdapter(service primary.ReconcileService, out io.Writer) *ReconcileAdapter {
	return &ReconcileAdapter{
		service: service,
		out:     out,
	}
}

// Deploy reconciles every spec and reports each outcome. The outcomes are
// returned so the caller can derive the exit code.
func (a *ReconcileAdapter) Deploy(ctx context.Context, specs []service.ServiceSpec, parallel int) []rollout.Outcome {
	var outcomes []rollout.Outcome
	if len(specs) == 1 {
		outcomes = []rollout.Outcome{a.service.Deploy(ctx, specs[0])}
	} else {
		outcomes = a.service.DeployAll(ctx, specs, parallel)
	}

	for _, o := range outcomes {
		printOutcome(a.out, o)
	}
	printSummary(a.out, outcomes)
	return outcomes
}

// Scale changes the desired count of one service and reports the outcome.
func (a *ReconcileAdapter) Scale(ctx context.Context, req primary.ScaleRequest) rollout.Outcome {
	o := a.service.Scale(ctx, req)
	printOutcome(a.out, o)
	return o
}
