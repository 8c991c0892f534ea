package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/ports/primary"
)

// HistoryAdapter translates the history subcommand to HistoryService calls.
type HistoryAdapter struct {
	service primary.HistoryService
	out     io.Writer
}

// NewHistoryAdapter creates a new HistoryAdapter with the given service.
func NewHistoryAdapter(service primary.HistoryService, out io.Writer) *HistoryAdapter {
	return &HistoryAdapter{
		service: service,
		out:     out,
	}
}

// List prints recorded outcomes, newest first.
func (a *HistoryAdapter) List(ctx context.Context, filters primary.HistoryFilters) error {
	entries, err := a.service.ListHistory(ctx, filters)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No outcomes recorded")
		return nil
	}

	fmt.Fprintf(a.out, "\n%-22s %-3s %-12s %-25s %-10s %s\n", "STARTED", "", "STATUS", "SERVICE", "TOOK", "REASON")
	fmt.Fprintln(a.out, "────────────────────────────────────────────────────────────────────────────────")
	for _, e := range entries {
		status := rollout.Status(e.Status)
		fmt.Fprintf(a.out, "%-22s %-3s %-12s %-25s %-10s %s\n", e.StartedAt, statusIcon(status), e.Status, e.Service, e.Duration, e.Reason)
	}
	fmt.Fprintln(a.out)
	return nil
}

// Show prints one recorded outcome.
func (a *HistoryAdapter) Show(ctx context.Context, id string) error {
	e, err := a.service.GetOutcome(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "\nInvocation: %s\n", e.ID)
	fmt.Fprintf(a.out, "Service:    %s\n", e.Service)
	fmt.Fprintf(a.out, "Status:     %s\n", statusLabel(rollout.Status(e.Status)))
	fmt.Fprintf(a.out, "Phase:      %s\n", e.Phase)
	if e.RevisionUsed != "" {
		fmt.Fprintf(a.out, "Revision:   %s\n", e.RevisionUsed)
	}
	fmt.Fprintf(a.out, "Tasks:      %d/%d running\n", e.RunningCount, e.DesiredCount)
	fmt.Fprintf(a.out, "Started:    %s\n", e.StartedAt)
	fmt.Fprintf(a.out, "Took:       %s\n", e.Duration)
	fmt.Fprintf(a.out, "Reason:     %s\n", e.Reason)
	fmt.Fprintln(a.out)
	return nil
}
