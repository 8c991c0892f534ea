package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/ports/primary"
)

// InspectorAdapter translates the services subcommands to
// InspectorService calls.
type InspectorAdapter struct {
	service primary.InspectorService
	out     io.Writer
}

// NewInspectorAdapter creates a new InspectorAdapter with the given service.
func NewInspectorAdapter(service primary.InspectorService, out io.Writer) *InspectorAdapter {
	return &InspectorAdapter{
		service: service,
		out:     out,
	}
}

// Info prints one line per service of a cluster.
func (a *InspectorAdapter) Info(ctx context.Context, cluster string) error {
	summaries, err := a.service.Info(ctx, cluster)
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		fmt.Fprintf(a.out, "No services found in %s\n", cluster)
		return nil
	}

	fmt.Fprintf(a.out, "\n%-30s %-9s %-9s %s\n", "SERVICE", "DESIRED", "RUNNING", "TASK DEFINITION")
	fmt.Fprintln(a.out, "────────────────────────────────────────────────────────────────────────────────")
	for _, s := range summaries {
		running := fmt.Sprintf("%d", s.RunningCount)
		if s.RunningCount < s.DesiredCount {
			running = color.New(color.FgYellow).Sprint(running)
		}
		fmt.Fprintf(a.out, "%-30s %-9d %-9s %s\n", s.Name, s.DesiredCount, running, taskDefinitionName(s.TaskDefinition))
	}
	fmt.Fprintln(a.out)
	return nil
}

// Audit prints the findings of every service that has any.
func (a *InspectorAdapter) Audit(ctx context.Context, cluster string) error {
	results, err := a.service.Audit(ctx, cluster)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Fprintf(a.out, "%s No findings in %s\n", color.New(color.FgGreen).Sprint("✓"), cluster)
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(a.out, "%s: %s\n", r.Name, color.New(color.FgYellow).Sprint(strings.Join(r.Findings, ", ")))
	}
	return nil
}

// Compare prints the services of source missing from destination.
func (a *InspectorAdapter) Compare(ctx context.Context, req primary.CompareRequest) error {
	missing, err := a.service.Compare(ctx, req)
	if err != nil {
		return err
	}

	if len(missing) == 0 {
		fmt.Fprintf(a.out, "%s Every service of %s exists in %s\n", color.New(color.FgGreen).Sprint("✓"), req.SourceCluster, req.DestinationCluster)
		return nil
	}
	fmt.Fprintln(a.out, "Not in destination:")
	for _, name := range missing {
		fmt.Fprintf(a.out, "%s/%s\n", req.SourceCluster, name)
	}
	fmt.Fprintf(a.out, "Total: %d\n", len(missing))
	return nil
}

// Sync creates the services missing from destination and prints what
// happened to each. It returns how many creations failed.
func (a *InspectorAdapter) Sync(ctx context.Context, req primary.SyncRequest) (int, error) {
	results, err := a.service.Sync(ctx, req)

	failed := 0
	for _, r := range results {
		id := fmt.Sprintf("%s/%s", req.DestinationCluster, r.Name)
		switch {
		case len(r.Findings) > 0:
			fmt.Fprintf(a.out, "%s %s/%s skipped: %s\n", color.New(color.FgYellow).Sprint("⚠"), req.SourceCluster, r.Name, strings.Join(r.Findings, ", "))
		case r.Err != nil:
			failed++
			fmt.Fprintf(a.out, "%s %s: %v\n", color.New(color.FgRed).Sprint("✗"), id, r.Err)
		case r.Created:
			role := r.Role
			if role == "" {
				role = "service-linked role"
			}
			fmt.Fprintf(a.out, "%s %s created with %s\n", color.New(color.FgGreen).Sprint("✓"), id, role)
		}
	}
	if len(results) == 0 && err == nil {
		fmt.Fprintf(a.out, "%s Every service of %s exists in %s\n", color.New(color.FgGreen).Sprint("✓"), req.SourceCluster, req.DestinationCluster)
	}
	return failed, err
}

// Export prints a JSON object mapping service names to desired counts.
func (a *InspectorAdapter) Export(ctx context.Context, cluster string) error {
	counts, err := a.service.Export(ctx, cluster)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(counts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	fmt.Fprintln(a.out, string(data))
	return nil
}

// UpdateDesiredCount scales every service of a cluster and reports each
// outcome.
func (a *InspectorAdapter) UpdateDesiredCount(ctx context.Context, req primary.UpdateDesiredCountRequest) ([]rollout.Outcome, error) {
	outcomes, err := a.service.UpdateDesiredCount(ctx, req)
	for _, o := range outcomes {
		printOutcome(a.out, o)
	}
	printSummary(a.out, outcomes)
	return outcomes, err
}

// taskDefinitionName shortens an ARN to family:revision.
func taskDefinitionName(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
