// Package cli provides thin CLI adapters that translate between CLI concerns
// and application services. Adapters handle output formatting but delegate
// business logic to services.
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/example/ecs-manage/internal/core/rollout"
)

func statusIcon(s rollout.Status) string {
	switch s {
	case rollout.StatusSuccess:
		return color.New(color.FgGreen).Sprint("✓")
	case rollout.StatusRolledBack:
		return color.New(color.FgYellow).Sprint("↩")
	case rollout.StatusEscalated:
		return color.New(color.FgRed, color.Bold).Sprint("!!")
	default:
		return color.New(color.FgRed).Sprint("✗")
	}
}

func statusLabel(s rollout.Status) string {
	switch s {
	case rollout.StatusSuccess:
		return color.New(color.FgGreen).Sprint(string(s))
	case rollout.StatusRolledBack:
		return color.New(color.FgYellow).Sprint(string(s))
	case rollout.StatusEscalated:
		return color.New(color.FgRed, color.Bold).Sprint("ESCALATED")
	default:
		return color.New(color.FgRed).Sprint(string(s))
	}
}

// printOutcome writes the human-readable report of one outcome.
func printOutcome(out io.Writer, o rollout.Outcome) {
	fmt.Fprintf(out, "%s %s: %s (%s)\n", statusIcon(o.Status), o.ServiceID, o.Reason, statusLabel(o.Status))
	if o.RevisionUsed != "" {
		fmt.Fprintf(out, "  revision: %s", o.RevisionUsed)
		if o.Registered {
			fmt.Fprint(out, " (registered)")
		}
		fmt.Fprintln(out)
	}
	if o.PreviousRevision != "" && o.PreviousRevision != o.RevisionUsed {
		fmt.Fprintf(out, "  previous: %s\n", o.PreviousRevision)
	}
	fmt.Fprintf(out, "  tasks:    %d/%d running\n", o.RunningCount, o.DesiredCount)
	if len(o.Transitions) > 1 {
		phases := make([]string, len(o.Transitions))
		for i, p := range o.Transitions {
			phases[i] = string(p)
		}
		fmt.Fprintf(out, "  phases:   %s\n", strings.Join(phases, " → "))
	}
	fmt.Fprintf(out, "  took:     %s\n", o.Duration.Round(time.Second))
	if o.Err != nil && o.Status != rollout.StatusSuccess {
		fmt.Fprintf(out, "  error:    %v\n", o.Err)
	}
	if o.Escalated {
		fmt.Fprintln(out, color.New(color.FgRed, color.Bold).Sprint("  service state is unknown; manual intervention required"))
	}
}

// printSummary writes a one-line tally when several outcomes were reported.
func printSummary(out io.Writer, outcomes []rollout.Outcome) {
	if len(outcomes) < 2 {
		return
	}
	counts := make(map[rollout.Status]int)
	for _, o := range outcomes {
		counts[o.Status]++
	}
	fmt.Fprintf(out, "\n%d services: %d succeeded, %d rolled back, %d failed, %d escalated\n",
		len(outcomes),
		counts[rollout.StatusSuccess],
		counts[rollout.StatusRolledBack],
		counts[rollout.StatusFailed],
		counts[rollout.StatusEscalated],
	)
}
