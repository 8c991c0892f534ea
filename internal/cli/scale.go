package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/ports/primary"
	"github.com/example/ecs-manage/internal/wire"
)

var scaleCmd = &cobra.Command{
	Use:   "scale <cluster> <service> <count>",
	Short: "Change the desired count of a service",
	Long: `Scale moves a service to a new desired count without touching its
task definition. With --step the change happens in increments, each one
waiting until the running count catches up.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := parseScaleRequest(cmd, args)
		if err != nil {
			return err
		}

		o := wire.ReconcileAdapterWithOutput(cmd.OutOrStdout()).Scale(cmd.Context(), req)
		if code := o.Status.ExitCode(); code != 0 {
			return &ExitError{Code: code}
		}
		return nil
	},
}

func parseScaleRequest(cmd *cobra.Command, args []string) (primary.ScaleRequest, error) {
	count, err := strconv.Atoi(args[2])
	if err != nil || count < 0 {
		return primary.ScaleRequest{}, fmt.Errorf("invalid count %q: must be a non-negative integer", args[2])
	}

	lower, _ := cmd.Flags().GetInt("min")
	upper, _ := cmd.Flags().GetInt("max")
	step, _ := cmd.Flags().GetInt("step")
	stepTimeout, _ := cmd.Flags().GetDuration("step-timeout")

	return primary.ScaleRequest{
		ID:    service.ID{Cluster: args[0], Service: args[1]},
		Count: count,
		Policy: service.ScalingPolicy{
			Min:         lower,
			Max:         upper,
			Step:        step,
			StepTimeout: stepTimeout,
		},
	}, nil
}

// ScaleCmd returns the scale command
func ScaleCmd() *cobra.Command {
	scaleCmd.Flags().Int("min", 0, "Lowest allowed count")
	scaleCmd.Flags().Int("max", 0, "Highest allowed count (0 means unbounded)")
	scaleCmd.Flags().Int("step", 0, "Largest change per step (0 means one step)")
	scaleCmd.Flags().Duration("step-timeout", 0, "Wait per step for running tasks (default from config)")
	return scaleCmd
}
