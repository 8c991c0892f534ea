package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/ecs-manage/internal/config"
	"github.com/example/ecs-manage/internal/wire"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <spec.yaml>...",
	Short: "Reconcile services against their specs",
	Long: `Deploy reads one or more service spec files, each of which may hold
several YAML documents, and brings every service to its desired state.
Failed rollouts are rolled back to the previous revision.

Exit status: 0 success, 2 rolled back, 3 escalated, 1 any other failure.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := config.LoadServiceSpecs(args...)
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			return fmt.Errorf("no service specs found in %v", args)
		}

		parallel, _ := cmd.Flags().GetInt("parallel")
		if parallel <= 0 {
			parallel = wire.Config().Parallel
		}

		outcomes := wire.ReconcileAdapterWithOutput(cmd.OutOrStdout()).Deploy(cmd.Context(), specs, parallel)
		return outcomeError(outcomes)
	},
}

// DeployCmd returns the deploy command
func DeployCmd() *cobra.Command {
	deployCmd.Flags().IntP("parallel", "p", 0, "Services reconciled at once (default from config)")
	return deployCmd
}
