package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/ports/primary"
	"github.com/example/ecs-manage/internal/wire"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded outcomes",
	Long:  "List the outcomes recorded by previous deploy and scale invocations, newest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := historyFilters(cmd)
		if err != nil {
			return err
		}
		return wire.HistoryAdapter().List(cmd.Context(), filters)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <invocation-id>",
	Short: "Show one recorded outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return wire.HistoryAdapter().Show(cmd.Context(), args[0])
	},
}

func historyFilters(cmd *cobra.Command) (primary.HistoryFilters, error) {
	cluster, _ := cmd.Flags().GetString("cluster")
	svc, _ := cmd.Flags().GetString("service")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	if status != "" && !rollout.Status(status).Valid() {
		return primary.HistoryFilters{}, fmt.Errorf("invalid status %q\nValid statuses: success, rolled_back, failed, escalated", status)
	}

	return primary.HistoryFilters{
		Cluster: cluster,
		Service: svc,
		Status:  status,
		Limit:   limit,
	}, nil
}

// HistoryCmd returns the history command
func HistoryCmd() *cobra.Command {
	historyCmd.Flags().StringP("cluster", "c", "", "Filter by cluster")
	historyCmd.Flags().StringP("service", "s", "", "Filter by service")
	historyCmd.Flags().String("status", "", "Filter by status (success, rolled_back, failed, escalated)")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum outcomes to show")

	historyCmd.AddCommand(historyShowCmd)

	return historyCmd
}
