package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/ecs-manage/internal/ports/primary"
	"github.com/example/ecs-manage/internal/wire"
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "Inspect and update the services of a cluster",
}

var servicesInfoCmd = &cobra.Command{
	Use:   "info <cluster>",
	Short: "Show desired and running counts of every service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return wire.InspectorAdapterWithOutput(cmd.OutOrStdout()).Info(cmd.Context(), args[0])
	},
}

var servicesAuditCmd = &cobra.Command{
	Use:   "audit <cluster>",
	Short: "Report services with problems",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return wire.InspectorAdapterWithOutput(cmd.OutOrStdout()).Audit(cmd.Context(), args[0])
	},
}

var servicesCompareCmd = &cobra.Command{
	Use:   "compare <source-cluster> <destination-cluster>",
	Short: "List services of source missing from destination",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceRegion, _ := cmd.Flags().GetString("source-region")
		destRegion, _ := cmd.Flags().GetString("destination-region")

		return wire.InspectorAdapterWithOutput(cmd.OutOrStdout()).Compare(cmd.Context(), primary.CompareRequest{
			SourceCluster:      args[0],
			SourceRegion:       sourceRegion,
			DestinationCluster: args[1],
			DestinationRegion:  destRegion,
		})
	},
}

var servicesSyncCmd = &cobra.Command{
	Use:   "sync <source-cluster> <destination-cluster> [role-suffix]",
	Short: "Create the services of source missing from destination",
	Long: `Sync creates in the destination cluster every service of the source
cluster that is missing there, with the source's task definition, desired
count, load balancers, network and placement settings. Services with audit
findings are skipped.

Services behind a load balancer without awsvpc networking get the IAM role
<destination-cluster>-<role-suffix>; the suffix defaults to ECSServiceRole.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := parseSyncRequest(cmd, args)
		failed, err := wire.InspectorAdapterWithOutput(cmd.OutOrStdout()).Sync(cmd.Context(), req)
		if err != nil {
			return err
		}
		if failed > 0 {
			return &ExitError{Code: 1, Msg: fmt.Sprintf("%d services could not be created", failed)}
		}
		return nil
	},
}

func parseSyncRequest(cmd *cobra.Command, args []string) primary.SyncRequest {
	sourceRegion, _ := cmd.Flags().GetString("source-region")
	destRegion, _ := cmd.Flags().GetString("destination-region")
	pause, _ := cmd.Flags().GetDuration("pause")

	req := primary.SyncRequest{
		SourceCluster:      args[0],
		SourceRegion:       sourceRegion,
		DestinationCluster: args[1],
		DestinationRegion:  destRegion,
		Pause:              pause,
	}
	if len(args) == 3 {
		req.RoleSuffix = args[2]
	}
	return req
}

var servicesExportCmd = &cobra.Command{
	Use:   "export <cluster>",
	Short: "Print desired counts as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return wire.InspectorAdapterWithOutput(cmd.OutOrStdout()).Export(cmd.Context(), args[0])
	},
}

var servicesUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Bulk update the services of a cluster",
}

var servicesUpdateDesiredCountCmd = &cobra.Command{
	Use:   "desired-count <cluster> <count>",
	Short: "Set the desired count of every service in a cluster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := strconv.Atoi(args[1])
		if err != nil || count < 0 {
			return fmt.Errorf("invalid count %q: must be a non-negative integer", args[1])
		}
		pause, _ := cmd.Flags().GetDuration("pause")

		outcomes, err := wire.InspectorAdapterWithOutput(cmd.OutOrStdout()).UpdateDesiredCount(cmd.Context(), primary.UpdateDesiredCountRequest{
			Cluster: args[0],
			Count:   count,
			Pause:   pause,
		})
		if err != nil {
			return err
		}
		return outcomeError(outcomes)
	},
}

// ServicesCmd returns the services command
func ServicesCmd() *cobra.Command {
	servicesUpdateDesiredCountCmd.Flags().Duration("pause", 0, "Pause between services")
	for _, c := range []*cobra.Command{servicesCompareCmd, servicesSyncCmd} {
		c.Flags().String("source-region", "", "Region of the source cluster (default from config)")
		c.Flags().String("destination-region", "", "Region of the destination cluster (default from config)")
	}
	servicesSyncCmd.Flags().Duration("pause", 10*time.Second, "Pause before each service creation")

	servicesUpdateCmd.AddCommand(servicesUpdateDesiredCountCmd)

	servicesCmd.AddCommand(servicesInfoCmd)
	servicesCmd.AddCommand(servicesAuditCmd)
	servicesCmd.AddCommand(servicesCompareCmd)
	servicesCmd.AddCommand(servicesSyncCmd)
	servicesCmd.AddCommand(servicesExportCmd)
	servicesCmd.AddCommand(servicesUpdateCmd)

	return servicesCmd
}
