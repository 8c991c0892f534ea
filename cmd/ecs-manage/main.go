package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/ecs-manage/internal/cli"
	"github.com/example/ecs-manage/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "ecs-manage",
		Short:   "ecs-manage - deployment reconciliation for ECS services",
		Version: version.String(),
		Long: `ecs-manage brings ECS services to the state described in YAML specs.
It registers task definitions, scales within policy bounds, verifies rollouts
and rolls back to the previous revision when they fail.`,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	cli.SetupRoot(rootCmd)

	rootCmd.AddCommand(cli.DeployCmd())
	rootCmd.AddCommand(cli.ScaleCmd())
	rootCmd.AddCommand(cli.ServicesCmd())
	rootCmd.AddCommand(cli.HistoryCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.ExitCode(err))
	}
}
