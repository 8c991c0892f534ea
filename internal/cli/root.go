// Package cli implements the ecs-manage commands.
package cli

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/wire"
)

// ExitError carries a process exit code out of a command. Commands that
// already printed their outcomes return it with an empty message.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// outcomeError turns the worst outcome status into a command error.
func outcomeError(outcomes []rollout.Outcome) error {
	code := rollout.Worst(outcomes).ExitCode()
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

// SetupRoot registers the global flags on the root command and initializes
// logging and dependency wiring before any subcommand runs.
func SetupRoot(root *cobra.Command) {
	var (
		configPath string
		profile    string
		region     string
		verbosity  int
	)

	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.ecs-manage/config.yaml)")
	root.PersistentFlags().StringVar(&profile, "profile", "", "AWS profile")
	root.PersistentFlags().StringVar(&region, "region", "", "AWS region")
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug, -vvv trace)")

	root.SilenceUsage = true
	root.SilenceErrors = true

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log := logrus.StandardLogger()
		wire.Init(wire.Options{
			ConfigPath: configPath,
			Profile:    profile,
			Region:     region,
			Logger:     log,
		})

		level, err := logLevel(verbosity, wire.Config().LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	}
}

// logLevel derives the log level from the -v count, falling back to the
// configured level and then to warn.
func logLevel(verbosity int, configured string) (logrus.Level, error) {
	switch {
	case verbosity >= 3:
		return logrus.TraceLevel, nil
	case verbosity == 2:
		return logrus.DebugLevel, nil
	case verbosity == 1:
		return logrus.InfoLevel, nil
	}
	if configured == "" {
		return logrus.WarnLevel, nil
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", configured, err)
	}
	return level, nil
}
