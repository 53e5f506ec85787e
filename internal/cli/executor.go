package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/config"
	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/logger"
)

// executorCommand is the subcommand the scheduler spawns executors with.
const executorCommand = "executor"

// NewExecutorCommand creates the hidden command an executor process runs.
// The scheduler starts it with the connection on an inherited descriptor;
// it is not meant to be run by hand.
func NewExecutorCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           executorCommand + " <name>",
		Short:         "Serve executor calls over the inherited connection",
		Hidden:        true,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runExecutor(rootOpts, name, cmd)
		},
	}
}

func runExecutor(opts *RootOptions, name string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		defaults := config.Defaults()
		cfg = &defaults
	}
	log := logger.New(cfg.Logging, cmd.ErrOrStderr()).With("executor", name, "pid", os.Getpid())

	conn, err := executor.ParentConn()
	if err != nil {
		return WrapExitError(ExitCommandError, "no parent connection", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug("executor serving")
	if err := executor.Serve(ctx, conn, executor.Builtins(),
		executor.WithRuntime(ir.EngineVersion),
		executor.WithServeLogger(log),
	); err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("executor %s", name), err)
	}
	return nil
}
