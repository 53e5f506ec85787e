package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/scheduler"
	"github.com/roach88/rollout/internal/store"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	Version int64
}

// DeployResult is the output of deploy and repair.
type DeployResult struct {
	Summary  scheduler.Summary `json:"summary"`
	Released bool              `json:"released"`
	Duration string            `json:"duration"`
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy <model>",
		Short: "Deploy a model version",
		Long: `Deploy a desired-state model as a new version of the environment.

The version is persisted, spliced against the last released version and
deployed in dependency order. Resources already deployed with the same
attributes are left alone. Every state transition is persisted and, when
NATS is configured, published.

The version must be newer than the last released one. Interrupting the
command cancels resources that have not been dispatched yet.

Exit codes:
  0 - Every resource deployed
  1 - Some resources did not deploy, or the model was rejected
  2 - Command error (missing model, store unavailable, etc.)

Examples:
  rollout deploy ./model.yaml
  rollout deploy ./model --version 42 --env prod`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Version, "version", 0, "override the model version")

	return cmd
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Redeploy every resource of the released version",
		Long: `Redeploy every resource of the last released version, including
resources that are already deployed, failed or skipped. A deploy started
later supersedes the repair.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(rootOpts, cmd)
		},
	}
}

// deployment is the wiring shared by deploy, repair and check.
type deployment struct {
	app   *app
	sched *scheduler.Scheduler
}

func openDeployment(ctx context.Context, opts *RootOptions, cmd *cobra.Command, formatter *OutputFormatter) (*deployment, error) {
	a, err := newApp(opts, cmd)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	if err := a.openStore(); err != nil {
		a.close()
		return nil, formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	if err := a.connectEvents(ctx); err != nil {
		a.close()
		return nil, formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to connect to NATS", err)
	}
	pool, err := a.startExecutors(cmd.ErrOrStderr())
	if err != nil {
		a.close()
		return nil, formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to start executors", err)
	}
	sched, err := a.newScheduler(ctx, pool)
	if err != nil {
		a.close()
		return nil, formatter.Fail(ExitCommandError, ErrCodeStore, "failed to create scheduler", err)
	}
	return &deployment{app: a, sched: sched}, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			logger.Info("received signal, cancelling", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runDeploy(opts *DeployOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	start := time.Now()

	if err := statModel(formatter, path); err != nil {
		return err
	}
	ms, source, err := loadModel(path, opts.Version)
	if err != nil {
		return formatter.Fail(ExitFailure, graphErrorCode(err), "failed to load model", err)
	}

	d, err := openDeployment(cmd.Context(), opts.RootOptions, cmd, formatter)
	if err != nil {
		return err
	}
	defer d.app.close()
	a := d.app
	env := a.cfg.Environment

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	if _, err := a.restore(ctx, d.sched); err != nil && !errors.Is(err, ErrNoRelease) {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to restore released version", err)
	}

	if err := a.store.WriteVersion(ctx, env, source, ms); err != nil && !errors.Is(err, store.ErrVersionExists) {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to store version", err)
	}

	a.logger.Info("deploy starting", "version", ms.Version, "resources", ms.Len(), "source", source)
	sum, err := d.sched.Deploy(ctx, ms)
	if err != nil {
		return formatter.Fail(ExitFailure, graphErrorCode(err), fmt.Sprintf("version %d rejected", ms.Version), err)
	}

	// The version is active once spliced, whatever its resources did.
	if err := a.store.ReleaseVersion(context.WithoutCancel(ctx), env, ms.Version); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to release version", err)
	}

	return outputDeploy(formatter, DeployResult{Summary: sum, Released: true, Duration: elapsed(start)})
}

func runRepair(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	start := time.Now()

	d, err := openDeployment(cmd.Context(), opts, cmd, formatter)
	if err != nil {
		return err
	}
	defer d.app.close()

	ctx, cancel := signalContext(cmd, d.app.logger)
	defer cancel()

	if _, err := d.app.restore(ctx, d.sched); err != nil {
		if errors.Is(err, ErrNoRelease) {
			return formatter.Fail(ExitFailure, ErrCodeNoVersion, "nothing to repair", err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to restore released version", err)
	}

	sum, err := d.sched.Repair(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDeploy, "repair failed", err)
	}
	return outputDeploy(formatter, DeployResult{Summary: sum, Duration: elapsed(start)})
}

// outputDeploy writes the result and fails when a resource did not deploy.
func outputDeploy(formatter *OutputFormatter, res DeployResult) error {
	sum := res.Summary
	if formatter.JSON() {
		if sum.Succeeded() {
			return formatter.Success(res)
		}
		_ = formatter.encode(CLIResponse{
			Status: "error",
			Data:   res,
			Error: &CLIError{
				Code:    ErrCodeDeploy,
				Message: fmt.Sprintf("%d of %d resource(s) not deployed", sum.Total-sum.Counts[scheduler.StatusDeployed], sum.Total),
			},
		})
	} else {
		writeSummary(formatter.Writer, sum, res.Duration)
	}

	if !sum.Succeeded() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d resource(s) not deployed", sum.Total-sum.Counts[scheduler.StatusDeployed], sum.Total))
	}
	return nil
}

func writeSummary(w io.Writer, sum scheduler.Summary, duration string) {
	mark := "✓"
	if !sum.Succeeded() {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s version %d: %s", mark, sum.Environment, sum.Version, sum.String())
	if duration != "" {
		fmt.Fprintf(w, " (%s)", duration)
	}
	fmt.Fprintln(w)
	for _, id := range sum.Failed() {
		fmt.Fprintf(w, "  %s: %s\n", id, sum.Errors[id])
	}
}
