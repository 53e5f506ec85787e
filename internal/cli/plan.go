package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/scheduler"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Version int64
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <model>",
		Short: "Show what deploying a model would change",
		Long: `Ask the executors what deploying a model would change, without
changing anything.

Resources are checked in deploy order. Resources with unresolved values, and
resources requiring them, are reported without an executor call. Nothing is
persisted.

Examples:
  rollout plan ./model.yaml
  rollout plan ./model --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Version, "version", 0, "override the model version")

	return cmd
}

func runPlan(opts *PlanOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	defer a.close()

	if err := statModel(formatter, path); err != nil {
		return err
	}
	ms, _, err := loadModel(path, opts.Version)
	if err != nil {
		return formatter.Fail(ExitFailure, graphErrorCode(err), "failed to load model", err)
	}

	pool, err := a.startExecutors(cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to start executors", err)
	}
	sched, err := a.newScheduler(cmd.Context(), pool)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to create scheduler", err)
	}

	plan, err := sched.DryRun(cmd.Context(), ms)
	if err != nil {
		return formatter.Fail(ExitFailure, graphErrorCode(err), "dry run failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(plan)
	}
	writePlan(formatter.Writer, plan)
	return nil
}

// writePlan renders a plan as text, one resource per line:
//
//	~ changed, = unchanged, ? not callable, ! call failed
func writePlan(w io.Writer, plan scheduler.Plan) {
	var changed, unchanged, undefined, failed int
	fmt.Fprintf(w, "Plan for %s version %d:\n", plan.Environment, plan.Version)
	for _, e := range plan.Entries {
		switch {
		case e.Error != "" && (e.Status == scheduler.StatusUndefined || e.Status == scheduler.StatusSkippedForUndefined):
			undefined++
			fmt.Fprintf(w, "  ? %s (%s)\n", e.ID, e.Status)
		case e.Error != "":
			failed++
			fmt.Fprintf(w, "  ! %s: %s\n", e.ID, e.Error)
		case len(e.Changes) > 0:
			changed++
			fmt.Fprintf(w, "  ~ %s: %s\n", e.ID, strings.Join(e.Changes, ", "))
		default:
			unchanged++
			fmt.Fprintf(w, "  = %s\n", e.ID)
		}
	}
	fmt.Fprintf(w, "\n%d to change, %d unchanged, %d undefined, %d failed\n", changed, unchanged, undefined, failed)
}
