package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/scheduler"
)

// CheckResult is the output of the check command.
type CheckResult struct {
	Environment string                      `json:"environment"`
	Version     int64                       `json:"version"`
	Entries     []scheduler.ComplianceEntry `json:"entries"`
	Compliant   int                         `json:"compliant"`
	Total       int                         `json:"total"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the released version against the system",
		Long: `Ask the executors whether every resource of the last released version
still matches the system. Nothing is changed.

Exit codes:
  0 - Every resource is compliant
  1 - Some resources are not compliant or could not be checked
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd)
		},
	}
}

func runCheck(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	d, err := openDeployment(cmd.Context(), opts, cmd, formatter)
	if err != nil {
		return err
	}
	defer d.app.close()

	ctx, cancel := signalContext(cmd, d.app.logger)
	defer cancel()

	ms, err := d.app.restore(ctx, d.sched)
	if err != nil {
		if errors.Is(err, ErrNoRelease) {
			return formatter.Fail(ExitFailure, ErrCodeNoVersion, "nothing to check", err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to restore released version", err)
	}

	entries, err := d.sched.Check(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeDeploy, "check failed", err)
	}

	res := CheckResult{
		Environment: d.sched.Environment(),
		Version:     ms.Version,
		Entries:     entries,
		Total:       len(entries),
	}
	for _, e := range entries {
		if e.Compliance == executor.Compliant {
			res.Compliant++
		}
	}

	if formatter.JSON() {
		if err := formatter.Success(res); err != nil {
			return err
		}
	} else {
		writeCheck(formatter.Writer, res)
	}

	if res.Compliant < res.Total {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d resource(s) not compliant", res.Total-res.Compliant, res.Total))
	}
	return nil
}

func writeCheck(w io.Writer, res CheckResult) {
	fmt.Fprintf(w, "Check of %s version %d:\n", res.Environment, res.Version)
	for _, e := range res.Entries {
		switch {
		case e.Error != "":
			fmt.Fprintf(w, "  ? %s: %s\n", e.ID, e.Error)
		case e.Compliance == executor.Compliant:
			fmt.Fprintf(w, "  ✓ %s\n", e.ID)
		case len(e.Changes) > 0:
			fmt.Fprintf(w, "  ✗ %s: %s\n", e.ID, strings.Join(e.Changes, ", "))
		default:
			fmt.Fprintf(w, "  ✗ %s (%s)\n", e.ID, e.Compliance)
		}
	}
	fmt.Fprintf(w, "\n%d of %d resource(s) compliant\n", res.Compliant, res.Total)
}
