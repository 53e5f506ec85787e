package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/model"
	"github.com/roach88/rollout/internal/scheduler"
	"github.com/roach88/rollout/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	History  string // resource id whose transitions to list
	Versions bool   // list stored versions instead of states
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Summary scheduler.Summary   `json:"summary"`
	States  []store.StateRecord `json:"states"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted resource states",
		Long: `Show the latest persisted state of every resource of the environment.

Examples:
  rollout status
  rollout status --versions
  rollout status --history 'std::File[web01,path=/etc/motd]'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.History, "history", "", "list every transition of one resource")
	cmd.Flags().BoolVar(&opts.Versions, "versions", false, "list stored versions")
	cmd.MarkFlagsMutuallyExclusive("history", "versions")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	defer a.close()
	if err := a.openStore(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}

	ctx := cmd.Context()
	env := a.cfg.Environment

	switch {
	case opts.Versions:
		versions, err := a.store.ListVersions(ctx, env)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list versions", err)
		}
		if formatter.JSON() {
			return formatter.Success(versions)
		}
		writeVersions(formatter.Writer, env, versions)
		return nil

	case opts.History != "":
		id, err := model.ParseResourceID(opts.History)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeModel, "invalid resource id", err)
		}
		records, err := a.store.History(ctx, env, id)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read history", err)
		}
		if len(records) == 0 {
			return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no history for %s", id), nil)
		}
		if formatter.JSON() {
			return formatter.Success(records)
		}
		writeHistory(formatter.Writer, id, records)
		return nil
	}

	sum, err := a.store.Summary(ctx, env)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to summarize states", err)
	}
	records, err := a.store.ReadResourceStates(ctx, env)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read states", err)
	}

	if formatter.JSON() {
		return formatter.Success(StatusResult{Summary: sum, States: records})
	}
	if sum.Total == 0 {
		fmt.Fprintf(formatter.Writer, "No resource state recorded for %s.\n", env)
		return nil
	}
	writeSummary(formatter.Writer, sum, "")
	for _, rec := range records {
		fmt.Fprintf(formatter.Writer, "  %-12s v%-4d %s\n", stateLabel(rec.ResourceState), rec.Version, rec.ID)
	}
	return nil
}

// stateLabel renders a status together with its blocked reason.
func stateLabel(st scheduler.ResourceState) string {
	if st.Blocked == scheduler.BlockedYes {
		return fmt.Sprintf("%s/blocked", st.Status)
	}
	return string(st.Status)
}

func writeVersions(w io.Writer, env string, versions []store.VersionInfo) {
	if len(versions) == 0 {
		fmt.Fprintf(w, "No versions stored for %s.\n", env)
		return
	}
	for _, v := range versions {
		mark := " "
		if v.Released {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %d  %d resource(s)  %s\n", mark, v.Version, v.Resources, v.Source)
	}
}

func writeHistory(w io.Writer, id model.ResourceID, records []store.StateRecord) {
	fmt.Fprintf(w, "History of %s:\n", id)
	for _, rec := range records {
		line := fmt.Sprintf("  %6d v%-4d %s", rec.Seq, rec.Version, stateLabel(rec.ResourceState))
		if rec.Error != "" {
			line += ": " + rec.Error
		}
		fmt.Fprintln(w, line)
	}
}
