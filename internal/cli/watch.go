package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/events"
	"github.com/roach88/rollout/internal/scheduler"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Status string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow state transitions published to NATS",
		Long: `Print state transitions of the environment as deploys publish them.
Requires nats.url in the configuration. With --format json every event is
written as one JSON line.

Examples:
  rollout watch
  rollout watch --status failed --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "only show transitions to this status")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	a, err := newApp(opts.RootOptions, cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	defer a.close()

	if a.cfg.NATS.URL == "" {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "watch requires nats.url", nil)
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	if err := a.connectEvents(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to connect to NATS", err)
	}

	env := a.cfg.Environment
	prefix := a.cfg.NATS.SubjectPrefix
	filter := events.Wildcard(prefix, env)
	if opts.Status != "" {
		filter = events.Subject(prefix, env, scheduler.Status(opts.Status))
	}
	a.logger.Info("watching", "subject", filter)

	var mu sync.Mutex
	w := formatter.Writer
	jsonOut := formatter.JSON()
	err = a.events.Watch(ctx, filter, func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		writeEvent(w, ev, jsonOut)
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "watch failed", err)
	}
	return nil
}

func writeEvent(w io.Writer, ev events.Event, jsonOut bool) {
	if jsonOut {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}
	line := fmt.Sprintf("%6d %s v%d %-12s %s", ev.Seq, ev.Environment, ev.Version, stateLabel(ev.ResourceState), ev.Resource)
	if ev.Error != "" {
		line += ": " + ev.Error
	}
	fmt.Fprintln(w, line)
}
