package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/code"
	"github.com/roach88/rollout/internal/compiler"
	"github.com/roach88/rollout/internal/config"
	"github.com/roach88/rollout/internal/events"
	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/logger"
	"github.com/roach88/rollout/internal/metrics"
	"github.com/roach88/rollout/internal/model"
	"github.com/roach88/rollout/internal/scheduler"
	"github.com/roach88/rollout/internal/store"
)

// BuiltinBundle names the bundle used when the configuration lists none.
// It covers the handlers compiled into the rollout binary.
const BuiltinBundle = "builtin"

// loadConfig applies the global flags on top of the configuration file.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := config.DefaultConfigFile
	if opts.Config != "" {
		if _, err := os.Stat(opts.Config); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		path = opts.Config
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if opts.Environment != "" {
		cfg.Environment = opts.Environment
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// app holds the components a command wires together. Fields stay nil until
// the matching open call.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	store   *store.Store
	code    *code.Manager
	manager *executor.Manager
	events  *events.JetStream
}

// newApp loads configuration and sets up logging. Logs go to stderr so
// stdout stays parseable.
func newApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	mt, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return &app{
		cfg:     cfg,
		logger:  logger.New(cfg.Logging, cmd.ErrOrStderr()),
		metrics: mt,
	}, nil
}

func (a *app) openStore() error {
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	a.store = st
	a.logger.Debug("store opened", "path", a.cfg.Store.Path)
	return nil
}

// bundles returns the configured code bundles, or the builtin bundle.
func (a *app) bundles() []code.Bundle {
	if len(a.cfg.Code.Bundles) > 0 {
		return a.cfg.Code.Bundles
	}
	return []code.Bundle{{
		Name:    BuiltinBundle,
		Runtime: ir.EngineVersion,
		Types:   executor.Builtins().Types(),
	}}
}

// startExecutors prepares code resolution and the executor manager, and
// returns the dispatcher that routes calls to executor processes.
// Processes start lazily on the first call for a blueprint.
func (a *app) startExecutors(stderr io.Writer) (*executor.Pool, error) {
	cm, err := code.NewManager(code.StaticSource(a.bundles()),
		code.WithBaseDir(a.cfg.Code.BaseDir),
		code.WithCacheEntries(a.cfg.Code.CacheEntries),
		code.WithCacheTTL(a.cfg.Code.CacheTTL),
	)
	if err != nil {
		return nil, err
	}
	a.code = cm

	spawner := &executor.ProcessSpawner{
		Binary:       a.cfg.Executor.Binary,
		Args:         []string{executorCommand},
		Env:          a.cfg.Executor.Env,
		Stderr:       stderr,
		MaxFrameSize: a.cfg.Executor.MaxFrameBytes,
		Logger:       a.logger,
	}
	a.manager = executor.NewManager(spawner,
		executor.WithLogger(a.logger),
		executor.WithMetrics(a.metrics),
	)
	return executor.NewPool(cm, a.manager), nil
}

// connectEvents connects to NATS when a URL is configured.
func (a *app) connectEvents(ctx context.Context) error {
	if a.cfg.NATS.URL == "" {
		return nil
	}
	js, err := events.Connect(ctx, a.cfg.NATS.URL, a.cfg.NATS.Stream, a.cfg.NATS.SubjectPrefix, a.logger)
	if err != nil {
		return err
	}
	a.events = js
	return nil
}

// newScheduler builds the scheduler of the configured environment. Every
// open sink receives its transitions, and the transition clock resumes
// after the last persisted seq.
func (a *app) newScheduler(ctx context.Context, d scheduler.Dispatcher) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{
		scheduler.WithMaxConcurrency(a.cfg.Scheduler.MaxConcurrency),
		scheduler.WithCallTimeout(a.cfg.Scheduler.CallTimeout),
		scheduler.WithPropagateSkip(a.cfg.Scheduler.PropagateSkip),
		scheduler.WithLogger(a.logger),
		scheduler.WithMetrics(a.metrics),
	}
	if a.store != nil {
		seq, err := a.store.MaxSeq(ctx, a.cfg.Environment)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scheduler.WithSink(a.store), scheduler.WithClock(scheduler.NewClockAt(seq)))
	}
	if a.events != nil {
		opts = append(opts, scheduler.WithSink(events.NewSink(a.events, a.cfg.NATS.SubjectPrefix)))
	}
	return scheduler.New(a.cfg.Environment, d, opts...), nil
}

// restore installs the latest released version and its persisted states.
// It wraps ErrNoRelease when nothing was released yet.
func (a *app) restore(ctx context.Context, sched *scheduler.Scheduler) (*model.ModelState, error) {
	env := a.cfg.Environment
	version, err := a.store.LatestReleased(ctx, env)
	if errors.Is(err, store.ErrVersionNotFound) {
		return nil, fmt.Errorf("%s: %w", env, ErrNoRelease)
	}
	if err != nil {
		return nil, err
	}
	ms, err := a.store.ReadVersion(ctx, env, version)
	if err != nil {
		return nil, err
	}
	records, err := a.store.ReadResourceStates(ctx, env)
	if err != nil {
		return nil, err
	}
	states := make(map[model.ResourceID]scheduler.ResourceState, len(records))
	for _, rec := range records {
		if rec.Version == version {
			states[rec.ID] = rec.ResourceState
		}
	}
	if err := sched.Restore(ms, states); err != nil {
		return nil, err
	}
	return ms, nil
}

// ErrNoRelease is returned when an environment has no released version.
var ErrNoRelease = errors.New("no released version")

// close stops executors and releases everything the app opened.
func (a *app) close() {
	if a.manager != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Executor.JoinTimeout)
		if err := a.manager.Stop(stopCtx); err != nil {
			a.logger.Warn("executor shutdown failed", "error", err)
		}
		cancel()

		joinCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Executor.JoinTimeout)
		if err := a.manager.Join(joinCtx); err != nil {
			a.logger.Warn("executors killed after join timeout", "timeout", a.cfg.Executor.JoinTimeout.String(), "error", err)
		}
		cancel()
	}
	if a.code != nil {
		a.code.Close()
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("nats close failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("error closing store", "error", err)
		}
	}
}

// loadModel compiles the model at path, overriding its version when
// version is positive.
func loadModel(path string, version int64) (*model.ModelState, string, error) {
	doc, err := compiler.LoadVersion(path, version)
	if err != nil {
		return nil, "", err
	}
	ms, err := doc.State()
	if err != nil {
		return nil, "", err
	}
	return ms, doc.Source, nil
}

// elapsed rounds a duration for display.
func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
