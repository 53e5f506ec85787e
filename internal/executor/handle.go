package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/rollout/internal/code"
	"github.com/roach88/rollout/internal/ipc"
	"github.com/roach88/rollout/internal/metrics"
)

// Health is the supervision state of an executor.
type Health string

const (
	HealthUp       Health = "up"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

// Handle is the parent's view of one executor process.
type Handle struct {
	env       string
	blueprint code.Blueprint
	key       string
	proc      *Process
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	health Health
	failed []string
	reason string

	stopOnce sync.Once
}

func newHandle(env string, bp code.Blueprint, key string, proc *Process, logger *slog.Logger, m *metrics.Metrics) *Handle {
	h := &Handle{
		env:       env,
		blueprint: bp,
		key:       key,
		proc:      proc,
		logger:    logger.With("env", env, "bundle", bp.Bundle, "pid", proc.Pid),
		metrics:   m,
		health:    HealthUp,
	}
	go h.watch()
	return h
}

// watch marks the handle down as soon as its connection dies.
func (h *Handle) watch() {
	<-h.proc.Conn.Done()
	h.markDown("connection lost")
}

// Environment returns the environment this executor serves.
func (h *Handle) Environment() string { return h.env }

// Blueprint returns the code blueprint the executor was started with.
func (h *Handle) Blueprint() code.Blueprint { return h.blueprint }

// Pid returns the child process id.
func (h *Handle) Pid() int { return h.proc.Pid }

// Health returns the current health.
func (h *Handle) Health() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.health
}

// FailedTypes returns resource types the executor could not load.
func (h *Handle) FailedTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.failed)
}

// Supports reports whether the executor loaded handlers for typ.
func (h *Handle) Supports(typ string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blueprint.Covers(typ) && !slices.Contains(h.failed, typ)
}

// MarkSuspect takes the handle out of rotation after a caller-side timeout.
// The process is left running until Stop.
func (h *Handle) MarkSuspect(reason string) {
	h.markDown("suspect: " + reason)
}

func (h *Handle) markDown(reason string) {
	h.mu.Lock()
	if h.health == HealthDown {
		h.mu.Unlock()
		return
	}
	h.health = HealthDown
	h.reason = reason
	h.mu.Unlock()

	h.logger.Warn("executor down", "reason", reason)
	h.metrics.ExecutorLost(context.Background(), h.env, reason)
}

func (h *Handle) initialize(ctx context.Context) error {
	var res InitResult
	if err := h.call(ctx, MethodInit, InitArgs{Environment: h.env, Blueprint: h.blueprint}, &res); err != nil {
		return fmt.Errorf("init executor: %w", err)
	}

	h.mu.Lock()
	h.failed = res.Failed
	if len(res.Failed) > 0 && h.health == HealthUp {
		h.health = HealthDegraded
	}
	h.mu.Unlock()

	if len(res.Failed) > 0 {
		h.logger.Warn("executor degraded: handler code failed to load", "failed", res.Failed)
	} else {
		h.logger.Info("executor up", "loaded", res.Loaded)
	}
	return nil
}

// call issues one IPC call and folds transport failures into health.
// A lost connection marks the handle down. A caller deadline marks it
// suspect. Remote errors leave health untouched.
func (h *Handle) call(ctx context.Context, method string, args, result any) error {
	err := h.proc.Conn.Call(ctx, method, args, result)
	switch {
	case err == nil:
		h.metrics.Call(ctx, method, "ok")
	case errors.Is(err, ipc.ErrConnectionLost):
		h.metrics.Call(ctx, method, "connection_lost")
		h.markDown("connection lost")
	case errors.Is(err, context.DeadlineExceeded):
		h.metrics.Call(ctx, method, "timeout")
		h.MarkSuspect(method + " timed out")
	case ipc.IsRemoteCallError(err):
		h.metrics.Call(ctx, method, "remote_error")
	default:
		h.metrics.Call(ctx, method, "error")
	}
	return err
}

// Deploy converges one resource.
func (h *Handle) Deploy(ctx context.Context, args ResourceArgs) (DeployResult, error) {
	var res DeployResult
	err := h.call(ctx, MethodDeploy, args, &res)
	return res, err
}

// DryRun reports the changes a deploy would make.
func (h *Handle) DryRun(ctx context.Context, args ResourceArgs) (DryRunResult, error) {
	var res DryRunResult
	err := h.call(ctx, MethodDryRun, args, &res)
	return res, err
}

// Check reports compliance of one resource.
func (h *Handle) Check(ctx context.Context, args ResourceArgs) (CheckResult, error) {
	var res CheckResult
	err := h.call(ctx, MethodCheck, args, &res)
	return res, err
}

// Stop asks the executor to shut down and closes the connection. The child
// exits once it sees the socket close. Stop is idempotent.
func (h *Handle) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		if h.Health() != HealthDown {
			if callErr := h.proc.Conn.Call(ctx, MethodShutdown, nil, nil); callErr != nil {
				h.logger.Debug("executor shutdown call failed", "error", callErr)
			}
		}
		h.markDown("stopped")
		err = h.proc.Conn.Close()
	})
	return err
}

// Join waits for the child process to exit.
func (h *Handle) Join(ctx context.Context) error {
	select {
	case <-h.proc.Exited():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("join executor pid %d: %w", h.proc.Pid, ctx.Err())
	}
}

// Kill terminates the child process immediately.
func (h *Handle) Kill() error {
	return h.proc.Kill()
}
