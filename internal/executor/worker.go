package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/rollout/internal/ipc"
	"github.com/roach88/rollout/internal/ir"
)

// errNotInitialized is returned for resource calls before init.
var errNotInitialized = errors.New("executor not initialized")

// CapabilityError reports a handler asked to do something it did not declare.
type CapabilityError struct {
	Type string
	Need Capability
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("handler for %s lacks %s capability", e.Type, e.Need)
}

// ErrorType implements ipc.TypedError.
func (e *CapabilityError) ErrorType() string { return "CapabilityError" }

// HandlerError wraps a failure raised by handler code.
type HandlerError struct {
	Resource string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Resource, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ErrorType implements ipc.TypedError.
func (e *HandlerError) ErrorType() string { return "HandlerError" }

// worker is the child-side state of one executor.
type worker struct {
	registry *Registry
	runtime  string
	logger   *slog.Logger

	mu       sync.RWMutex
	env      string
	handlers map[string]HandlerDescriptor

	draining atomic.Bool
}

// ServeOption configures Serve.
type ServeOption func(*worker)

// WithRuntime sets the runtime version the worker reports and requires.
// Blueprints asking for a different runtime load no types.
func WithRuntime(v string) ServeOption {
	return func(w *worker) {
		w.runtime = v
	}
}

// WithServeLogger sets the worker logger.
func WithServeLogger(l *slog.Logger) ServeOption {
	return func(w *worker) {
		w.logger = l
	}
}

// Serve answers executor calls on rwc until the peer hangs up or ctx ends.
func Serve(ctx context.Context, rwc io.ReadWriteCloser, registry *Registry, opts ...ServeOption) error {
	w := &worker{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	conn := ipc.NewConn(rwc, ipc.WithHandler(w.handle), ipc.WithName("executor"), ipc.WithLogger(w.logger))
	select {
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-conn.Done():
		_ = conn.Close()
		if w.draining.Load() {
			return nil
		}
		err := conn.Err()
		if errors.Is(err, ipc.ErrConnectionLost) {
			// The parent hung up without a shutdown call.
			w.logger.Info("executor: parent disconnected")
			return nil
		}
		return err
	}
}

func (w *worker) handle(ctx context.Context, method string, raw json.RawMessage) (any, error) {
	switch method {
	case MethodInit:
		var args InitArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode init args: %w", err)
		}
		return w.init(args), nil
	case MethodDeploy, MethodDryRun, MethodCheck:
		if w.draining.Load() {
			return nil, fmt.Errorf("executor shutting down, %s rejected", method)
		}
		var args ResourceArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode %s args: %w", method, err)
		}
		return w.resourceCall(ctx, method, args)
	case MethodShutdown:
		w.draining.Store(true)
		w.logger.Info("executor: shutdown requested")
		return struct{}{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ipc.ErrUnknownMethod, method)
}

func (w *worker) init(args InitArgs) InitResult {
	var (
		loaded map[string]HandlerDescriptor
		failed []string
	)
	if w.runtime != "" && args.Blueprint.Runtime != "" && args.Blueprint.Runtime != w.runtime {
		w.logger.Warn("executor: runtime mismatch",
			"want", args.Blueprint.Runtime, "have", w.runtime)
		loaded = map[string]HandlerDescriptor{}
		failed = slices.Clone(args.Blueprint.Types)
		slices.Sort(failed)
	} else {
		loaded, failed = w.registry.Resolve(args.Blueprint.Types)
	}

	w.mu.Lock()
	w.env = args.Environment
	w.handlers = loaded
	w.mu.Unlock()

	names := make([]string, 0, len(loaded))
	for typ := range loaded {
		names = append(names, typ)
	}
	slices.Sort(names)

	w.logger.Info("executor: initialized",
		"env", args.Environment, "bundle", args.Blueprint.Bundle,
		"loaded", names, "failed", failed)
	return InitResult{Runtime: w.runtime, Loaded: names, Failed: failed}
}

func (w *worker) descriptor(typ string) (HandlerDescriptor, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.handlers == nil {
		return HandlerDescriptor{}, errNotInitialized
	}
	desc, ok := w.handlers[typ]
	if !ok {
		return HandlerDescriptor{}, fmt.Errorf("no handler loaded for %s", typ)
	}
	return desc, nil
}

func (w *worker) resourceCall(ctx context.Context, method string, args ResourceArgs) (any, error) {
	desc, err := w.descriptor(args.ID.EntityType)
	if err != nil {
		return nil, err
	}
	if !desc.Capabilities.Has(CapRead) {
		return nil, &CapabilityError{Type: args.ID.EntityType, Need: CapRead}
	}

	res := Resource{
		ID:         args.ID.String(),
		Type:       args.ID.EntityType,
		Attributes: desiredAttributes(args.Attributes),
	}
	purged := boolAttr(args.Attributes, AttrPurged)

	current, exists, err := desc.Handler.Read(ctx, res)
	if err != nil {
		return nil, &HandlerError{Resource: res.ID, Err: err}
	}
	changes := computeChanges(res.Attributes, current, exists, purged)

	switch method {
	case MethodDryRun:
		return DryRunResult{Changes: changes}, nil
	case MethodCheck:
		c := Compliant
		if len(changes) > 0 {
			c = NonCompliant
		}
		return CheckResult{Compliance: c, Changes: changes}, nil
	}

	if len(changes) == 0 {
		return DeployResult{Outcome: OutcomeDeployed}, nil
	}
	if boolAttr(args.Attributes, AttrCheckOnly) {
		return DeployResult{Outcome: OutcomeNonCompliant, Changes: changes, Message: "check only, changes not applied"}, nil
	}

	if err := w.apply(ctx, desc, res, changes, exists, purged); err != nil {
		if errors.Is(err, ErrSkip) {
			return DeployResult{Outcome: OutcomeSkipped, Message: err.Error()}, nil
		}
		return nil, err
	}

	outcome := OutcomeDeployed
	if boolAttr(args.Attributes, AttrSendEvent) {
		outcome = OutcomeProcessingEvents
	}
	return DeployResult{Outcome: outcome, Changes: changes}, nil
}

func (w *worker) apply(ctx context.Context, desc HandlerDescriptor, res Resource, changes ir.IRObject, exists, purged bool) error {
	var (
		need Capability
		op   func() error
	)
	switch {
	case purged:
		need, op = CapDelete, func() error { return desc.Handler.Delete(ctx, res) }
	case !exists:
		need, op = CapCreate, func() error { return desc.Handler.Create(ctx, res) }
	default:
		need, op = CapUpdate, func() error { return desc.Handler.Update(ctx, res, changes) }
	}
	if !desc.Capabilities.Has(need) {
		return &CapabilityError{Type: res.Type, Need: need}
	}
	if err := op(); err != nil {
		if errors.Is(err, ErrSkip) {
			return err
		}
		return &HandlerError{Resource: res.ID, Err: err}
	}
	return nil
}

// desiredAttributes strips graph bookkeeping and worker directives.
func desiredAttributes(attrs ir.IRObject) ir.IRObject {
	return attrs.Without(ir.AttrRequires, ir.AttrProvides, ir.AttrVersion, AttrPurged, AttrSendEvent, AttrCheckOnly)
}

func boolAttr(attrs ir.IRObject, key string) bool {
	v, ok := attrs[key].(ir.IRBool)
	return ok && bool(v)
}

// computeChanges lists every desired attribute whose observed value differs,
// as {"current": ..., "desired": ...}. A missing resource that should exist
// reports every desired attribute; an existing resource that should be
// purged reports a single "purged" change.
func computeChanges(desired, current ir.IRObject, exists, purged bool) ir.IRObject {
	changes := ir.IRObject{}
	if purged {
		if exists {
			changes[AttrPurged] = change(ir.IRBool(false), ir.IRBool(true))
		}
		return changes
	}
	if !exists {
		changes[AttrPurged] = change(ir.IRBool(true), ir.IRBool(false))
	}
	for _, k := range desired.SortedKeys() {
		want := desired[k]
		have, ok := current[k]
		if !ok {
			have = ir.IRNull{}
		}
		if !exists || !ir.Equal(want, have) {
			changes[k] = change(have, want)
		}
	}
	return changes
}

func change(current, desired ir.IRValue) ir.IRObject {
	return ir.Obj(ir.O("current", current), ir.O("desired", desired))
}
