// Package testutil provides deterministic stand-ins for executors and state
// sinks, shared by the harness and command tests.
package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/ipc"
	"github.com/roach88/rollout/internal/model"
)

// Behaviours understood by ScriptedDispatcher, in addition to the
// executor.Outcome values.
const (
	// BehaviourError makes the handler raise an error.
	BehaviourError = "error"
	// BehaviourLost simulates an executor that died mid-call.
	BehaviourLost = "lost"
	// BehaviourNoCode simulates a resource type without handler code.
	BehaviourNoCode = "no_code"
)

// ScriptedDispatcher answers executor calls from a per-resource script.
// Resources without a script entry deploy successfully with no changes.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedDispatcher struct {
	mu         sync.Mutex
	script     map[string]string
	compliance map[string]executor.Compliance
	calls      map[string]int
	order      []string
}

// NewScriptedDispatcher returns a dispatcher with an empty script.
func NewScriptedDispatcher() *ScriptedDispatcher {
	return &ScriptedDispatcher{
		script:     make(map[string]string),
		compliance: make(map[string]executor.Compliance),
		calls:      make(map[string]int),
	}
}

// Script sets the behaviour of the resource with the given id string.
// The behaviour is an executor.Outcome or one of the Behaviour constants.
func (d *ScriptedDispatcher) Script(id, behaviour string) error {
	switch behaviour {
	case string(executor.OutcomeDeployed), string(executor.OutcomeFailed),
		string(executor.OutcomeSkipped), string(executor.OutcomeNonCompliant),
		string(executor.OutcomeProcessingEvents),
		BehaviourError, BehaviourLost, BehaviourNoCode:
	default:
		return fmt.Errorf("unknown behaviour %q for %s", behaviour, id)
	}
	d.mu.Lock()
	d.script[id] = behaviour
	d.mu.Unlock()
	return nil
}

// SetCompliance sets what Check reports for a resource. The default is
// compliant.
func (d *ScriptedDispatcher) SetCompliance(id string, c executor.Compliance) {
	d.mu.Lock()
	d.compliance[id] = c
	d.mu.Unlock()
}

// Reset clears the script but keeps the call log.
func (d *ScriptedDispatcher) Reset() {
	d.mu.Lock()
	clear(d.script)
	d.mu.Unlock()
}

// Calls returns how often Deploy ran for id.
func (d *ScriptedDispatcher) Calls(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

// Order returns the ids passed to Deploy, in call order.
func (d *ScriptedDispatcher) Order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.order)
}

func (d *ScriptedDispatcher) behaviour(id string, record bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if record {
		d.calls[id]++
		d.order = append(d.order, id)
	}
	if b, ok := d.script[id]; ok {
		return b
	}
	return string(executor.OutcomeDeployed)
}

func scriptedError(method, typ string, behaviour string) error {
	switch behaviour {
	case BehaviourError:
		return &ipc.RemoteCallError{Method: method, Type: "HandlerError", Message: "scripted failure"}
	case BehaviourLost:
		return fmt.Errorf("%s: %w", method, ipc.ErrConnectionLost)
	case BehaviourNoCode:
		return &executor.CodeError{Type: typ, Reason: "scripted missing code"}
	}
	return nil
}

// Deploy implements scheduler.Dispatcher.
func (d *ScriptedDispatcher) Deploy(ctx context.Context, _ string, r model.ResourceDetails) (executor.DeployResult, error) {
	if err := ctx.Err(); err != nil {
		return executor.DeployResult{}, err
	}
	b := d.behaviour(r.ID.ResourceID.String(), true)
	if err := scriptedError(executor.MethodDeploy, r.Type(), b); err != nil {
		return executor.DeployResult{}, err
	}
	res := executor.DeployResult{Outcome: executor.Outcome(b)}
	if res.Outcome == executor.OutcomeFailed {
		res.Message = "scripted failure"
	}
	return res, nil
}

// DryRun implements scheduler.Dispatcher. Every resource reports its full
// attribute set as changes.
func (d *ScriptedDispatcher) DryRun(ctx context.Context, _ string, r model.ResourceDetails) (executor.DryRunResult, error) {
	if err := ctx.Err(); err != nil {
		return executor.DryRunResult{}, err
	}
	b := d.behaviour(r.ID.ResourceID.String(), false)
	if err := scriptedError(executor.MethodDryRun, r.Type(), b); err != nil {
		return executor.DryRunResult{}, err
	}
	return executor.DryRunResult{Changes: r.Attributes}, nil
}

// Check implements scheduler.Dispatcher.
func (d *ScriptedDispatcher) Check(ctx context.Context, _ string, r model.ResourceDetails) (executor.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return executor.CheckResult{}, err
	}
	id := r.ID.ResourceID.String()
	b := d.behaviour(id, false)
	if err := scriptedError(executor.MethodCheck, r.Type(), b); err != nil {
		return executor.CheckResult{}, err
	}
	d.mu.Lock()
	c, ok := d.compliance[id]
	d.mu.Unlock()
	if !ok {
		c = executor.Compliant
	}
	return executor.CheckResult{Compliance: c}, nil
}
