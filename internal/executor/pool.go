package executor

import (
	"context"
	"fmt"

	"github.com/roach88/rollout/internal/code"
	"github.com/roach88/rollout/internal/model"
)

// CodeError reports that no usable handler code exists for a resource type.
// It is a per-resource failure; the executor stays healthy.
type CodeError struct {
	Type   string
	Reason string
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("no handler code for %s: %s", e.Type, e.Reason)
}

// Pool routes resource calls to executors: it resolves the blueprint for a
// resource type and obtains the matching handle from the Manager.
type Pool struct {
	code    *code.Manager
	manager *Manager
}

// NewPool returns a Pool.
func NewPool(cm *code.Manager, m *Manager) *Pool {
	return &Pool{code: cm, manager: m}
}

func (p *Pool) handleFor(ctx context.Context, env string, r model.ResourceDetails) (*Handle, error) {
	typ := r.Type()
	res, err := p.code.Resolve(ctx, env, r.ID.Version, []string{typ})
	if err != nil {
		return nil, err
	}
	bp, ok := res.BlueprintFor(typ)
	if !ok {
		return nil, &CodeError{Type: typ, Reason: "code resolution failed"}
	}
	h, err := p.manager.Get(ctx, env, bp)
	if err != nil {
		return nil, err
	}
	if !h.Supports(typ) {
		return nil, &CodeError{Type: typ, Reason: "handler failed to load in executor"}
	}
	return h, nil
}

func resourceArgs(r model.ResourceDetails) ResourceArgs {
	return ResourceArgs{ID: r.ID, Attributes: r.Attributes}
}

// Deploy converges r on an executor for env.
func (p *Pool) Deploy(ctx context.Context, env string, r model.ResourceDetails) (DeployResult, error) {
	h, err := p.handleFor(ctx, env, r)
	if err != nil {
		return DeployResult{}, err
	}
	return h.Deploy(ctx, resourceArgs(r))
}

// DryRun reports the changes deploying r would make.
func (p *Pool) DryRun(ctx context.Context, env string, r model.ResourceDetails) (DryRunResult, error) {
	h, err := p.handleFor(ctx, env, r)
	if err != nil {
		return DryRunResult{}, err
	}
	return h.DryRun(ctx, resourceArgs(r))
}

// Check reports whether r is compliant.
func (p *Pool) Check(ctx context.Context, env string, r model.ResourceDetails) (CheckResult, error) {
	h, err := p.handleFor(ctx, env, r)
	if err != nil {
		return CheckResult{}, err
	}
	return h.Check(ctx, resourceArgs(r))
}
