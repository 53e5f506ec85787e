package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/model"
)

// PlanEntry is the dry-run report for one resource.
type PlanEntry struct {
	ID      model.ResourceID `json:"id"`
	Status  Status           `json:"status"`
	Changes []string         `json:"changes,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Plan is the dry-run report of one version, in deploy order.
type Plan struct {
	Environment string      `json:"environment"`
	Version     int64       `json:"version"`
	Entries     []PlanEntry `json:"entries"`
}

// Changed returns the entries that would change something.
func (p Plan) Changed() []PlanEntry {
	var out []PlanEntry
	for _, e := range p.Entries {
		if len(e.Changes) > 0 {
			out = append(out, e)
		}
	}
	return out
}

// DryRun asks the executors what deploying ms would change, without
// splicing it and without touching resource state. Calls share the gate at
// PriorityDryRun. A resource with unresolved values, or whose requirement
// has them, is reported without a call.
func (s *Scheduler) DryRun(ctx context.Context, ms *model.ModelState) (Plan, error) {
	tasks := make([]*Task, 0, ms.Len())
	for _, r := range ms.Resources() {
		tasks = append(tasks, NewTask(r, PriorityDryRun))
	}
	ordered, err := Linearize(tasks)
	if err != nil {
		return Plan{}, fmt.Errorf("dry run version %d: %w", ms.Version, err)
	}

	plan := Plan{Environment: s.env, Version: ms.Version, Entries: make([]PlanEntry, len(ordered))}
	undefined := make(map[model.ResourceID]bool)

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range ordered {
		entry := &plan.Entries[i]
		entry.ID = t.ID

		if t.Resource.HasUnknowns() {
			undefined[t.ID] = true
			entry.Status = StatusUndefined
			entry.Error = fmt.Sprintf("unresolved attributes: %v", t.Resource.Unknowns)
			continue
		}
		if dep, ok := firstUndefined(t, undefined); ok {
			undefined[t.ID] = true
			entry.Status = StatusSkippedForUndefined
			entry.Error = fmt.Sprintf("requirement %s has unresolved values", dep)
			continue
		}

		g.Go(func() error {
			res, err := gatedCall(gctx, s, t, func(ctx context.Context) (executor.DryRunResult, error) {
				return s.dispatcher.DryRun(ctx, s.env, t.Resource)
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				entry.Status = StatusFailed
				entry.Error = classify(t.ID.String(), err).Error()
				return nil
			}
			entry.Status = StatusDeployed
			entry.Changes = res.Changes.SortedKeys()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Plan{}, fmt.Errorf("dry run version %d: %w", ms.Version, err)
	}
	return plan, nil
}

func firstUndefined(t *Task, undefined map[model.ResourceID]bool) (model.ResourceID, bool) {
	for _, dep := range t.Requires {
		if undefined[dep] {
			return dep, true
		}
	}
	return model.ResourceID{}, false
}

// ComplianceEntry is the check result for one resource.
type ComplianceEntry struct {
	ID         model.ResourceID    `json:"id"`
	Compliance executor.Compliance `json:"compliance"`
	Changes    []string            `json:"changes,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Check compares every resource of the active version against the system
// and records the compliance in its state. A changed compliance is a new
// transition: it gets a fresh seq and reaches every sink. Resources that
// cannot be checked are reported as unknown.
func (s *Scheduler) Check(ctx context.Context) ([]ComplianceEntry, error) {
	ms := s.active.Current()
	if ms == nil {
		return nil, fmt.Errorf("check: no active version")
	}
	resources := ms.Resources()
	out := make([]ComplianceEntry, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range resources {
		entry := &out[i]
		entry.ID = r.ID.ResourceID
		entry.Compliance = executor.Unknown
		if r.HasUnknowns() {
			entry.Error = "unresolved attributes"
			continue
		}
		t := NewTask(r, PriorityNominal)
		g.Go(func() error {
			res, err := gatedCall(gctx, s, t, func(ctx context.Context) (executor.CheckResult, error) {
				return s.dispatcher.Check(ctx, s.env, r)
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				entry.Error = classify(t.ID.String(), err).Error()
				return nil
			}
			entry.Compliance = res.Compliance
			entry.Changes = res.Changes.SortedKeys()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}

	for _, e := range out {
		if e.Error == "" {
			s.recordCompliance(ctx, ms.Version, e.ID, e.Compliance)
		}
	}
	return out, nil
}

// recordCompliance updates the compliance of a resource in a terminal
// status. Unchanged compliance is not recorded again.
func (s *Scheduler) recordCompliance(ctx context.Context, version int64, id model.ResourceID, c executor.Compliance) {
	s.mu.Lock()
	st, ok := s.states[id]
	if !ok || !st.Status.Terminal() || st.Compliance == c {
		s.mu.Unlock()
		return
	}
	st.Compliance = c
	st.Seq = s.clock.Next()
	s.states[id] = st
	s.mu.Unlock()

	s.logger.Debug("resource compliance", "resource", id.String(), "compliance", c, "seq", st.Seq)
	s.record(context.WithoutCancel(ctx), version, id, st)
}

// gatedCall runs fn under a gate permit and the call timeout.
func gatedCall[T any](ctx context.Context, s *Scheduler, t *Task, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	waitStart := time.Now()
	permit, err := s.gate.Acquire(ctx, t.Priority)
	if err != nil {
		return zero, err
	}
	s.metrics.PermitAcquired(ctx, t.Priority, time.Since(waitStart))
	defer func() {
		permit.Release()
		s.metrics.PermitReleased(ctx)
	}()

	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}
	return fn(ctx)
}
