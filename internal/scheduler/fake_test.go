package scheduler

import (
	"context"
	"sync"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

// fakeDispatcher scripts executor behaviour per resource name.
type fakeDispatcher struct {
	mu         sync.Mutex
	calls      []string
	outcomes   map[string]executor.Outcome
	errs       map[string]error
	hang       map[string]bool
	hangOnce   map[string]bool
	compliance map[string]executor.Compliance
	entered    chan string
	inflight   int
	peak       int
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		outcomes:   make(map[string]executor.Outcome),
		errs:       make(map[string]error),
		hang:       make(map[string]bool),
		hangOnce:   make(map[string]bool),
		compliance: make(map[string]executor.Compliance),
		entered:    make(chan string, 64),
	}
}

func (f *fakeDispatcher) enter(name string) (hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.inflight++
	f.peak = max(f.peak, f.inflight)
	hang = f.hang[name] || f.hangOnce[name]
	delete(f.hangOnce, name)
	return hang
}

func (f *fakeDispatcher) leave() {
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
}

func (f *fakeDispatcher) Deploy(ctx context.Context, _ string, r model.ResourceDetails) (executor.DeployResult, error) {
	name := r.ID.AttributeValue
	hang := f.enter(name)
	defer f.leave()
	select {
	case f.entered <- name:
	default:
	}

	if hang {
		<-ctx.Done()
		return executor.DeployResult{}, ctx.Err()
	}

	f.mu.Lock()
	err := f.errs[name]
	outcome, ok := f.outcomes[name]
	f.mu.Unlock()
	if err != nil {
		return executor.DeployResult{}, err
	}
	if !ok {
		outcome = executor.OutcomeDeployed
	}
	return executor.DeployResult{
		Outcome: outcome,
		Changes: ir.Obj(ir.O("content", ir.IRString(name))),
	}, nil
}

func (f *fakeDispatcher) DryRun(ctx context.Context, _ string, r model.ResourceDetails) (executor.DryRunResult, error) {
	name := r.ID.AttributeValue
	f.enter(name)
	defer f.leave()

	f.mu.Lock()
	err := f.errs[name]
	f.mu.Unlock()
	if err != nil {
		return executor.DryRunResult{}, err
	}
	return executor.DryRunResult{Changes: ir.Obj(ir.O("content", ir.IRString(name)))}, nil
}

func (f *fakeDispatcher) Check(ctx context.Context, _ string, r model.ResourceDetails) (executor.CheckResult, error) {
	name := r.ID.AttributeValue
	f.enter(name)
	defer f.leave()

	f.mu.Lock()
	c, ok := f.compliance[name]
	f.mu.Unlock()
	if !ok {
		c = executor.Compliant
	}
	return executor.CheckResult{Compliance: c}, nil
}

func (f *fakeDispatcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDispatcher) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type recorded struct {
	Name    string
	Version int64
	State   ResourceState
}

// recordingSink keeps every transition it receives.
type recordingSink struct {
	mu      sync.Mutex
	records []recorded
}

func (s *recordingSink) RecordState(_ context.Context, _ string, version int64, id model.ResourceID, st ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, recorded{Name: id.AttributeValue, Version: version, State: st})
	return nil
}

// statuses returns the status sequence recorded for name.
func (s *recordingSink) statuses(name string) []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Status
	for _, r := range s.records {
		if r.Name == name {
			out = append(out, r.State.Status)
		}
	}
	return out
}

func (s *recordingSink) all() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.records...)
}
