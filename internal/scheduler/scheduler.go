package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/metrics"
	"github.com/roach88/rollout/internal/model"
)

// ErrSuperseded is returned by a pass that a newer Deploy replaced before it
// could start.
var ErrSuperseded = errors.New("pass superseded by a newer version")

// Defaults for Options.
const (
	DefaultMaxConcurrency = 8
	DefaultCallTimeout    = 5 * time.Minute
)

// Dispatcher runs resource work on executors.
// Implemented by executor.Pool.
type Dispatcher interface {
	Deploy(ctx context.Context, env string, r model.ResourceDetails) (executor.DeployResult, error)
	DryRun(ctx context.Context, env string, r model.ResourceDetails) (executor.DryRunResult, error)
	Check(ctx context.Context, env string, r model.ResourceDetails) (executor.CheckResult, error)
}

// StateSink receives every resource state transition, including compliance
// changes recorded by Check. Within a pass, sinks are called from the pass
// coordinator in transition order.
type StateSink interface {
	RecordState(ctx context.Context, env string, version int64, id model.ResourceID, st ResourceState) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrency bounds the number of resources deployed at once.
func WithMaxConcurrency(n int) Option {
	return func(s *Scheduler) {
		s.maxConcurrency = n
	}
}

// WithCallTimeout bounds each executor call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.callTimeout = d
	}
}

// WithPropagateSkip controls whether failed, cancelled and skipped resources
// skip their dependents. Default: true.
func WithPropagateSkip(enabled bool) Option {
	return func(s *Scheduler) {
		s.propagateSkip = enabled
	}
}

// WithSink adds a state sink.
func WithSink(sink StateSink) Option {
	return func(s *Scheduler) {
		s.sinks = append(s.sinks, sink)
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithClock sets the clock stamping transitions.
func WithClock(c *Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithRunIDGenerator sets the run id source.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(s *Scheduler) {
		s.runIDs = g
	}
}

// Scheduler deploys model versions for one environment.
//
// Thread-safety model:
//   - Deploy, Repair, DryRun, Check, States and Summary are safe from any
//     goroutine.
//   - At most one pass runs at a time. A pass's coordinator goroutine is the
//     only writer of resource state.
type Scheduler struct {
	env        string
	dispatcher Dispatcher
	gate       *Gate
	active     *model.ActiveModel
	assigner   *PriorityAssigner
	clock      *Clock
	runIDs     RunIDGenerator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sinks      []StateSink

	maxConcurrency int
	callTimeout    time.Duration
	propagateSkip  bool

	epoch  atomic.Uint64
	passMu sync.Mutex

	mu       sync.Mutex
	current  *pass
	states   map[model.ResourceID]ResourceState
	deployed map[model.ResourceID]string // attribute hash last deployed
	runID    string
	version  int64
}

// New creates the scheduler of one environment.
func New(env string, d Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		env:            env,
		dispatcher:     d,
		active:         model.NewActiveModel(),
		assigner:       NewPriorityAssigner(),
		clock:          NewClock(),
		runIDs:         UUIDv7Generator{},
		logger:         slog.Default(),
		maxConcurrency: DefaultMaxConcurrency,
		callTimeout:    DefaultCallTimeout,
		propagateSkip:  true,
		states:         make(map[model.ResourceID]ResourceState),
		deployed:       make(map[model.ResourceID]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = NewGate(s.maxConcurrency)
	s.logger = s.logger.With("env", env)
	return s
}

// Environment returns the environment this scheduler serves.
func (s *Scheduler) Environment() string { return s.env }

// Active returns the model state of the latest spliced version, or nil.
func (s *Scheduler) Active() *model.ModelState { return s.active.Current() }

// Gate returns the concurrency gate, for tuning its limit at runtime.
func (s *Scheduler) Gate() *Gate { return s.gate }

// pass is one run over a task set.
type pass struct {
	ctx    context.Context
	cancel context.CancelFunc
	epoch  uint64
	runID  string
	ms     *model.ModelState
}

func (p *pass) stale(s *Scheduler) bool {
	return p.ctx.Err() != nil || s.epoch.Load() != p.epoch
}

// enter waits until no other pass runs and registers a pass for epoch. It
// fails with ErrSuperseded when a Deploy moved the epoch on meanwhile.
func (s *Scheduler) enter(ctx context.Context, ms *model.ModelState, epoch uint64) (*pass, error) {
	s.passMu.Lock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch.Load() != epoch || ctx.Err() != nil {
		s.passMu.Unlock()
		return nil, ErrSuperseded
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &pass{ctx: pctx, cancel: cancel, epoch: epoch, runID: s.runIDs.Generate(), ms: ms}
	s.current = p
	s.runID = p.runID
	s.version = ms.Version
	return p, nil
}

func (s *Scheduler) end(p *pass) {
	s.mu.Lock()
	if s.current == p {
		s.current = nil
	}
	s.mu.Unlock()
	p.cancel()
	s.passMu.Unlock()
}

// Deploy makes ms the active version and deploys it.
//
// The version is linearized before it is spliced, so a cyclic version is
// rejected with a model.GraphError and never becomes active. A running pass
// is superseded: its in-flight resources end as cancelled. Resources that
// are new, changed, or not deployed at their current attributes are
// scheduled; the rest keep their state.
func (s *Scheduler) Deploy(ctx context.Context, ms *model.ModelState) (Summary, error) {
	if ms == nil {
		return Summary{}, fmt.Errorf("deploy: nil model state")
	}
	all := make([]*Task, 0, ms.Len())
	for _, r := range ms.Resources() {
		all = append(all, NewTask(r, PriorityNominal))
	}
	ordered, err := Linearize(all)
	if err != nil {
		return Summary{}, fmt.Errorf("deploy version %d: %w", ms.Version, err)
	}

	// Splicing and moving the epoch happen together, so the newest spliced
	// version always owns the newest epoch.
	s.mu.Lock()
	delta, err := s.active.Splice(ms)
	if err != nil {
		s.mu.Unlock()
		return Summary{}, fmt.Errorf("deploy version %d: %w", ms.Version, err)
	}
	epoch := s.epoch.Add(1)
	if s.current != nil {
		s.current.cancel()
	}
	s.mu.Unlock()

	s.logger.Info("version spliced",
		"version", ms.Version,
		"new", len(delta.New),
		"changed", len(delta.Changed),
		"removed", len(delta.Removed),
		"unchanged", len(delta.Unchanged))

	p, err := s.enter(ctx, ms, epoch)
	if err != nil {
		return Summary{}, err
	}
	defer s.end(p)

	s.forgetMissing(ms)

	tasks := s.selectTasks(ordered)
	s.assigner.Assign(ms, all)

	s.runPass(p, tasks)
	return s.Summary(), nil
}

// Repair re-enters every resource of the active version at available and
// deploys it again at PriorityRepair. It waits for a running pass and is
// itself superseded by a later Deploy.
func (s *Scheduler) Repair(ctx context.Context) (Summary, error) {
	ms := s.active.Current()
	if ms == nil {
		return Summary{}, fmt.Errorf("repair: no active version")
	}
	tasks := make([]*Task, 0, ms.Len())
	for _, r := range ms.Resources() {
		tasks = append(tasks, NewTask(r, PriorityRepair))
	}
	ordered, err := Linearize(tasks)
	if err != nil {
		return Summary{}, fmt.Errorf("repair: %w", err)
	}

	p, err := s.enter(ctx, ms, s.epoch.Load())
	if err != nil {
		return Summary{}, err
	}
	defer s.end(p)

	s.runPass(p, ordered)
	return s.Summary(), nil
}

// Restore installs ms as the active version together with resource states
// recorded by an earlier process, so a following Deploy only schedules what
// changed since. States of resources outside ms are ignored. A deployed
// resource counts as deployed at its attribute hash in ms. A resource left
// available, deploying or processing_events by a process that stopped
// mid-pass is restored as available, so the next pass deploys it again.
//
// Restore is meant for a scheduler that has not run a pass yet.
func (s *Scheduler) Restore(ms *model.ModelState, states map[model.ResourceID]ResourceState) error {
	if ms == nil {
		return fmt.Errorf("restore: nil model state")
	}
	if !s.passMu.TryLock() {
		return fmt.Errorf("restore: a pass is running")
	}
	defer s.passMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.active.Splice(ms); err != nil {
		return fmt.Errorf("restore version %d: %w", ms.Version, err)
	}
	s.epoch.Add(1)
	s.version = ms.Version
	for id, st := range states {
		r, ok := ms.Resource(id)
		if !ok {
			continue
		}
		if !st.Status.Terminal() {
			st = ResourceState{Status: StatusAvailable, Blocked: BlockedNo, Compliance: executor.Unknown, Seq: st.Seq}
		}
		s.states[id] = st
		if st.Status == StatusDeployed {
			s.deployed[id] = r.AttributeHash
		}
	}
	s.assigner.Assign(ms, nil)

	s.logger.Info("version restored", "version", ms.Version, "states", len(s.states))
	return nil
}

// selectTasks keeps, in order, the tasks whose resource is not deployed at
// its current attribute hash.
func (s *Scheduler) selectTasks(ordered []*Task) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0, len(ordered))
	for _, t := range ordered {
		st, ok := s.states[t.ID]
		if ok && st.Status == StatusDeployed && s.deployed[t.ID] == t.Resource.AttributeHash {
			continue
		}
		out = append(out, t)
	}
	return out
}

// forgetMissing drops the state of resources that left the model.
func (s *Scheduler) forgetMissing(ms *model.ModelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.states {
		if _, ok := ms.Resource(id); !ok {
			delete(s.states, id)
			delete(s.deployed, id)
		}
	}
}

// passState is owned by the coordinator goroutine of one pass.
type passState struct {
	tasks      map[model.ResourceID]*Task
	order      []*Task
	waiting    map[model.ResourceID]int
	dependents map[model.ResourceID][]*Task
	running    map[model.ResourceID]bool
	terminal   map[model.ResourceID]bool
	remaining  int
}

func (s *Scheduler) runPass(p *pass, tasks []*Task) {
	s.metrics.PassStarted(p.ctx, s.env)
	s.logger.Info("pass started", "run_id", p.runID, "version", p.ms.Version, "tasks", len(tasks))
	start := time.Now()

	ps := &passState{
		tasks:      make(map[model.ResourceID]*Task, len(tasks)),
		order:      tasks,
		waiting:    make(map[model.ResourceID]int, len(tasks)),
		dependents: make(map[model.ResourceID][]*Task),
		running:    make(map[model.ResourceID]bool),
		terminal:   make(map[model.ResourceID]bool, len(tasks)),
		remaining:  len(tasks),
	}
	for _, t := range tasks {
		ps.tasks[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.Requires {
			if _, ok := ps.tasks[dep]; ok {
				ps.waiting[t.ID]++
				ps.dependents[dep] = append(ps.dependents[dep], t)
			}
		}
	}

	for _, t := range tasks {
		s.setState(p, t.ID, StatusAvailable, BlockedNo, nil)
	}

	q := newEventQueue()
	var workers sync.WaitGroup

	for _, t := range tasks {
		if ps.terminal[t.ID] {
			continue
		}
		if t.Resource.HasUnknowns() {
			s.finishTask(p, ps, q, &workers, t, StatusUndefined, BlockedNo, &ResourceError{
				Code:     ErrCodeUnknownValues,
				Resource: t.ID.String(),
				Message:  fmt.Sprintf("unresolved attributes: %v", t.Resource.Unknowns),
			})
			continue
		}
		if ps.waiting[t.ID] == 0 {
			s.startWorker(p, ps, q, &workers, t)
		}
	}

	done := p.ctx.Done()
	for ps.remaining > 0 {
		select {
		case <-done:
			done = nil
			s.cancelIdle(p, ps)
		case <-q.Wait():
		}
		for {
			ev, ok := q.TryDequeue()
			if !ok {
				break
			}
			s.handleEvent(p, ps, q, &workers, ev)
		}
	}

	workers.Wait()
	q.Close()

	s.logger.Info("pass finished",
		"run_id", p.runID,
		"version", p.ms.Version,
		"cancelled", p.stale(s),
		"duration", time.Since(start))
}

// cancelIdle ends every task that has no worker yet.
func (s *Scheduler) cancelIdle(p *pass, ps *passState) {
	for _, t := range ps.order {
		if ps.terminal[t.ID] || ps.running[t.ID] {
			continue
		}
		s.setState(p, t.ID, StatusCancelled, BlockedNo, &ResourceError{
			Code:     ErrCodeSuperseded,
			Resource: t.ID.String(),
			Message:  "pass cancelled before dispatch",
		})
		ps.terminal[t.ID] = true
		ps.remaining--
	}
}

func (s *Scheduler) handleEvent(p *pass, ps *passState, q *eventQueue, workers *sync.WaitGroup, ev event) {
	t, ok := ps.tasks[ev.ID]
	if !ok || ps.terminal[ev.ID] {
		return
	}

	switch ev.Type {
	case eventStarted:
		s.setState(p, ev.ID, StatusDeploying, BlockedNo, nil)
	case eventFinished:
		delete(ps.running, ev.ID)
		if ev.Status == StatusDeployed || ev.Status == StatusProcessingEvents {
			s.metrics.Deployed(p.ctx, t.Resource.Type(), ev.Duration)
		}
		s.logResult(p, t, ev)
		s.finishTask(p, ps, q, workers, t, ev.Status, BlockedNo, ev.Err)
	}
}

func (s *Scheduler) logResult(p *pass, t *Task, ev event) {
	attrs := []any{
		"resource", t.ID.String(),
		"version", p.ms.Version,
		"status", ev.Status,
		"duration", ev.Duration,
	}
	if ev.Err != nil {
		s.logger.Warn("resource not deployed", append(attrs, "code", ev.Err.Code, "error", ev.Err)...)
		return
	}
	if len(ev.Changes) > 0 {
		attrs = append(attrs, "changes", ev.Changes)
	}
	s.logger.Info("resource finished", attrs...)
}

// finishTask moves t to a terminal status and releases or skips its
// dependents. processing_events notifies dependents and then settles to
// deployed.
func (s *Scheduler) finishTask(p *pass, ps *passState, q *eventQueue, workers *sync.WaitGroup, t *Task, status Status, blocked Blocked, rerr *ResourceError) {
	if ps.terminal[t.ID] {
		return
	}
	s.setState(p, t.ID, status, blocked, rerr)
	if status == StatusProcessingEvents {
		s.releaseDependents(p, ps, q, workers, t, status)
		s.setState(p, t.ID, StatusDeployed, BlockedNo, nil)
		s.markDeployed(t)
		ps.terminal[t.ID] = true
		ps.remaining--
		return
	}
	if status == StatusDeployed {
		s.markDeployed(t)
	}
	ps.terminal[t.ID] = true
	ps.remaining--
	s.releaseDependents(p, ps, q, workers, t, status)
}

func (s *Scheduler) releaseDependents(p *pass, ps *passState, q *eventQueue, workers *sync.WaitGroup, t *Task, status Status) {
	for _, d := range ps.dependents[t.ID] {
		if ps.terminal[d.ID] {
			continue
		}
		switch {
		case propagatesUndefined(status):
			s.finishTask(p, ps, q, workers, d, StatusSkippedForUndefined, BlockedYes, &ResourceError{
				Code:     ErrCodeUnknownValues,
				Resource: d.ID.String(),
				Message:  fmt.Sprintf("requirement %s has unresolved values", t.ID),
			})
		case propagatesSkip(status) && s.propagateSkip:
			s.finishTask(p, ps, q, workers, d, StatusSkipped, BlockedYes, &ResourceError{
				Code:     ErrCodeDependency,
				Resource: d.ID.String(),
				Message:  fmt.Sprintf("requirement %s is %s", t.ID, status),
			})
		default:
			ps.waiting[d.ID]--
			if ps.waiting[d.ID] > 0 {
				continue
			}
			if p.stale(s) {
				s.finishTask(p, ps, q, workers, d, StatusCancelled, BlockedNo, &ResourceError{
					Code:     ErrCodeSuperseded,
					Resource: d.ID.String(),
					Message:  "pass cancelled before dispatch",
				})
				continue
			}
			if d.Resource.HasUnknowns() {
				s.finishTask(p, ps, q, workers, d, StatusUndefined, BlockedNo, &ResourceError{
					Code:     ErrCodeUnknownValues,
					Resource: d.ID.String(),
					Message:  fmt.Sprintf("unresolved attributes: %v", d.Resource.Unknowns),
				})
				continue
			}
			s.startWorker(p, ps, q, workers, d)
		}
	}
}

func (s *Scheduler) markDeployed(t *Task) {
	s.mu.Lock()
	s.deployed[t.ID] = t.Resource.AttributeHash
	s.mu.Unlock()
}

// startWorker launches the goroutine that waits for a permit and calls the
// executor for t. The worker only reports through q.
func (s *Scheduler) startWorker(p *pass, ps *passState, q *eventQueue, workers *sync.WaitGroup, t *Task) {
	ps.running[t.ID] = true
	workers.Add(1)
	go func() {
		defer workers.Done()
		q.Enqueue(s.work(p, q, t))
	}()
}

func (s *Scheduler) work(p *pass, q *eventQueue, t *Task) event {
	cancelled := func(msg string) event {
		return event{Type: eventFinished, ID: t.ID, Status: StatusCancelled, Err: &ResourceError{
			Code:     ErrCodeSuperseded,
			Resource: t.ID.String(),
			Message:  msg,
		}}
	}

	waitStart := time.Now()
	permit, err := s.gate.Acquire(p.ctx, t.Priority)
	if err != nil {
		return cancelled("cancelled while waiting for a deploy slot")
	}
	s.metrics.PermitAcquired(p.ctx, t.Priority, time.Since(waitStart))
	defer func() {
		permit.Release()
		s.metrics.PermitReleased(p.ctx)
	}()

	if p.stale(s) {
		return cancelled("superseded before dispatch")
	}
	q.Enqueue(event{Type: eventStarted, ID: t.ID})

	callCtx := p.ctx
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(p.ctx, s.callTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.dispatcher.Deploy(callCtx, s.env, t.Resource)
	elapsed := time.Since(start)
	if err != nil {
		if p.ctx.Err() != nil {
			return cancelled("superseded during dispatch")
		}
		rerr := classify(t.ID.String(), err)
		status := StatusFailed
		if rerr.Code == ErrCodeSuperseded {
			status = StatusCancelled
		}
		return event{Type: eventFinished, ID: t.ID, Status: status, Err: rerr, Duration: elapsed}
	}

	ev := event{
		Type:     eventFinished,
		ID:       t.ID,
		Status:   statusForOutcome(res.Outcome),
		Changes:  res.Changes.SortedKeys(),
		Duration: elapsed,
		Outcome:  res.Outcome,
	}
	if ev.Status == StatusFailed {
		msg := res.Message
		if msg == "" {
			msg = "handler reported failure"
		}
		ev.Err = &ResourceError{Code: ErrCodeHandlerFailed, Resource: t.ID.String(), Message: msg}
	}
	return ev
}

func statusForOutcome(o executor.Outcome) Status {
	switch o {
	case executor.OutcomeDeployed:
		return StatusDeployed
	case executor.OutcomeSkipped:
		return StatusSkipped
	case executor.OutcomeNonCompliant:
		return StatusNonCompliant
	case executor.OutcomeProcessingEvents:
		return StatusProcessingEvents
	}
	return StatusFailed
}

// setState applies one validated transition and forwards it to the sinks.
func (s *Scheduler) setState(p *pass, id model.ResourceID, to Status, blocked Blocked, rerr *ResourceError) {
	s.mu.Lock()
	prev, known := s.states[id]
	if known {
		if err := Transition(prev.Status, to); err != nil {
			s.mu.Unlock()
			s.logger.Error("rejected resource transition", "resource", id.String(), "error", err)
			return
		}
	}
	st := ResourceState{
		Status:     to,
		Blocked:    blocked,
		Compliance: complianceFor(to),
		Seq:        s.clock.Next(),
	}
	if rerr != nil {
		st.Error = rerr.Error()
	}
	s.states[id] = st
	s.mu.Unlock()

	s.metrics.Transition(p.ctx, s.env, string(to))
	s.logger.Debug("resource transition",
		"resource", id.String(),
		"from", prev.Status,
		"to", to,
		"seq", st.Seq)

	// Sinks record the transition even when the pass is being cancelled.
	s.record(context.WithoutCancel(p.ctx), p.ms.Version, id, st)
}

func (s *Scheduler) record(ctx context.Context, version int64, id model.ResourceID, st ResourceState) {
	for _, sink := range s.sinks {
		if err := sink.RecordState(ctx, s.env, version, id, st); err != nil {
			s.logger.Warn("state sink failed", "resource", id.String(), "error", err)
		}
	}
}

// States returns a copy of the current resource states.
func (s *Scheduler) States() map[model.ResourceID]ResourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.states)
}

// State returns the state of one resource.
func (s *Scheduler) State(id model.ResourceID) (ResourceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok
}
