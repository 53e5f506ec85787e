package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/rollout/internal/compiler"
	"github.com/roach88/rollout/internal/scheduler"
	"github.com/roach88/rollout/internal/store"
	"github.com/roach88/rollout/internal/testutil"
)

// Harness runs the steps of one scenario against a fresh scheduler.
type Harness struct {
	scenario   *Scenario
	store      *store.Store
	sched      *scheduler.Scheduler
	dispatcher *testutil.ScriptedDispatcher
	sink       *testutil.RecordingSink
	logger     *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. An error
// is returned only when the scenario itself cannot run; failed expectations
// are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		scenario:   scenario,
		store:      st,
		dispatcher: testutil.NewScriptedDispatcher(),
		sink:       &testutil.RecordingSink{},
		logger:     logger,
	}

	propagate := true
	if scenario.PropagateSkip != nil {
		propagate = *scenario.PropagateSkip
	}
	h.sched = scheduler.New(scenario.Environment, h.dispatcher,
		scheduler.WithMaxConcurrency(max(scenario.MaxConcurrency, 1)),
		scheduler.WithPropagateSkip(propagate),
		scheduler.WithSink(h.sink),
		scheduler.WithSink(st),
		scheduler.WithLogger(logger),
		scheduler.WithRunIDGenerator(&sequentialRunIDs{prefix: scenario.Name}),
	)

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) error {
	h.dispatcher.Reset()
	for id, behaviour := range step.Outcomes {
		if err := h.dispatcher.Script(id, behaviour); err != nil {
			return err
		}
	}

	before := h.sink.Len()
	sr := StepResult{Kind: step.Kind()}

	var (
		sum    scheduler.Summary
		runErr error
	)
	if step.Repair {
		if active := h.sched.Active(); active != nil {
			sr.Version = active.Version
		}
		sum, runErr = h.sched.Repair(ctx)
	} else {
		doc, err := compiler.LoadYAML(fmt.Sprintf("%s/step%d", h.scenario.Name, i), []byte(step.Deploy))
		if err != nil {
			return fmt.Errorf("compile model: %w", err)
		}
		ms, err := doc.State()
		if err != nil {
			return fmt.Errorf("compile model: %w", err)
		}
		sr.Version = ms.Version
		if err := h.store.WriteVersion(ctx, h.scenario.Environment, doc.Source, ms); err != nil && !errors.Is(err, store.ErrVersionExists) {
			return err
		}
		sum, runErr = h.sched.Deploy(ctx, ms)
		if runErr == nil {
			if err := h.store.ReleaseVersion(ctx, h.scenario.Environment, ms.Version); err != nil {
				return err
			}
		}
	}

	switch {
	case runErr != nil:
		sr.Err = runErr.Error()
		if step.ExpectError == "" {
			result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, sr.Kind, runErr))
		} else if !strings.Contains(runErr.Error(), step.ExpectError) {
			result.AddError(fmt.Sprintf("step %d (%s): error %q does not contain %q", i, sr.Kind, runErr, step.ExpectError))
		}
	case step.ExpectError != "":
		result.AddError(fmt.Sprintf("step %d (%s): expected error containing %q", i, sr.Kind, step.ExpectError))
	default:
		sr.Summary = &sum
	}
	result.Steps = append(result.Steps, sr)

	for _, t := range h.sink.Since(before) {
		result.Trace = append(result.Trace, TraceEvent{
			Step:     i,
			Resource: t.ID.String(),
			Status:   string(t.State.Status),
			Blocked:  t.State.Blocked == scheduler.BlockedYes,
			Code:     errorCode(t.State.Error),
			Seq:      t.State.Seq,
		})
	}

	states := h.sched.States()
	for _, id := range sortedKeys(step.Expect) {
		want := step.Expect[id]
		got := "absent"
		for rid, st := range states {
			if rid.String() == id {
				got = string(st.Status)
			}
		}
		if got != want {
			result.AddError(fmt.Sprintf("step %d (%s): %s is %s, expected %s", i, sr.Kind, id, got, want))
		}
	}
	return nil
}

// collect copies dispatch counts and persisted state into the result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	for _, id := range h.dispatcher.Order() {
		result.Dispatched[id] = h.dispatcher.Calls(id)
	}
	records, err := h.store.ReadResourceStates(ctx, h.scenario.Environment)
	if err != nil {
		return err
	}
	for _, rec := range records {
		result.Stored[rec.ID.String()] = string(rec.Status)
	}
	slices.SortStableFunc(result.Trace, func(a, b TraceEvent) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// sequentialRunIDs names passes <prefix>-1, <prefix>-2, ...
type sequentialRunIDs struct {
	prefix string
	n      int
}

func (g *sequentialRunIDs) Generate() string {
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
