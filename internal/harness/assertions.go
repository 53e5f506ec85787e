package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Transitions of the resources involved
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTransitions:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s\n", event.Seq, event.Step, event.Resource, event.Label())
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the messages of
// those that failed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFinalStatus:
		return assertFinalStatus(result, a)
	case AssertTransitions:
		return assertTransitions(result, a)
	case AssertDeployedBefore:
		return assertDeployedBefore(result, a)
	case AssertDispatchCount:
		return assertDispatchCount(result, a)
	case AssertStoredStatus:
		return assertStoredStatus(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertFinalStatus checks the last status of a resource and, when given,
// its blocked flag.
func assertFinalStatus(result *Result, a Assertion) error {
	final, ok := result.Final(a.Resource)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("%s ends %s", a.Resource, a.Status),
			Actual:   "no transitions recorded",
		}
	}
	if final.Status != a.Status || (a.Blocked != nil && final.Blocked != *a.Blocked) {
		expected := a.Status
		if a.Blocked != nil && *a.Blocked {
			expected += "/blocked"
		}
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("%s ends %s", a.Resource, expected),
			Actual:   final.Label(),
			Trace:    result.Transitions(a.Resource),
		}
	}
	return nil
}

// assertTransitions checks the exact status sequence of a resource.
func assertTransitions(result *Result, a Assertion) error {
	events := result.Transitions(a.Resource)
	got := make([]string, len(events))
	for i, e := range events {
		got[i] = e.Status
	}
	if !slices.Equal(got, a.Statuses) {
		return &AssertionError{
			Type:     AssertTransitions,
			Expected: strings.Join(a.Statuses, " -> "),
			Actual:   strings.Join(got, " -> "),
			Trace:    events,
		}
	}
	return nil
}

// assertDeployedBefore checks that Before reached deployed before After
// started deploying, within the same step.
func assertDeployedBefore(result *Result, a Assertion) error {
	deployed := firstSeq(result.Transitions(a.Before), "deployed")
	started := firstSeq(result.Transitions(a.After), "deploying")

	if deployed < 0 || started < 0 || deployed > started {
		trace := append(result.Transitions(a.Before), result.Transitions(a.After)...)
		return &AssertionError{
			Type:     AssertDeployedBefore,
			Expected: fmt.Sprintf("%s deployed before %s started", a.Before, a.After),
			Actual:   fmt.Sprintf("deployed seq %d, deploying seq %d", deployed, started),
			Trace:    trace,
		}
	}
	return nil
}

func firstSeq(events []TraceEvent, status string) int64 {
	for _, e := range events {
		if e.Status == status {
			return e.Seq
		}
	}
	return -1
}

// assertDispatchCount checks how often a resource was sent to an executor.
func assertDispatchCount(result *Result, a Assertion) error {
	if got := result.Dispatched[a.Resource]; got != a.Count {
		return &AssertionError{
			Type:     AssertDispatchCount,
			Expected: fmt.Sprintf("%s dispatched %d times", a.Resource, a.Count),
			Actual:   fmt.Sprintf("%d times", got),
		}
	}
	return nil
}

// assertStoredStatus checks the status persisted by the store sink.
func assertStoredStatus(result *Result, a Assertion) error {
	got, ok := result.Stored[a.Resource]
	if !ok {
		got = "absent"
	}
	if got != a.Status {
		return &AssertionError{
			Type:     AssertStoredStatus,
			Expected: fmt.Sprintf("%s stored as %s", a.Resource, a.Status),
			Actual:   got,
		}
	}
	return nil
}
