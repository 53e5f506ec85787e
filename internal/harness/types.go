package harness

import (
	"strings"

	"github.com/roach88/rollout/internal/scheduler"
)

// TraceEvent is one resource state transition observed during a step.
type TraceEvent struct {
	Step     int    `json:"step"`
	Resource string `json:"resource"`
	Status   string `json:"status"`
	Blocked  bool   `json:"blocked"`
	// Code is the error code of the transition, if any.
	Code string `json:"code,omitempty"`
	Seq  int64  `json:"seq"`
}

// Label renders the event without its seq, e.g.
// "skipped/blocked:DEPENDENCY_FAILED".
func (e TraceEvent) Label() string {
	var b strings.Builder
	b.WriteString(e.Status)
	if e.Blocked {
		b.WriteString("/blocked")
	}
	if e.Code != "" {
		b.WriteByte(':')
		b.WriteString(e.Code)
	}
	return b.String()
}

// StepResult records what one step did.
type StepResult struct {
	Kind    string             `json:"kind"`
	Version int64              `json:"version"`
	Summary *scheduler.Summary `json:"summary,omitempty"`
	// Err is the error the step returned, if any.
	Err string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Trace contains every transition in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Dispatched counts deploy calls per resource.
	Dispatched map[string]int `json:"dispatched,omitempty"`

	// Stored holds the persisted status per resource after the last step.
	Stored map[string]string `json:"stored,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Steps:      []StepResult{},
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Dispatched: make(map[string]int),
		Stored:     make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Transitions returns the events of one resource in order.
func (r *Result) Transitions(resource string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Resource == resource {
			out = append(out, e)
		}
	}
	return out
}

// Final returns the last event of a resource.
func (r *Result) Final(resource string) (TraceEvent, bool) {
	events := r.Transitions(resource)
	if len(events) == 0 {
		return TraceEvent{}, false
	}
	return events[len(events)-1], true
}

// errorCode extracts the code prefix of a recorded ResourceError string.
func errorCode(msg string) string {
	code, _, ok := strings.Cut(msg, ":")
	if !ok {
		return ""
	}
	return code
}
