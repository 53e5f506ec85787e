package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/rollout/internal/model"
	"github.com/roach88/rollout/internal/scheduler"
)

// Transition is one recorded state change.
type Transition struct {
	Environment string
	Version     int64
	ID          model.ResourceID
	State       scheduler.ResourceState
}

// RecordingSink keeps every transition in arrival order.
type RecordingSink struct {
	mu          sync.Mutex
	transitions []Transition
}

// RecordState implements scheduler.StateSink.
func (s *RecordingSink) RecordState(_ context.Context, env string, version int64, id model.ResourceID, st scheduler.ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, Transition{Environment: env, Version: version, ID: id, State: st})
	return nil
}

// All returns every transition recorded so far.
func (s *RecordingSink) All() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transitions)
}

// Since returns the transitions recorded after the first n.
func (s *RecordingSink) Since(n int) []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.transitions) {
		return nil
	}
	return slices.Clone(s.transitions[n:])
}

// Len returns the number of recorded transitions.
func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transitions)
}

// Statuses returns the statuses id passed through, in order.
func (s *RecordingSink) Statuses(id model.ResourceID) []scheduler.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduler.Status
	for _, t := range s.transitions {
		if t.ID == id {
			out = append(out, t.State.Status)
		}
	}
	return out
}

var _ scheduler.StateSink = (*RecordingSink)(nil)
