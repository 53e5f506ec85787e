package scheduler

import (
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/rollout/internal/model"
)

// Summary aggregates the resource states of an environment.
type Summary struct {
	Environment string         `json:"environment"`
	Version     int64          `json:"version"`
	RunID       string         `json:"run_id,omitempty"`
	Total       int            `json:"total"`
	Counts      map[Status]int `json:"counts"`
	Blocked     int            `json:"blocked"`
	// Errors maps resource ids to their recorded error, for resources that
	// did not deploy.
	Errors map[string]string `json:"errors,omitempty"`
}

// Done reports whether every resource reached a terminal status.
func (s Summary) Done() bool {
	for status, n := range s.Counts {
		if n > 0 && !status.Terminal() {
			return false
		}
	}
	return true
}

// Succeeded reports whether every resource is deployed.
func (s Summary) Succeeded() bool {
	return s.Counts[StatusDeployed] == s.Total
}

// Failed returns the sorted ids of resources that recorded an error.
func (s Summary) Failed() []string {
	out := make([]string, 0, len(s.Errors))
	for id := range s.Errors {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// String renders counts in display order, e.g. "deployed=3 failed=1".
func (s Summary) String() string {
	var parts []string
	for _, status := range AllStatuses {
		if n := s.Counts[status]; n > 0 {
			parts = append(parts, string(status)+"="+strconv.Itoa(n))
		}
	}
	if s.Blocked > 0 {
		parts = append(parts, "blocked="+strconv.Itoa(s.Blocked))
	}
	if len(parts) == 0 {
		return "no resources"
	}
	return strings.Join(parts, " ")
}

// Summarize aggregates states into a Summary.
func Summarize(env string, version int64, runID string, states map[model.ResourceID]ResourceState) Summary {
	sum := Summary{
		Environment: env,
		Version:     version,
		RunID:       runID,
		Total:       len(states),
		Counts:      make(map[Status]int),
	}
	for id, st := range states {
		sum.Counts[st.Status]++
		if st.Blocked == BlockedYes {
			sum.Blocked++
		}
		if st.Error != "" {
			if sum.Errors == nil {
				sum.Errors = make(map[string]string)
			}
			sum.Errors[id.String()] = st.Error
		}
	}
	return sum
}

// Summary aggregates the current resource states of the scheduler.
func (s *Scheduler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summarize(s.env, s.version, s.runID, s.states)
}
