package scheduler

import (
	"slices"
	"strings"
	"sync"

	"github.com/roach88/rollout/internal/model"
)

// Scheduling priorities. Lower values are served first by the Gate.
const (
	PriorityHigh     = 100
	PriorityMid      = 200
	PriorityNominal  = 1000
	PriorityLow      = 10000
	PriorityFacts    = PriorityHigh
	PriorityDryRun   = PriorityNominal
	PriorityRepair   = PriorityNominal
	PrioritySnapshot = PriorityLow
)

// generationRecord is what decides whether a resource changed between two
// generations: its attributes, without the version, and its requires set.
type generationRecord struct {
	hash     string
	requires []model.ResourceID
}

func recordOf(r model.ResourceDetails) generationRecord {
	req := slices.Clone(r.Requires)
	slices.SortFunc(req, func(a, b model.ResourceID) int {
		return strings.Compare(a.String(), b.String())
	})
	return generationRecord{hash: r.AttributeHash, requires: req}
}

func (g generationRecord) equal(o generationRecord) bool {
	return g.hash == o.hash && slices.Equal(g.requires, o.requires)
}

// PriorityAssigner promotes changed resources and everything depending on
// them to PriorityMid. It remembers the previous generation of one
// environment; each environment's Scheduler owns its own assigner.
type PriorityAssigner struct {
	mu       sync.Mutex
	previous map[model.ResourceID]generationRecord
}

// NewPriorityAssigner returns an assigner with no previous generation, so
// the first Assign treats every resource as changed.
func NewPriorityAssigner() *PriorityAssigner {
	return &PriorityAssigner{}
}

// Assign compares ms against the previous generation, sets every task reachable
// from a changed resource through its dependents to PriorityMid and stores
// ms as the new previous generation. It returns the directly changed ids in
// ms order.
func (p *PriorityAssigner) Assign(ms *model.ModelState, tasks []*Task) []model.ResourceID {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[model.ResourceID]generationRecord, ms.Len())
	var changed []model.ResourceID
	for _, r := range ms.Resources() {
		rec := recordOf(r)
		current[r.ID.ResourceID] = rec
		prev, ok := p.previous[r.ID.ResourceID]
		if !ok || !prev.equal(rec) {
			changed = append(changed, r.ID.ResourceID)
		}
	}

	byID := make(map[model.ResourceID]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	stack := slices.Clone(changed)
	seen := make(map[model.ResourceID]bool, len(stack))
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		if t, ok := byID[id]; ok && t.Priority != PriorityMid {
			t.Priority = PriorityMid
		}
		stack = append(stack, ms.ProvidesOf(id)...)
	}

	p.previous = current
	return changed
}

// Reset forgets the previous generation.
func (p *PriorityAssigner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previous = nil
}
