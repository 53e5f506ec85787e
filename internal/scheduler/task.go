package scheduler

import (
	"github.com/roach88/rollout/internal/model"
)

// Task is the scheduling unit for one resource in one pass.
type Task struct {
	ID       model.ResourceID
	Resource model.ResourceDetails
	// Requires are the tasks this one must follow. Entries not present in
	// the task set are satisfied outside the pass.
	Requires []model.ResourceID
	Priority int
}

// NewTask builds a task for r at the given priority.
func NewTask(r model.ResourceDetails, priority int) *Task {
	return &Task{
		ID:       r.ID.ResourceID,
		Resource: r,
		Requires: r.Requires,
		Priority: priority,
	}
}

type visitMark uint8

const (
	unvisited visitMark = iota
	inProgress
	done
)

// Linearize orders tasks so every dependency precedes its dependents.
//
// Independent roots keep their input order. A dependency that is still in
// progress when revisited closes a cycle, reported as a model.GraphError
// with kind model.ErrCycle.
func Linearize(tasks []*Task) ([]*Task, error) {
	byID := make(map[model.ResourceID]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	marks := make(map[model.ResourceID]visitMark, len(tasks))
	out := make([]*Task, 0, len(tasks))
	var stack []model.ResourceID

	var visit func(t *Task) error
	visit = func(t *Task) error {
		switch marks[t.ID] {
		case done:
			return nil
		case inProgress:
			return model.CycleError(cyclePath(stack, t.ID))
		}
		marks[t.ID] = inProgress
		stack = append(stack, t.ID)

		for _, dep := range t.Requires {
			next, ok := byID[dep]
			if !ok {
				continue
			}
			if err := visit(next); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		marks[t.ID] = done
		out = append(out, t)
		return nil
	}

	for _, t := range tasks {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// cyclePath returns the portion of stack starting at id, closed with id.
func cyclePath(stack []model.ResourceID, id model.ResourceID) []string {
	start := 0
	for i, s := range stack {
		if s == id {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, s := range stack[start:] {
		path = append(path, s.String())
	}
	return append(path, id.String())
}
