package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

func rid(name string) model.ResourceID {
	return model.MustParseResourceID("test::R[h,n=" + name + "]")
}

func resource(t *testing.T, version int64, name string, attrs ir.IRObject, requires ...string) model.ResourceDetails {
	t.Helper()
	deps := make([]model.ResourceID, len(requires))
	for i, r := range requires {
		deps[i] = rid(r)
	}
	r, err := model.NewResourceDetails(rid(name).AtVersion(version), attrs, deps)
	require.NoError(t, err)
	return r
}

func build(t *testing.T, version int64, resources ...model.ResourceDetails) *model.ModelState {
	t.Helper()
	ms, err := model.Build(version, resources)
	require.NoError(t, err)
	return ms
}

func task(name string, requires ...string) *Task {
	deps := make([]model.ResourceID, len(requires))
	for i, r := range requires {
		deps[i] = rid(r)
	}
	return &Task{ID: rid(name), Requires: deps, Priority: PriorityNominal}
}

func names(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID.AttributeValue
	}
	return out
}
