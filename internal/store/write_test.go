package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
	"github.com/roach88/rollout/internal/scheduler"
)

func TestWriteVersionRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ms := createTestModel(t, 3)

	require.NoError(t, s.WriteVersion(ctx, "prod", "model.yaml", ms))

	got, err := s.ReadVersion(ctx, "prod", 3)
	require.NoError(t, err)
	assert.Equal(t, ms.IDs(), got.IDs(), "resources keep their written order")

	for _, want := range ms.Resources() {
		r, ok := got.Resource(want.ID.ResourceID)
		require.True(t, ok, want.ID.String())
		assert.Equal(t, want.ID, r.ID)
		assert.Equal(t, want.AttributeHash, r.AttributeHash)
		assert.Equal(t, want.Requires, r.Requires)
		assert.Equal(t, want.Unknowns, r.Unknowns)
	}

	b, _ := got.Resource(rid("b"))
	tags := b.Attributes["tags"]
	assert.Contains(t, tags, ir.IRInt(9007199254740993), "large integers survive storage")
	assert.Equal(t, []model.ResourceID{rid("b")}, got.ProvidesOf(rid("a")))
}

func TestWriteVersionIsImmutable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteVersion(ctx, "prod", "", createTestModel(t, 1)))
	err := s.WriteVersion(ctx, "prod", "", createTestModel(t, 1))
	assert.ErrorIs(t, err, ErrVersionExists)

	// Same version number in another environment is independent.
	assert.NoError(t, s.WriteVersion(ctx, "staging", "", createTestModel(t, 1)))
}

func TestReleaseVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.LatestReleased(ctx, "prod")
	assert.ErrorIs(t, err, ErrVersionNotFound)

	for _, v := range []int64{1, 2, 3} {
		require.NoError(t, s.WriteVersion(ctx, "prod", "", createTestModel(t, v)))
	}
	require.NoError(t, s.ReleaseVersion(ctx, "prod", 1))
	require.NoError(t, s.ReleaseVersion(ctx, "prod", 2))

	latest, err := s.LatestReleased(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)

	assert.ErrorIs(t, s.ReleaseVersion(ctx, "prod", 9), ErrVersionNotFound)

	versions, err := s.ListVersions(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.True(t, versions[1].Released)
	assert.False(t, versions[2].Released)
	assert.Equal(t, 3, versions[0].Resources)
}

func TestUpdateResourceState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	deploying := scheduler.ResourceState{Status: scheduler.StatusDeploying, Blocked: scheduler.BlockedNo, Compliance: executor.Unknown, Seq: 1}
	deployed := scheduler.ResourceState{Status: scheduler.StatusDeployed, Blocked: scheduler.BlockedNo, Compliance: executor.Compliant, Seq: 2}

	require.NoError(t, s.UpdateResourceState(ctx, "prod", 1, rid("a"), deploying))
	require.NoError(t, s.RecordState(ctx, "prod", 1, rid("a"), deployed))

	states, err := s.ReadResourceStates(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, rid("a"), states[0].ID)
	assert.Equal(t, scheduler.StatusDeployed, states[0].Status)
	assert.Equal(t, executor.Compliant, states[0].Compliance)
	assert.Equal(t, int64(2), states[0].Seq)

	history, err := s.History(ctx, "prod", rid("a"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, scheduler.StatusDeploying, history[0].Status)
	assert.Equal(t, scheduler.StatusDeployed, history[1].Status)

	seq, err := s.MaxSeq(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestUpdateResourceStateIgnoresStaleWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateResourceState(ctx, "prod", 2, rid("a"),
		scheduler.ResourceState{Status: scheduler.StatusDeployed, Blocked: scheduler.BlockedNo, Seq: 10}))

	// Older seq for the same version.
	require.NoError(t, s.UpdateResourceState(ctx, "prod", 2, rid("a"),
		scheduler.ResourceState{Status: scheduler.StatusDeploying, Blocked: scheduler.BlockedNo, Seq: 5}))
	// Older version.
	require.NoError(t, s.UpdateResourceState(ctx, "prod", 1, rid("a"),
		scheduler.ResourceState{Status: scheduler.StatusFailed, Blocked: scheduler.BlockedNo, Seq: 11}))

	states, err := s.ReadResourceStates(ctx, "prod")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, scheduler.StatusDeployed, states[0].Status)
	assert.Equal(t, int64(2), states[0].Version)

	// A newer version wins even with a lower seq.
	require.NoError(t, s.UpdateResourceState(ctx, "prod", 3, rid("a"),
		scheduler.ResourceState{Status: scheduler.StatusAvailable, Blocked: scheduler.BlockedNo, Seq: 1}))
	states, err = s.ReadResourceStates(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusAvailable, states[0].Status)
}

func TestSummaryAndForget(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordState(ctx, "prod", 4, rid("a"),
		scheduler.ResourceState{Status: scheduler.StatusFailed, Blocked: scheduler.BlockedNo, Error: "disk full", Seq: 1}))
	require.NoError(t, s.RecordState(ctx, "prod", 4, rid("b"),
		scheduler.ResourceState{Status: scheduler.StatusSkipped, Blocked: scheduler.BlockedYes, Seq: 2}))
	require.NoError(t, s.RecordState(ctx, "prod", 4, rid("c"),
		scheduler.ResourceState{Status: scheduler.StatusDeployed, Blocked: scheduler.BlockedNo, Seq: 3}))

	sum, err := s.Summary(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(4), sum.Version)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Blocked)
	assert.Equal(t, "disk full", sum.Errors[rid("a").String()])

	require.NoError(t, s.ForgetResources(ctx, "prod", []model.ResourceID{rid("a")}))
	sum, err = s.Summary(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)

	empty, err := s.Summary(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
}
