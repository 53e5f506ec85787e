package executor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/code"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/metrics"
	"github.com/roach88/rollout/internal/metrics/metricstest"
)

func TestManagerReusesHandlePerBlueprint(t *testing.T) {
	sp := &pipeSpawner{registry: Builtins()}
	m := NewManager(sp)
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Stop(ctx) })

	h1, err := m.Get(ctx, "prod", stdBlueprint(TypeFile, TypeDirectory))
	require.NoError(t, err)
	h2, err := m.Get(ctx, "prod", stdBlueprint(TypeDirectory, TypeFile))
	require.NoError(t, err)
	assert.Same(t, h1, h2, "type order does not change the blueprint")
	assert.Equal(t, HealthUp, h1.Health())

	other, err := m.Get(ctx, "staging", stdBlueprint(TypeFile, TypeDirectory))
	require.NoError(t, err)
	assert.NotSame(t, h1, other)

	narrow, err := m.Get(ctx, "prod", stdBlueprint(TypeFile))
	require.NoError(t, err)
	assert.NotSame(t, h1, narrow)

	assert.Equal(t, int32(3), sp.spawned.Load())
	assert.Len(t, m.Handles(), 3)
}

func TestManagerDegradedHandle(t *testing.T) {
	m := NewManager(&pipeSpawner{registry: Builtins()})
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Stop(ctx) })

	h, err := m.Get(ctx, "prod", stdBlueprint(TypeFile, "pkg::Broken"))
	require.NoError(t, err)
	assert.Equal(t, HealthDegraded, h.Health())
	assert.Equal(t, []string{"pkg::Broken"}, h.FailedTypes())
	assert.True(t, h.Supports(TypeFile))
	assert.False(t, h.Supports("pkg::Broken"))
}

func TestManagerReplacesDownHandle(t *testing.T) {
	sp := &pipeSpawner{registry: Builtins()}
	m := NewManager(sp)
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Stop(ctx) })

	h1, err := m.Get(ctx, "prod", stdBlueprint())
	require.NoError(t, err)

	h1.MarkSuspect("test")
	assert.Equal(t, HealthDown, h1.Health())

	h2, err := m.Get(ctx, "prod", stdBlueprint())
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.Equal(t, HealthUp, h2.Health())
}

func TestHandleMarkedDownWhenConnectionDies(t *testing.T) {
	m := NewManager(&pipeSpawner{registry: Builtins()})
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Stop(ctx) })

	h, err := m.Get(ctx, "prod", stdBlueprint())
	require.NoError(t, err)
	require.NoError(t, h.Kill())

	require.Eventually(t, func() bool { return h.Health() == HealthDown }, time.Second, 5*time.Millisecond)
}

func TestManagerStopAndJoin(t *testing.T) {
	m := NewManager(&pipeSpawner{registry: Builtins()})
	ctx := context.Background()

	h, err := m.Get(ctx, "prod", stdBlueprint())
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, HealthDown, h.Health())

	joinCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, m.Join(joinCtx))

	_, err = m.Get(ctx, "prod", stdBlueprint())
	assert.Error(t, err, "a stopped manager spawns nothing")
}

// heldSpawner holds spawns of one environment until released.
type heldSpawner struct {
	*pipeSpawner
	env     string
	entered chan struct{}
	release chan struct{}
}

func (s *heldSpawner) Spawn(ctx context.Context, name string) (*Process, error) {
	if strings.HasPrefix(name, s.env+"/") {
		s.entered <- struct{}{}
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.pipeSpawner.Spawn(ctx, name)
}

func TestManagerStartDoesNotBlockOtherEnvironments(t *testing.T) {
	sp := &heldSpawner{
		pipeSpawner: &pipeSpawner{registry: Builtins()},
		env:         "slow",
		entered:     make(chan struct{}, 2),
		release:     make(chan struct{}),
	}
	m := NewManager(sp)
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Stop(ctx) })

	type result struct {
		h   *Handle
		err error
	}
	slow := make(chan result, 2)
	get := func() {
		h, err := m.Get(ctx, "slow", stdBlueprint())
		slow <- result{h, err}
	}
	go get()
	<-sp.entered
	go get()

	fastCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	fast, err := m.Get(fastCtx, "fast", stdBlueprint())
	require.NoError(t, err, "a start of another environment must not wait for slow")
	assert.Equal(t, HealthUp, fast.Health())

	close(sp.release)
	first, second := <-slow, <-slow
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Same(t, first.h, second.h, "concurrent callers share one start")
	assert.Equal(t, int32(2), sp.spawned.Load())
	assert.Len(t, m.Handles(), 2)
}

func TestManagerForgetsRetiredHandles(t *testing.T) {
	m := NewManager(&pipeSpawner{registry: Builtins()})
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Stop(ctx) })

	for i := 0; i < 3; i++ {
		h, err := m.Get(ctx, "prod", stdBlueprint())
		require.NoError(t, err)
		h.MarkSuspect("test")
	}
	_, err := m.Get(ctx, "prod", stdBlueprint())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.retired) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, m.all(), 1)
}

func TestHandleDeployRecordsNoDuration(t *testing.T) {
	meter := metricstest.NewMeter()
	mt, err := metrics.NewFromMeter(meter)
	require.NoError(t, err)

	m := NewManager(&pipeSpawner{registry: Builtins()}, WithMetrics(mt))
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Stop(ctx) })

	h, err := m.Get(ctx, "prod", stdBlueprint())
	require.NoError(t, err)
	r := fileResource(t, 1, filepath.Join(t.TempDir(), "f.txt"), ir.O("content", ir.IRString("x")))
	_, err = h.Deploy(ctx, resourceArgs(r))
	require.NoError(t, err)

	assert.Zero(t, meter.Records("rollout.resource.deploy_seconds"), "deploy durations are recorded by the scheduler")
}

type failingSpawner struct{}

func (failingSpawner) Spawn(context.Context, string) (*Process, error) {
	return nil, errors.New("fork: resource temporarily unavailable")
}

func TestManagerSpawnFailure(t *testing.T) {
	m := NewManager(failingSpawner{})
	_, err := m.Get(context.Background(), "prod", stdBlueprint())
	assert.ErrorContains(t, err, "resource temporarily unavailable")
	assert.Empty(t, m.Handles())
}

func TestPoolRoutesByResourceType(t *testing.T) {
	cm, err := code.NewManager(code.StaticSource{
		{Name: "std", Types: []string{TypeFile, TypeDirectory}},
		{Name: "extra", Types: []string{"pkg::Missing"}},
	})
	require.NoError(t, err)
	defer cm.Close()

	m := NewManager(&pipeSpawner{registry: Builtins()})
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Stop(ctx) })
	pool := NewPool(cm, m)

	path := filepath.Join(t.TempDir(), "pool.txt")
	r := fileResource(t, 1, path, ir.O("content", ir.IRString("x")))

	res, err := pool.Deploy(ctx, "prod", r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeployed, res.Outcome)

	check, err := pool.Check(ctx, "prod", r)
	require.NoError(t, err)
	assert.Equal(t, Compliant, check.Compliance)

	dry, err := pool.DryRun(ctx, "prod", r)
	require.NoError(t, err)
	assert.Empty(t, dry.Changes)

	_, err = pool.Deploy(ctx, "prod", typedResource(t, "pkg::Nowhere", "a"))
	var ce *CodeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "pkg::Nowhere", ce.Type)

	_, err = pool.Deploy(ctx, "prod", typedResource(t, "pkg::Missing", "b"))
	require.True(t, errors.As(err, &ce), "bundle resolves but the executor cannot load it")
}
