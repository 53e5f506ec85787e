package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/rollout/internal/code"
	"github.com/roach88/rollout/internal/metrics"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// retireTimeout bounds how long a replaced executor may take to exit before
// it is killed.
const retireTimeout = 30 * time.Second

// Manager keeps one executor per (environment, blueprint).
//
// Thread-safety: all methods are safe for concurrent use. Executors are
// started outside the handle map lock, one start per key at a time.
type Manager struct {
	spawner Spawner
	logger  *slog.Logger
	metrics *metrics.Metrics
	starts  singleflight.Group

	mu      sync.Mutex
	handles map[string]*Handle
	retired map[*Handle]struct{}
	closed  bool
}

// NewManager returns a Manager that starts executors with spawner.
func NewManager(spawner Spawner, opts ...ManagerOption) *Manager {
	m := &Manager{
		spawner: spawner,
		logger:  slog.Default(),
		handles: make(map[string]*Handle),
		retired: make(map[*Handle]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func handleKey(env string, bp code.Blueprint) string {
	return env + "/" + bp.Hash()
}

// Get returns a live executor for env running bp, starting one if needed.
//
// A handle that is down is retired and replaced. Concurrent callers for the
// same key share one start; the start runs under the context of the caller
// that began it. Spawn or init failure is returned to the callers; nothing
// is retried.
func (m *Manager) Get(ctx context.Context, env string, bp code.Blueprint) (*Handle, error) {
	bp = bp.Normalize()
	key := handleKey(env, bp)

	h, err := m.lookup(key)
	if err != nil || h != nil {
		return h, err
	}

	ch := m.starts.DoChan(key, func() (any, error) {
		return m.start(ctx, env, bp, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup returns the live handle of key, or nil when one must be started.
// A handle found down is retired.
func (m *Manager) lookup(key string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("executor manager stopped")
	}
	h, ok := m.handles[key]
	if !ok {
		return nil, nil
	}
	if h.Health() != HealthDown {
		return h, nil
	}
	m.logger.Info("replacing executor", "env", h.Environment(), "bundle", h.Blueprint().Bundle, "pid", h.Pid())
	delete(m.handles, key)
	m.retired[h] = struct{}{}
	go m.retire(h)
	return nil, nil
}

// start spawns and initializes the executor of key and publishes it.
func (m *Manager) start(ctx context.Context, env string, bp code.Blueprint, key string) (*Handle, error) {
	// A start that finished just before this one began already published.
	if h, err := m.lookup(key); err != nil || h != nil {
		return h, err
	}

	name := fmt.Sprintf("%s/%s", env, bp.Bundle)
	proc, err := m.spawner.Spawn(ctx, name)
	if err != nil {
		m.logger.Error("executor spawn failed", "env", env, "bundle", bp.Bundle, "error", err)
		return nil, fmt.Errorf("spawn executor %s: %w", name, err)
	}
	m.metrics.ExecutorSpawned(ctx, env)

	h := newHandle(env, bp, key, proc, m.logger, m.metrics)
	if err := h.initialize(ctx); err != nil {
		_ = h.Kill()
		_ = h.Stop(context.Background())
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = h.Stop(context.Background())
		_ = h.Kill()
		return nil, fmt.Errorf("executor manager stopped")
	}
	m.handles[key] = h
	m.mu.Unlock()
	return h, nil
}

// retire stops a replaced executor and forgets it once it exited.
func (m *Manager) retire(h *Handle) {
	_ = h.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
	defer cancel()
	if err := h.Join(ctx); err != nil {
		m.logger.Warn("retired executor did not exit, killing", "pid", h.Pid(), "error", err)
		_ = h.Kill()
	}

	m.mu.Lock()
	delete(m.retired, h)
	m.mu.Unlock()
}

// Handles returns every live handle, ordered by environment and bundle.
func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (m *Manager) all() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Handle, 0, len(m.handles)+len(m.retired))
	for _, h := range m.handles {
		out = append(out, h)
	}
	for h := range m.retired {
		out = append(out, h)
	}
	return out
}

// Stop shuts down every executor and refuses further Get calls.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range m.all() {
		g.Go(func() error {
			return h.Stop(gctx)
		})
	}
	return g.Wait()
}

// Join waits for every executor process to exit. When ctx ends first, the
// remaining processes are killed.
func (m *Manager) Join(ctx context.Context) error {
	g := new(errgroup.Group)
	for _, h := range m.all() {
		g.Go(func() error {
			if err := h.Join(ctx); err != nil {
				m.logger.Warn("executor did not exit, killing", "pid", h.Pid(), "error", err)
				_ = h.Kill()
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
