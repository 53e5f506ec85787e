package scheduler

import (
	"container/heap"
	"context"
	"sync"
)

// Gate is a counting semaphore whose waiters are served by priority, lowest
// value first, with ties broken by arrival order.
//
// A permit is only ever handed out as a *Permit and must be released, on
// error and cancellation paths too. Each release frees one permit and wakes
// at most one waiter.
type Gate struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	seq     uint64
	waiters waiterHeap
}

// NewGate returns a gate with limit permits. A limit of zero queues every
// caller until SetLimit raises it.
func NewGate(limit int) *Gate {
	if limit < 0 {
		limit = 0
	}
	return &Gate{limit: limit}
}

// Permit is one granted slot of a Gate.
type Permit struct {
	gate     *Gate
	priority int
	once     sync.Once
}

// Priority returns the priority the permit was requested at.
func (p *Permit) Priority() int { return p.priority }

// Release returns the permit to the gate. Calling it more than once has no
// further effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		g := p.gate
		g.mu.Lock()
		g.inUse--
		g.dispatchLocked()
		g.mu.Unlock()
	})
}

type waiter struct {
	priority int
	seq      uint64
	index    int
	ready    chan struct{}
}

// Acquire blocks until a permit is granted or ctx is done.
//
// A cancelled caller leaves the queue. If the permit was granted in the same
// instant, it is released before Acquire returns the context error.
func (g *Gate) Acquire(ctx context.Context, priority int) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.inUse < g.limit && g.waiters.Len() == 0 {
		g.inUse++
		g.mu.Unlock()
		return &Permit{gate: g, priority: priority}, nil
	}
	g.seq++
	w := &waiter{priority: priority, seq: g.seq, ready: make(chan struct{}, 1)}
	heap.Push(&g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return &Permit{gate: g, priority: priority}, nil
	case <-ctx.Done():
	}

	g.mu.Lock()
	if w.index >= 0 {
		heap.Remove(&g.waiters, w.index)
		g.mu.Unlock()
		return nil, ctx.Err()
	}
	g.mu.Unlock()

	<-w.ready
	(&Permit{gate: g, priority: priority}).Release()
	return nil, ctx.Err()
}

// SetLimit changes the number of permits. Raising it grants queued waiters
// immediately; lowering it takes effect as permits are released.
func (g *Gate) SetLimit(n int) {
	if n < 0 {
		n = 0
	}
	g.mu.Lock()
	g.limit = n
	g.dispatchLocked()
	g.mu.Unlock()
}

// InUse returns the number of permits currently held.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Waiting returns the number of queued callers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

func (g *Gate) dispatchLocked() {
	for g.inUse < g.limit && g.waiters.Len() > 0 {
		w := heap.Pop(&g.waiters).(*waiter)
		g.inUse++
		w.ready <- struct{}{}
	}
}

// waiterHeap orders waiters by (priority, seq).
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
