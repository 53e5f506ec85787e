package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueueFIFO(t *testing.T) {
	q := newEventQueue()
	for _, name := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(event{Type: eventStarted, ID: rid(name)}))
	}
	assert.Equal(t, 3, q.Len())

	for _, name := range []string{"a", "b", "c"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, rid(name), e.ID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueueSignalCoalesces(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(event{Type: eventStarted})
	q.Enqueue(event{Type: eventFinished})

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueueClose(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(event{Type: eventStarted}))
	_, open := <-q.Wait()
	assert.False(t, open)
}

func TestEventQueueConcurrentProducers(t *testing.T) {
	q := newEventQueue()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				q.Enqueue(event{Type: eventFinished})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
}
