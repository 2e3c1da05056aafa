package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// collector runs dispatched items sequentially per lane, recording the
// order they executed in.
type collector struct {
	mu       sync.Mutex
	order    []string
	aborted  []string
	manager  *Manager
	runDelay time.Duration
}

func (c *collector) dispatch(ctx context.Context, item Item) {
	if c.runDelay > 0 {
		select {
		case <-time.After(c.runDelay):
		case <-ctx.Done():
			c.mu.Lock()
			c.aborted = append(c.aborted, item.Payload.(string))
			c.mu.Unlock()
			c.manager.CompleteCurrent(item.LaneID)
			return
		}
	}
	c.mu.Lock()
	c.order = append(c.order, item.Payload.(string))
	c.mu.Unlock()
	c.manager.CompleteCurrent(item.LaneID)
}

func (c *collector) executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFIFOWithinLane(t *testing.T) {
	c := &collector{}
	m := NewManager(10, c.dispatch)
	c.manager = m

	for _, p := range []string{"one", "two", "three"} {
		res := m.Enqueue("lane", p, EnqueueOptions{})
		if res.QueueFull {
			t.Fatalf("unexpected queue full at %q", p)
		}
	}

	waitFor(t, func() bool { return len(c.executed()) == 3 })
	got := c.executed()
	for i, want := range []string{"one", "two", "three"} {
		if got[i] != want {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestQueueFullNoSideEffects(t *testing.T) {
	// A dispatcher that never completes keeps the first item active.
	block := make(chan struct{})
	m := NewManager(2, func(ctx context.Context, item Item) { <-block })
	defer close(block)

	m.Enqueue("lane", "active", EnqueueOptions{})
	waitFor(t, func() bool { return m.Status("lane").Current != nil })

	m.Enqueue("lane", "p1", EnqueueOptions{})
	m.Enqueue("lane", "p2", EnqueueOptions{})

	res := m.Enqueue("lane", "overflow", EnqueueOptions{})
	if !res.QueueFull {
		t.Fatal("expected queue full")
	}

	st := m.Status("lane")
	if len(st.Pending) != 2 {
		t.Fatalf("pending = %d, rejected enqueue altered state", len(st.Pending))
	}
	if st.Total != 3 {
		t.Fatalf("total = %d", st.Total)
	}
}

func TestCancelCurrentDisplacement(t *testing.T) {
	c := &collector{runDelay: time.Hour}
	m := NewManager(10, c.dispatch)
	c.manager = m

	m.Enqueue("lane", "victim", EnqueueOptions{})
	waitFor(t, func() bool { return m.Status("lane").Current != nil })

	res := m.Enqueue("lane", "usurper", EnqueueOptions{CancelCurrent: true})
	if !res.Cancelled {
		t.Fatal("expected the in-flight item to be cancelled")
	}

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.aborted) == 1
	})
	if c.aborted[0] != "victim" {
		t.Fatalf("aborted = %v", c.aborted)
	}

	// The displaced lane should now be running the new item.
	waitFor(t, func() bool {
		st := m.Status("lane")
		return st.Current != nil && st.Current.Payload.(string) == "usurper"
	})
}

func TestCancelCurrentIdleLane(t *testing.T) {
	m := NewManager(10, nil)
	if m.CancelCurrent("nope") {
		t.Fatal("cancel on an idle lane reported true")
	}
}

func TestClearPending(t *testing.T) {
	block := make(chan struct{})
	m := NewManager(10, func(ctx context.Context, item Item) { <-block })
	defer close(block)

	m.Enqueue("lane", "active", EnqueueOptions{})
	waitFor(t, func() bool { return m.Status("lane").Current != nil })
	m.Enqueue("lane", "p1", EnqueueOptions{})
	m.Enqueue("lane", "p2", EnqueueOptions{})

	if n := m.ClearPending("lane"); n != 2 {
		t.Fatalf("cleared %d", n)
	}
	st := m.Status("lane")
	if st.Current == nil || len(st.Pending) != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestLanesRunConcurrently(t *testing.T) {
	started := make(chan string, 2)
	block := make(chan struct{})
	m := NewManager(10, func(ctx context.Context, item Item) {
		started <- item.LaneID
		<-block
	})
	defer close(block)

	m.Enqueue("a", "x", EnqueueOptions{})
	m.Enqueue("b", "y", EnqueueOptions{})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("lanes did not run in parallel")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("seen = %v", seen)
	}
}

func TestSingleActivePerLaneUnderStress(t *testing.T) {
	var active, peak, violations int64
	var wg sync.WaitGroup

	var m *Manager
	m = NewManager(DefaultMaxPending, func(ctx context.Context, item Item) {
		n := atomic.AddInt64(&active, 1)
		if n > 1 {
			atomic.AddInt64(&violations, 1)
		}
		if n > atomic.LoadInt64(&peak) {
			atomic.StoreInt64(&peak, n)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&active, -1)
		m.CompleteCurrent(item.LaneID)
		wg.Done()
	})

	const items = 8
	var accepted int
	var mu sync.Mutex
	var enq sync.WaitGroup
	for i := 0; i < items; i++ {
		enq.Add(1)
		go func(n int) {
			defer enq.Done()
			wg.Add(1)
			res := m.Enqueue("hot", n, EnqueueOptions{})
			if res.QueueFull {
				wg.Done()
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}(i)
	}
	enq.Wait()
	wg.Wait()

	if v := atomic.LoadInt64(&violations); v != 0 {
		t.Fatalf("%d concurrent executions observed on one lane", v)
	}
	if accepted == 0 {
		t.Fatal("no items accepted")
	}
}

func TestCompleteCurrentFromDispatcher(t *testing.T) {
	// Completing from inside the dispatch callback must pump the next
	// item without deadlocking.
	c := &collector{}
	m := NewManager(10, c.dispatch)
	c.manager = m

	m.Enqueue("lane", "a", EnqueueOptions{})
	m.Enqueue("lane", "b", EnqueueOptions{})
	waitFor(t, func() bool { return len(c.executed()) == 2 })
}
