package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallnest/clawgate/internal/logger"
)

// DefaultMaxPending bounds the backlog of each lane.
const DefaultMaxPending = 10

// Item is one queued unit of work. Items are immutable after enqueue;
// only their queue position changes.
type Item struct {
	ID         string
	LaneID     string
	Payload    any
	EnqueuedAt time.Time
}

// Dispatch executes one item. The queue invokes it on its own goroutine
// once the item's lane goes idle; ctx is cancelled when the item is
// displaced or aborted. The executor must call CompleteCurrent when the
// item finishes, successfully or not.
type Dispatch func(ctx context.Context, item Item)

// EnqueueResult reports the outcome of one enqueue attempt.
type EnqueueResult struct {
	Item      Item
	Position  int  // 0 = active now, n = nth in the pending backlog
	Cancelled bool // an in-flight item was displaced for this one
	QueueFull bool // rejected, lane state untouched
}

// LaneStatus is a point-in-time snapshot of one lane.
type LaneStatus struct {
	LaneID  string
	Current *Item
	Pending []Item
	Total   int
}

type lane struct {
	id       string
	pending  []Item
	active   *Item
	cancel   context.CancelFunc
	draining bool
}

// Manager serializes work per lane. Each lane runs at most one item at a
// time; distinct lanes run fully in parallel. Lanes are created lazily
// and never destroyed.
type Manager struct {
	mu         sync.Mutex
	lanes      map[string]*lane
	maxPending int
	dispatch   Dispatch
}

// NewManager creates a queue manager. maxPending <= 0 uses
// DefaultMaxPending.
func NewManager(maxPending int, dispatch Dispatch) *Manager {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Manager{
		lanes:      make(map[string]*lane),
		maxPending: maxPending,
		dispatch:   dispatch,
	}
}

func (m *Manager) lane(laneID string) *lane {
	l, ok := m.lanes[laneID]
	if !ok {
		l = &lane{id: laneID}
		m.lanes[laneID] = l
	}
	return l
}

// EnqueueOptions tunes one enqueue call.
type EnqueueOptions struct {
	// CancelCurrent aborts the lane's in-flight item first and installs
	// the new item at the head of the backlog, bypassing the bound check.
	CancelCurrent bool
}

// Enqueue adds an item to a lane and triggers a drain. Beyond the backlog
// bound the call is rejected with QueueFull and no side effects, unless
// CancelCurrent is set.
func (m *Manager) Enqueue(laneID string, payload any, opts EnqueueOptions) EnqueueResult {
	item := Item{
		ID:         uuid.NewString(),
		LaneID:     laneID,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	m.mu.Lock()
	l := m.lane(laneID)

	if opts.CancelCurrent {
		cancelled := m.cancelActiveLocked(l)
		l.pending = append([]Item{item}, l.pending...)
		position := 0
		if l.active != nil {
			position = 1
		}
		m.drainLocked(l)
		m.mu.Unlock()
		return EnqueueResult{Item: item, Position: position, Cancelled: cancelled}
	}

	if len(l.pending) >= m.maxPending {
		m.mu.Unlock()
		logger.Warn("Lane backlog full",
			zap.String("lane", laneID),
			zap.Int("max_pending", m.maxPending))
		return EnqueueResult{Item: item, QueueFull: true}
	}

	l.pending = append(l.pending, item)
	position := len(l.pending)
	if l.active == nil {
		position = 0
	}
	m.drainLocked(l)
	m.mu.Unlock()
	return EnqueueResult{Item: item, Position: position}
}

// drainLocked pumps the lane: if idle and backed up, activate the head
// and hand it to the dispatcher. The draining flag keeps a re-entrant
// call (a dispatcher completing synchronously) from double-pumping.
func (m *Manager) drainLocked(l *lane) {
	if l.draining {
		return
	}
	l.draining = true
	defer func() { l.draining = false }()

	if l.active != nil || len(l.pending) == 0 {
		return
	}

	head := l.pending[0]
	l.pending = l.pending[1:]
	l.active = &head

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	logger.Debug("Dispatching lane item",
		zap.String("lane", l.id),
		zap.String("item", head.ID),
		zap.Int("pending", len(l.pending)))

	if m.dispatch != nil {
		go m.dispatch(ctx, head)
	}
}

// CompleteCurrent clears a lane's active slot and pumps the next pending
// item. Safe to call from within the dispatcher that is completing.
// Returns the item that became active, if any.
func (m *Manager) CompleteCurrent(laneID string) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lanes[laneID]
	if !ok {
		return nil
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.active = nil
	m.drainLocked(l)
	return l.active
}

// CancelCurrent signals the lane's in-flight item to stop. Bookkeeping is
// untouched; the executor observes the cancellation, finishes, and calls
// CompleteCurrent as usual.
func (m *Manager) CancelCurrent(laneID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lanes[laneID]
	if !ok {
		return false
	}
	return m.cancelActiveLocked(l)
}

func (m *Manager) cancelActiveLocked(l *lane) bool {
	if l.active == nil || l.cancel == nil {
		return false
	}
	logger.Debug("Cancelling active item",
		zap.String("lane", l.id),
		zap.String("item", l.active.ID))
	l.cancel()
	l.cancel = nil
	return true
}

// ClearPending drops a lane's backlog, leaving the active item running.
// Returns the number of items dropped.
func (m *Manager) ClearPending(laneID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lanes[laneID]
	if !ok {
		return 0
	}
	n := len(l.pending)
	l.pending = nil
	return n
}

// ClearAll cancels the active item and drops the backlog.
func (m *Manager) ClearAll(laneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lanes[laneID]
	if !ok {
		return
	}
	m.cancelActiveLocked(l)
	l.pending = nil
}

// Status snapshots one lane.
func (m *Manager) Status(laneID string) LaneStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := LaneStatus{LaneID: laneID}
	l, ok := m.lanes[laneID]
	if !ok {
		return st
	}
	if l.active != nil {
		cur := *l.active
		st.Current = &cur
		st.Total++
	}
	st.Pending = append([]Item(nil), l.pending...)
	st.Total += len(l.pending)
	return st
}

// Lanes lists every lane seen so far, busy or idle.
func (m *Manager) Lanes() []LaneStatus {
	m.mu.Lock()
	ids := make([]string, 0, len(m.lanes))
	for id := range m.lanes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]LaneStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.Status(id))
	}
	return out
}
