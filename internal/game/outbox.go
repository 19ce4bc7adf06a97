package game

import (
	"sync"

	"murk/internal/metrics"
	"murk/internal/protocol"
)

// DefaultQueueSize bounds one participant's outbound queue. Sized so
// steady-state jitter never fills it; only a persistently slow reader
// triggers the drop policy.
const DefaultQueueSize = 256

// protectedTag reports whether a frame may never be dropped or
// coalesced: lifecycle events must reach every participant in order.
func protectedTag(t protocol.Tag) bool {
	switch t {
	case protocol.TagWelcome, protocol.TagPlayerJoin, protocol.TagPlayerLeave,
		protocol.TagHostChanged, protocol.TagHostAssigned, protocol.TagMapChange:
		return true
	}
	return false
}

// Outbox is one participant's outbound broadcast queue. The room is
// the only producer, the connection's write pump the only consumer.
// When the queue is full, queued BATCH_POSITIONS are coalesced first,
// then the oldest droppable frame goes; protected frames are never
// displaced.
type Outbox struct {
	mu      sync.Mutex
	queue   []protocol.Message
	limit   int
	closed  bool
	dropped uint64
	notify  chan struct{}
}

// NewOutbox returns an outbox bounded to limit frames.
func NewOutbox(limit int) *Outbox {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &Outbox{
		queue:  make([]protocol.Message, 0, 16),
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends a frame, applying the drop policy if the queue is
// full. Enqueue after Close is a no-op.
func (o *Outbox) Enqueue(m protocol.Message) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if len(o.queue) >= o.limit && !o.evictLocked(m.Tag()) {
		// Nothing evictable and the newcomer is itself droppable.
		o.dropped++
		metrics.BroadcastsDropped.Inc()
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// evictLocked makes room for an incoming frame. Returns false when
// every queued frame is protected and the incoming one is droppable.
func (o *Outbox) evictLocked(incoming protocol.Tag) bool {
	// Coalesce position batches first: the newest one supersedes them.
	for i, m := range o.queue {
		if m.Tag() == protocol.TagBatchPositions {
			o.removeLocked(i)
			return true
		}
	}
	for i, m := range o.queue {
		if !protectedTag(m.Tag()) {
			o.removeLocked(i)
			return true
		}
	}
	// Only protected frames queued. A protected newcomer may exceed
	// the bound; a droppable one is discarded instead.
	return protectedTag(incoming)
}

func (o *Outbox) removeLocked(i int) {
	o.queue = append(o.queue[:i], o.queue[i+1:]...)
	o.dropped++
	metrics.BroadcastsDropped.Inc()
}

// Pop removes and returns the oldest queued frame.
func (o *Outbox) Pop() (protocol.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil, false
	}
	m := o.queue[0]
	o.queue = o.queue[1:]
	return m, true
}

// Signal pulses after every Enqueue and once on Close.
func (o *Outbox) Signal() <-chan struct{} { return o.notify }

// Close marks the outbox done. Queued frames remain poppable so the
// write pump can drain before shutting the socket.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Pending returns the current queue depth.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Dropped returns how many frames the drop policy has discarded.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
