package padsvc

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// eventQueue is a bounded FIFO of semantic events. The mediator goroutine is
// the only pusher; Drain and the waiter notification are safe to use from the
// consumer's goroutine, which is why the queue carries its own lock even
// though the rest of the core is single-writer.
//
// On overflow the oldest real event is evicted and a single synthetic Dropped
// entry takes over the front of the queue, keeping the Seq of the first
// evicted event and a running counter of everything lost since. Freshness
// wins over completeness under sustained overload.
type eventQueue struct {
	mu      sync.Mutex
	buf     []Event
	head    int
	count   int
	seq     uint64
	dropped *Event
	drops   *atomic.Uint64
	notify  chan struct{}
	now     func() time.Time
}

const defaultQueueCapacity = 1024

func newEventQueue(capacity int, now func() time.Time) *eventQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &eventQueue{
		buf:    make([]Event, capacity),
		drops:  atomic.NewUint64(0),
		notify: make(chan struct{}, 1),
		now:    now,
	}
}

// push stamps the event with the next sequence number and the current time
// and appends it, evicting the oldest entry when full.
func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.seq++
	ev.Seq = q.seq
	ev.Time = q.now()
	if q.count == len(q.buf) {
		q.evictOldest()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = ev
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) evictOldest() {
	old := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	n := q.drops.Inc()
	if q.dropped == nil {
		q.dropped = &Event{
			Kind: EventDropped,
			Seq:  old.Seq,
			Time: old.Time,
		}
	}
	q.dropped.Drops = n
}

// drain returns all queued events in insertion order, preceded by the pending
// Dropped entry when overflow occurred since the last drain.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 && q.dropped == nil {
		return nil
	}
	out := make([]Event, 0, q.count+1)
	if q.dropped != nil {
		out = append(out, *q.dropped)
		q.dropped = nil
	}
	for i := 0; i < q.count; i++ {
		out = append(out, q.buf[(q.head+i)%len(q.buf)])
	}
	q.head = 0
	q.count = 0
	return out
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.count
	if q.dropped != nil {
		n++
	}
	return n
}

func (q *eventQueue) capacity() int {
	return len(q.buf)
}

// wake is signalled (capacity one, never closed) after every push.
func (q *eventQueue) wake() <-chan struct{} {
	return q.notify
}
