package padsvc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := newEventQueue(16, testClock())
	for i := 0; i < 10; i++ {
		q.push(Event{Kind: EventAxisChanged, Index: i})
	}
	require.Equal(t, 10, q.len())

	evs := q.drain()
	require.Len(t, evs, 10)
	for i, ev := range evs {
		assert.Equal(t, i, ev.Index)
		assert.Equal(t, uint64(i+1), ev.Seq)
		if i > 0 {
			assert.Greater(t, ev.Seq, evs[i-1].Seq)
			assert.False(t, ev.Time.Before(evs[i-1].Time))
		}
	}
	assert.Empty(t, q.drain())
	assert.Equal(t, 0, q.len())
}

func TestQueueOverflow(t *testing.T) {
	const capacity = 8
	q := newEventQueue(capacity, testClock())
	for i := 0; i < capacity+1; i++ {
		q.push(Event{Kind: EventButtonPressed, Index: i})
	}

	evs := q.drain()
	require.Len(t, evs, capacity+1)

	dropped := evs[0]
	require.Equal(t, EventDropped, dropped.Kind)
	assert.Equal(t, uint64(1), dropped.Drops)
	assert.Equal(t, uint64(1), dropped.Seq)
	assert.Equal(t, uint64(1), q.drops.Load())

	rest := evs[1:]
	require.Len(t, rest, capacity)
	for i, ev := range rest {
		assert.Equal(t, EventButtonPressed, ev.Kind)
		assert.Equal(t, i+1, ev.Index)
		assert.Equal(t, uint64(i+2), ev.Seq)
	}
}

func TestQueueOverflowCoalesces(t *testing.T) {
	const capacity = 4
	q := newEventQueue(capacity, testClock())
	for i := 0; i < capacity+3; i++ {
		q.push(Event{Kind: EventAxisChanged, Index: i})
	}

	evs := q.drain()
	require.Len(t, evs, capacity+1)
	require.Equal(t, EventDropped, evs[0].Kind)
	assert.Equal(t, uint64(3), evs[0].Drops)
	// the marker reuses the seq of the first evicted event
	assert.Equal(t, uint64(1), evs[0].Seq)

	// remaining seqs increase strictly, with the gap at the eviction
	prev := evs[0].Seq
	for _, ev := range evs[1:] {
		assert.Greater(t, ev.Seq, prev)
		prev = ev.Seq
	}
	assert.Equal(t, uint64(capacity+3), prev)
}

func TestQueueSeqMonotonicAcrossDrains(t *testing.T) {
	q := newEventQueue(4, testClock())
	q.push(Event{})
	q.push(Event{})
	first := q.drain()
	q.push(Event{})
	second := q.drain()
	require.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, uint64(3), second[0].Seq)
}

func TestQueueCapacity(t *testing.T) {
	q := newEventQueue(3, testClock())
	assert.Equal(t, 3, q.capacity())
	q = newEventQueue(0, testClock())
	assert.Equal(t, defaultQueueCapacity, q.capacity())
}
