// Package pipeline drains the radio receive queue, authenticates and
// decodes each frame, and dispatches it through a fixed list of frame
// operators (serial, relay, boiler call).
package pipeline

import (
	"sync/atomic"

	"github.com/opentrv/trv-hub/internal/frame"
	"github.com/opentrv/trv-hub/internal/tick"
)

// DefaultQueueCapacity is the receive queue depth in frames. Must be a
// power of two.
const DefaultQueueCapacity = 8

type queueEntry struct {
	length uint8
	data   [frame.MaxSmallFrameLen + 1]byte
}

// Queue is a bounded single-producer single-consumer ring of raw frames.
// The radio receive callback pushes, the poll loop pops; head and tail
// are advanced with atomic indices so neither side ever blocks.
type Queue struct {
	entries []queueEntry
	mask    uint32
	head    atomic.Uint32 // next pop position, consumer-owned
	tail    atomic.Uint32 // next push position, producer-owned

	dropped   atomic.Uint32
	highWater tick.HighWaterMark
}

// NewQueue returns a queue with the given capacity rounded up to a power
// of two (minimum 2).
func NewQueue(capacity int) *Queue {
	n := 2
	for n < capacity {
		n <<= 1
	}
	return &Queue{entries: make([]queueEntry, n), mask: uint32(n - 1)}
}

// Push copies a raw frame into the queue from the receive callback.
// Returns false, counting a drop, when the queue is full or the frame
// does not fit a small-frame buffer.
func (q *Queue) Push(raw []byte) bool {
	if len(raw) == 0 || len(raw) > frame.MaxSmallFrameLen+1 {
		q.dropped.Add(1)
		return false
	}
	tail := q.tail.Load()
	head := q.head.Load()
	if tail-head >= uint32(len(q.entries)) {
		q.dropped.Add(1)
		return false
	}
	e := &q.entries[tail&q.mask]
	e.length = uint8(len(raw))
	copy(e.data[:], raw)
	q.tail.Store(tail + 1)
	q.highWater.Record(int(tail + 1 - head))
	return true
}

// Pop copies the oldest frame into buf and returns the number of bytes,
// or 0 when the queue is empty.
func (q *Queue) Pop(buf []byte) int {
	head := q.head.Load()
	if head == q.tail.Load() {
		return 0
	}
	e := &q.entries[head&q.mask]
	n := copy(buf, e.data[:e.length])
	q.head.Store(head + 1)
	return n
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Dropped returns how many frames were discarded because the queue was
// full or oversized.
func (q *Queue) Dropped() uint32 { return q.dropped.Load() }

// HighWater returns the deepest queue occupancy ever observed.
func (q *Queue) HighWater() int { return q.highWater.Max() }
