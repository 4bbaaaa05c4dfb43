package schedule

import (
	"sync"
	"sync/atomic"

	"github.com/streamtts/gapless/playback/decode"
)

// DefaultQueueCapacity bounds the pending-buffer queue.
const DefaultQueueCapacity = 10

// Queue is a bounded FIFO ring of decoded buffers awaiting scheduling. On
// overflow the oldest unscheduled buffer is dropped and counted: a lossy
// policy that favors low latency over completeness under backpressure.
type Queue struct {
	mu       sync.Mutex
	items    []*decode.Buffer
	capacity int
	head     int // write position
	tail     int // read position
	size     int

	drops uint64 // atomic
}

// NewQueue creates a queue with the given capacity. Non-positive values
// fall back to DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:    make([]*decode.Buffer, capacity),
		capacity: capacity,
	}
}

// Push appends a buffer. If the queue is full the oldest buffer is removed
// to make room; Push returns the dropped buffer, or nil when nothing was
// dropped.
func (q *Queue) Push(buf *decode.Buffer) *decode.Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped *decode.Buffer
	if q.size == q.capacity {
		dropped = q.items[q.tail]
		q.items[q.tail] = nil
		q.tail = (q.tail + 1) % q.capacity
		q.size--
		atomic.AddUint64(&q.drops, 1)
	}

	q.items[q.head] = buf
	q.head = (q.head + 1) % q.capacity
	q.size++
	return dropped
}

// Pop removes and returns the oldest buffer, or nil if the queue is empty.
func (q *Queue) Pop() *decode.Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}
	buf := q.items[q.tail]
	q.items[q.tail] = nil
	q.tail = (q.tail + 1) % q.capacity
	q.size--
	return buf
}

// Len returns the current number of queued buffers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the fixed capacity.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Drops returns the total number of buffers dropped on overflow.
func (q *Queue) Drops() uint64 {
	return atomic.LoadUint64(&q.drops)
}

// resetDrops zeroes the overflow counter.
func (q *Queue) resetDrops() {
	atomic.StoreUint64(&q.drops, 0)
}

// Clear removes every queued buffer and returns how many were removed.
// Cleared buffers do not count as drops.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := q.size
	for i := range q.items {
		q.items[i] = nil
	}
	q.head = 0
	q.tail = 0
	q.size = 0
	return cleared
}
