// Package sequence reorders application-level audio chunks that arrive out
// of network order before handing them downstream in strict index order.
package sequence

import (
	"sync"
)

// Chunk is a complete, in-order chunk released downstream. The payload is
// the concatenation of every segment received for its index. Chunks are
// immutable once emitted.
type Chunk struct {
	Index      int
	Payload    []byte
	Transcript string
}

// ReleaseFunc receives released chunks. It is invoked exactly once per
// index, in strictly ascending order, while the buffer's cycle lock is
// held; implementations must not call back into the Buffer.
type ReleaseFunc func(Chunk)

// entry accumulates the segments of a single not-yet-released index.
type entry struct {
	segments   [][]byte
	complete   bool
	transcript string
}

// Buffer is an index-ordered reordering buffer. Segments for any index may
// arrive in any order, duplicated, or interleaved across producers; the
// buffer releases an index only when every lower index has been released
// and the entry itself is marked complete.
//
// A missing lowest index stalls the buffer indefinitely. That is by
// contract: the stall is surfaced through PendingDepth telemetry and is
// never auto-recovered, because releasing around the gap would reorder
// audio.
type Buffer struct {
	mu           sync.Mutex
	nextExpected int
	entries      map[int]*entry
	released     map[int]struct{}
	release      ReleaseFunc

	totalReleased uint64
	totalIgnored  uint64
}

// New returns an empty Buffer that delivers released chunks to release.
func New(release ReleaseFunc) *Buffer {
	return &Buffer{
		entries:  make(map[int]*entry),
		released: make(map[int]struct{}),
		release:  release,
	}
}

// Push inserts one segment for the given index and then drains every
// contiguous complete entry starting at the next expected index. The
// insert-then-drain cycle is atomic per call.
//
// Pushing a segment for an already-released index is a no-op, which makes
// duplicate and stale re-delivery idempotent.
func (b *Buffer) Push(index int, segment []byte, complete bool, transcript string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.released[index]; done || index < b.nextExpected {
		b.totalIgnored++
		return
	}

	e, ok := b.entries[index]
	if !ok {
		e = &entry{transcript: transcript}
		b.entries[index] = e
	}
	if len(segment) > 0 {
		owned := make([]byte, len(segment))
		copy(owned, segment)
		e.segments = append(e.segments, owned)
	}
	if complete {
		e.complete = true
	}

	b.drain()
}

// drain releases contiguous complete entries in ascending order.
// Callers must hold b.mu.
func (b *Buffer) drain() {
	for {
		e, ok := b.entries[b.nextExpected]
		if !ok || !e.complete {
			return
		}

		chunk := Chunk{
			Index:      b.nextExpected,
			Payload:    concat(e.segments),
			Transcript: e.transcript,
		}
		delete(b.entries, b.nextExpected)
		b.released[b.nextExpected] = struct{}{}
		b.nextExpected++
		b.totalReleased++

		if b.release != nil {
			b.release(chunk)
		}
	}
}

// PendingDepth returns the number of buffered, not-yet-released entries.
// A steadily growing depth indicates a sequence stall.
func (b *Buffer) PendingDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// NextExpected returns the lowest index that has not been released.
func (b *Buffer) NextExpected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextExpected
}

// TotalReleased returns the number of chunks released so far.
func (b *Buffer) TotalReleased() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalReleased
}

// Reset wipes all pending entries, the released-index set, and the
// expected-index cursor. This is the only way entries from a prior
// generation are purged.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextExpected = 0
	b.entries = make(map[int]*entry)
	b.released = make(map[int]struct{})
	b.totalReleased = 0
	b.totalIgnored = 0
}

func concat(segments [][]byte) []byte {
	var n int
	for _, s := range segments {
		n += len(s)
	}
	out := make([]byte, 0, n)
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}
