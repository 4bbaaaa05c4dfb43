package playback

import (
	"time"
)

// Event is the closed set of pipeline notifications. Every admitted chunk
// produces exactly one terminal outcome event (scheduled, dropped, or
// stale), so a caller switching over the variants handles every case.
type Event interface {
	event()
}

// StateChangedEvent is emitted on every Idle/Playing transition.
type StateChangedEvent struct {
	Playing bool
}

// ChunkDecodedEvent is emitted when a chunk payload decodes successfully,
// before it is handed to the scheduler.
type ChunkDecodedEvent struct {
	Seq      int
	Duration time.Duration
}

// ChunkScheduledEvent is emitted when a decoded buffer has been placed on
// the timeline (or its pending queue).
type ChunkScheduledEvent struct {
	Seq int
}

// DropReason explains why a chunk was discarded.
type DropReason int

const (
	// DropOverflow means the pending queue was at capacity and the oldest
	// unscheduled buffer was evicted.
	DropOverflow DropReason = iota
	// DropDecodeError means the payload was malformed and skipped.
	DropDecodeError
)

// String returns the string representation of the reason.
func (r DropReason) String() string {
	switch r {
	case DropOverflow:
		return "queue overflow"
	case DropDecodeError:
		return "decode error"
	default:
		return "unknown"
	}
}

// ChunkDroppedEvent is emitted once per discarded chunk. Seq is -1 for
// overflow drops, where the evicted buffer's origin is no longer known.
type ChunkDroppedEvent struct {
	Seq    int
	Reason DropReason
	Err    error
}

// ChunkStaleEvent is emitted when the validator rejects a chunk as
// belonging to a superseded generation.
type ChunkStaleEvent struct {
	Seq        int
	Transcript string
	Reason     string
}

// HealthUpdatedEvent carries a fresh buffer-health snapshot. Emitted on
// queue mutations and per-source completion.
type HealthUpdatedEvent struct {
	Health Health
}

func (StateChangedEvent) event()   {}
func (ChunkDecodedEvent) event()   {}
func (ChunkScheduledEvent) event() {}
func (ChunkDroppedEvent) event()   {}
func (ChunkStaleEvent) event()     {}
func (HealthUpdatedEvent) event()  {}

// Observer receives pipeline events. OnEvent is called synchronously from
// pipeline goroutines; implementations must be fast and must not call back
// into the Pipeline.
type Observer interface {
	OnEvent(Event)
}

// NopObserver discards all events.
type NopObserver struct{}

// OnEvent implements Observer.
func (NopObserver) OnEvent(Event) {}
