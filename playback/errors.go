package playback

import "errors"

// Pipeline error taxonomy. None of these are fatal: every failure is
// absorbed locally, logged, and surfaced through telemetry rather than
// propagated up the call stack.
var (
	// ErrStaleChunk marks a chunk whose transcript does not match the
	// active watermark.
	ErrStaleChunk = errors.New("stale chunk: transcript does not match active watermark")

	// ErrOverflowDrop marks a buffer evicted from the pending queue at
	// capacity.
	ErrOverflowDrop = errors.New("pending queue at capacity, oldest buffer dropped")

	// ErrSequenceStall marks a sequence buffer waiting indefinitely on a
	// missing lower index. Surfaced via health telemetry only.
	ErrSequenceStall = errors.New("sequence buffer stalled on missing index")
)
