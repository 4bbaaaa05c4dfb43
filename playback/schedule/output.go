package schedule

import (
	"time"

	"github.com/streamtts/gapless/playback/decode"
)

// Output produces playback sources for decoded buffers. Implementations
// exist for real audio hardware (oto) and for tests (MockOutput).
type Output interface {
	// NewSource prepares a playback source for the buffer. The source does
	// not emit audio until PlayAt is called.
	NewSource(buf *decode.Buffer) (Source, error)

	// Close releases the output device.
	Close() error
}

// Source is a single active playback handle owned by the Scheduler.
type Source interface {
	// PlayAt begins playback when the wall clock reaches start, then calls
	// done exactly once after the buffer has fully played. A start time in
	// the past begins playback immediately.
	PlayAt(start time.Time, done func())

	// Stop terminates playback immediately regardless of remaining
	// duration. The done callback is not invoked after Stop.
	Stop()

	// SetVolume sets the source volume in [0, 1].
	SetVolume(level float64)
}
