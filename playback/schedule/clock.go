package schedule

import "time"

// Clock abstracts the real-time clock so timeline arithmetic is
// deterministically testable with a fake clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
