package schedule

import (
	"sync"
	"time"

	"github.com/streamtts/gapless/playback/decode"
)

// MockOutput implements Output for testing without real audio hardware. It
// records every created source; sources never complete until the test
// triggers them explicitly.
type MockOutput struct {
	mu      sync.Mutex
	sources []*MockSource

	// FailNext makes the next NewSource call return this error once.
	FailNext error
}

// NewMockOutput creates an empty mock output.
func NewMockOutput() *MockOutput {
	return &MockOutput{}
}

// NewSource records and returns a new mock source.
func (m *MockOutput) NewSource(buf *decode.Buffer) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return nil, err
	}

	src := &MockSource{Buffer: buf}
	m.sources = append(m.sources, src)
	return src, nil
}

// Close implements Output.
func (m *MockOutput) Close() error { return nil }

// Sources returns every source created so far, in creation order.
func (m *MockOutput) Sources() []*MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSource, len(m.sources))
	copy(out, m.sources)
	return out
}

// StartTimes returns the scheduled start time of every source that has had
// PlayAt called, in creation order.
func (m *MockOutput) StartTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	times := make([]time.Time, 0, len(m.sources))
	for _, src := range m.sources {
		if start, ok := src.Start(); ok {
			times = append(times, start)
		}
	}
	return times
}

// MockSource records scheduling calls and lets tests drive completion.
type MockSource struct {
	Buffer *decode.Buffer

	mu      sync.Mutex
	start   time.Time
	played  bool
	stopped bool
	volume  float64
	done    func()
}

// PlayAt records the scheduled start time and completion callback.
func (s *MockSource) PlayAt(start time.Time, done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = start
	s.played = true
	s.done = done
}

// Stop marks the source terminated.
func (s *MockSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.done = nil
}

// SetVolume records the last volume applied.
func (s *MockSource) SetVolume(level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = level
}

// Complete simulates natural end of playback, invoking the completion
// callback unless the source was stopped first.
func (s *MockSource) Complete() {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

// Start returns the scheduled start time and whether PlayAt was called.
func (s *MockSource) Start() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start, s.played
}

// Stopped reports whether Stop was called.
func (s *MockSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Volume returns the last volume applied to the source.
func (s *MockSource) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}
