// Package schedule owns the audio output timeline. It transforms an
// arrival-ordered stream of decoded buffers into sample-accurate, gapless
// playback: each buffer is scheduled to start exactly when the previous one
// ends.
package schedule

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/streamtts/gapless/playback/decode"
)

// State is the scheduler's playback state.
type State int

const (
	// StateIdle means no source is scheduled and the queue is empty.
	StateIdle State = iota
	// StatePlaying means at least one source is scheduled or queued.
	StatePlaying
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Default scheduler configuration.
const (
	// DefaultLookahead is the offset added ahead of the clock before the
	// first scheduled buffer, absorbing decode and scheduling jitter.
	DefaultLookahead = 200 * time.Millisecond
	// DefaultMaxScheduled bounds how many sources may be scheduled on the
	// timeline at once; further buffers wait in the pending queue.
	DefaultMaxScheduled = 4
)

// Config holds scheduler configuration.
type Config struct {
	Lookahead     time.Duration
	QueueCapacity int
	MaxScheduled  int
	Volume        float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Lookahead:     DefaultLookahead,
		QueueCapacity: DefaultQueueCapacity,
		MaxScheduled:  DefaultMaxScheduled,
		Volume:        1.0,
	}
}

// Snapshot is a point-in-time view of scheduler health. It is computed on
// demand and never stored.
type Snapshot struct {
	QueueDepth       int
	ScheduledSources int
	// Lookahead is how far the timeline cursor runs ahead of the clock.
	Lookahead time.Duration
}

// scheduledSource is an active playback handle: source, absolute start
// time, duration. Owned exclusively by the Scheduler.
type scheduledSource struct {
	src      Source
	start    time.Time
	duration time.Duration
}

// Scheduler is the single timeline owner. Every operation that mutates the
// cursor or the active-source set is serialized on one mutex. Registered
// callbacks are invoked after the mutex is released and must not assume any
// ordering with concurrent operations.
type Scheduler struct {
	clock  Clock
	output Output
	cfg    Config
	queue  *Queue
	logger *log.Logger

	mu      sync.Mutex
	sources map[uint64]*scheduledSource
	nextID  uint64
	cursor  time.Time
	state   State
	volume  float64

	totalScheduled uint64
	totalPlayed    uint64

	onStateChange func(State)
	onPlayed      func()
	onDrop        func()
}

// New creates a Scheduler writing to output, timed by clock. A nil clock
// uses the system clock.
func New(cfg Config, output Output, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.MaxScheduled <= 0 {
		cfg.MaxScheduled = DefaultMaxScheduled
	}
	if cfg.Volume < 0 || cfg.Volume > 1 {
		cfg.Volume = 1.0
	}
	return &Scheduler{
		clock:   clock,
		output:  output,
		cfg:     cfg,
		queue:   NewQueue(cfg.QueueCapacity),
		logger:  log.Default().With("component", "scheduler"),
		sources: make(map[uint64]*scheduledSource),
		volume:  cfg.Volume,
	}
}

// OnStateChange registers a callback for Idle/Playing transitions.
func (s *Scheduler) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnPlayed registers a callback invoked once per naturally completed source.
func (s *Scheduler) OnPlayed(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPlayed = fn
}

// OnDrop registers a callback invoked once per buffer dropped on overflow.
func (s *Scheduler) OnDrop(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrop = fn
}

// Enqueue adds a decoded buffer to the timeline. If the pending queue is at
// capacity the oldest unscheduled buffer is dropped first. Enqueue after
// Stop simply starts a fresh timeline from the next lookahead offset.
func (s *Scheduler) Enqueue(buf *decode.Buffer) {
	if buf == nil {
		return
	}

	var after []func()
	s.mu.Lock()
	if dropped := s.queue.Push(buf); dropped != nil {
		s.logger.Warn("pending queue full, dropped oldest buffer",
			"capacity", s.queue.Capacity(), "dropped_duration", dropped.Duration)
		if fn := s.onDrop; fn != nil {
			after = append(after, fn)
		}
	}
	s.fillLocked(&after)
	s.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

// fillLocked schedules queued buffers until the scheduled-source bound is
// reached. Callers must hold s.mu.
func (s *Scheduler) fillLocked(after *[]func()) {
	for len(s.sources) < s.cfg.MaxScheduled {
		buf := s.queue.Pop()
		if buf == nil {
			return
		}
		s.scheduleLocked(buf, after)
	}
}

// scheduleLocked places one buffer on the timeline. The cursor only
// advances once a source has been created, so a failed source never leaves
// a hole in the timeline.
func (s *Scheduler) scheduleLocked(buf *decode.Buffer, after *[]func()) {
	src, err := s.output.NewSource(buf)
	if err != nil {
		s.logger.Error("creating playback source", "error", err)
		return
	}

	if s.state == StateIdle {
		s.cursor = s.clock.Now().Add(s.cfg.Lookahead)
		s.setStateLocked(StatePlaying, after)
	}

	start := s.cursor
	s.cursor = s.cursor.Add(buf.Duration)

	id := s.nextID
	s.nextID++
	s.sources[id] = &scheduledSource{src: src, start: start, duration: buf.Duration}
	s.totalScheduled++

	src.SetVolume(s.volume)
	src.PlayAt(start, func() { s.sourceDone(id) })

	s.logger.Debug("scheduled buffer",
		"start", start, "duration", buf.Duration, "active_sources", len(s.sources))
}

// sourceDone handles natural completion of a scheduled source. Sources
// terminated by Stop never reach here.
func (s *Scheduler) sourceDone(id uint64) {
	var after []func()
	s.mu.Lock()
	if _, ok := s.sources[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sources, id)
	s.totalPlayed++
	if fn := s.onPlayed; fn != nil {
		after = append(after, fn)
	}

	s.fillLocked(&after)
	if len(s.sources) == 0 && s.queue.Len() == 0 {
		s.cursor = time.Time{}
		s.setStateLocked(StateIdle, &after)
	}
	s.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

// Stop terminates every active source regardless of remaining duration,
// discards all unscheduled buffers, and transitions to Idle. It is
// idempotent and does not negotiate with in-flight producers.
func (s *Scheduler) Stop() {
	var after []func()
	s.mu.Lock()
	for id, sc := range s.sources {
		sc.src.Stop()
		delete(s.sources, id)
	}
	cleared := s.queue.Clear()
	s.cursor = time.Time{}
	if s.state != StateIdle {
		s.setStateLocked(StateIdle, &after)
	}
	s.mu.Unlock()

	if cleared > 0 {
		s.logger.Debug("discarded unscheduled buffers on stop", "count", cleared)
	}
	for _, fn := range after {
		fn()
	}
}

// SetVolume sets the volume for active and future sources, clamped to
// [0, 1].
func (s *Scheduler) SetVolume(level float64) {
	if level < 0 {
		level = 0
	} else if level > 1 {
		level = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = level
	for _, sc := range s.sources {
		sc.src.SetVolume(level)
	}
}

// Volume returns the current volume.
func (s *Scheduler) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// State returns the current playback state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueSize returns unscheduled plus scheduled buffers.
func (s *Scheduler) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len() + len(s.sources)
}

// TotalPlayed returns the number of sources that completed naturally.
func (s *Scheduler) TotalPlayed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPlayed
}

// TotalScheduled returns the number of buffers placed on the timeline.
func (s *Scheduler) TotalScheduled() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalScheduled
}

// Drops returns the number of buffers dropped on queue overflow.
func (s *Scheduler) Drops() uint64 {
	return s.queue.Drops()
}

// Snapshot computes a point-in-time health view.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		QueueDepth:       s.queue.Len(),
		ScheduledSources: len(s.sources),
	}
	if s.state == StatePlaying {
		if ahead := s.cursor.Sub(s.clock.Now()); ahead > 0 {
			snap.Lookahead = ahead
		}
	}
	return snap
}

// ResetStats zeroes the played/scheduled/drop counters. Active playback is
// unaffected; callers wanting a full wipe call Stop first.
func (s *Scheduler) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalScheduled = 0
	s.totalPlayed = 0
	s.queue.resetDrops()
}

func (s *Scheduler) setStateLocked(st State, after *[]func()) {
	s.state = st
	s.logger.Debug("playback state changed", "state", st)
	if fn := s.onStateChange; fn != nil {
		*after = append(*after, func() { fn(st) })
	}
}
