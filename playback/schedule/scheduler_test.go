package schedule

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic timeline tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(cfg Config) (*Scheduler, *MockOutput, *fakeClock) {
	out := NewMockOutput()
	clock := newFakeClock()
	return New(cfg, out, clock), out, clock
}

func TestScheduler_GaplessStartTimes(t *testing.T) {
	s, out, clock := newTestScheduler(Config{
		Lookahead:     200 * time.Millisecond,
		QueueCapacity: 10,
		MaxScheduled:  4,
		Volume:        1.0,
	})

	for i := 0; i < 3; i++ {
		s.Enqueue(bufWithDuration(500 * time.Millisecond))
	}

	t0 := clock.Now()
	want := []time.Time{
		t0.Add(200 * time.Millisecond),
		t0.Add(700 * time.Millisecond),
		t0.Add(1200 * time.Millisecond),
	}
	got := out.StartTimes()
	if len(got) != len(want) {
		t.Fatalf("Expected %d scheduled sources, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("Source %d: expected start %v, got %v", i, want[i], got[i])
		}
	}

	// Each start coincides exactly with the previous end: no gap, no overlap.
	for i := 1; i < len(got); i++ {
		if gap := got[i].Sub(got[i-1]); gap != 500*time.Millisecond {
			t.Errorf("Gap between source %d and %d: expected 500ms, got %v", i-1, i, gap)
		}
	}
}

func TestScheduler_StateTransitions(t *testing.T) {
	s, out, _ := newTestScheduler(DefaultConfig())

	var transitions []State
	var mu sync.Mutex
	s.OnStateChange(func(st State) {
		mu.Lock()
		transitions = append(transitions, st)
		mu.Unlock()
	})

	if s.State() != StateIdle {
		t.Fatalf("Expected initial state idle, got %v", s.State())
	}

	s.Enqueue(bufWithDuration(time.Second))
	if s.State() != StatePlaying {
		t.Errorf("Expected playing after enqueue, got %v", s.State())
	}

	out.Sources()[0].Complete()
	if s.State() != StateIdle {
		t.Errorf("Expected idle after last source completed, got %v", s.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != StatePlaying || transitions[1] != StateIdle {
		t.Errorf("Expected transitions [playing idle], got %v", transitions)
	}
}

func TestScheduler_RefillsFromQueueOnCompletion(t *testing.T) {
	s, out, clock := newTestScheduler(Config{
		Lookahead:     200 * time.Millisecond,
		QueueCapacity: 10,
		MaxScheduled:  2,
	})

	for i := 0; i < 3; i++ {
		s.Enqueue(bufWithDuration(time.Second))
	}

	if got := len(out.Sources()); got != 2 {
		t.Fatalf("Expected 2 scheduled sources at the bound, got %d", got)
	}
	if got := s.QueueSize(); got != 3 {
		t.Errorf("Expected queue size 3 (2 scheduled + 1 pending), got %d", got)
	}

	out.Sources()[0].Complete()

	// The pending buffer is promoted and continues the same timeline.
	sources := out.Sources()
	if len(sources) != 3 {
		t.Fatalf("Expected third source scheduled after completion, got %d", len(sources))
	}
	t0 := clock.Now()
	start, ok := sources[2].Start()
	if !ok {
		t.Fatal("Expected PlayAt on the promoted source")
	}
	if want := t0.Add(200*time.Millisecond + 2*time.Second); !start.Equal(want) {
		t.Errorf("Expected promoted start %v, got %v", want, start)
	}

	if got := s.TotalPlayed(); got != 1 {
		t.Errorf("Expected 1 played source, got %d", got)
	}
}

func TestScheduler_OverflowDropsOldestPending(t *testing.T) {
	s, out, _ := newTestScheduler(Config{
		Lookahead:     200 * time.Millisecond,
		QueueCapacity: 2,
		MaxScheduled:  1,
	})

	var drops int
	var mu sync.Mutex
	s.OnDrop(func() {
		mu.Lock()
		drops++
		mu.Unlock()
	})

	// One scheduled, two pending, the fourth overflows.
	for i := 0; i < 4; i++ {
		s.Enqueue(bufWithDuration(time.Second))
	}

	if got := len(out.Sources()); got != 1 {
		t.Errorf("Expected 1 scheduled source, got %d", got)
	}
	if got := s.Drops(); got != 1 {
		t.Errorf("Expected 1 drop, got %d", got)
	}
	mu.Lock()
	if drops != 1 {
		t.Errorf("Expected 1 drop callback, got %d", drops)
	}
	mu.Unlock()
	if got := s.QueueSize(); got != 3 {
		t.Errorf("Expected queue size 3 after overflow, got %d", got)
	}
}

func TestScheduler_StopTerminatesEverything(t *testing.T) {
	s, out, clock := newTestScheduler(Config{
		Lookahead:     200 * time.Millisecond,
		QueueCapacity: 10,
		MaxScheduled:  2,
	})

	for i := 0; i < 4; i++ {
		s.Enqueue(bufWithDuration(time.Second))
	}

	s.Stop()

	if s.State() != StateIdle {
		t.Errorf("Expected idle after Stop, got %v", s.State())
	}
	if got := s.QueueSize(); got != 0 {
		t.Errorf("Expected empty queue after Stop, got %d", got)
	}
	for i, src := range out.Sources() {
		if !src.Stopped() {
			t.Errorf("Source %d: expected Stop to terminate it", i)
		}
	}
	// Discarded pending buffers are not overflow drops.
	if got := s.Drops(); got != 0 {
		t.Errorf("Expected no drops counted on Stop, got %d", got)
	}

	// Stop is idempotent.
	s.Stop()
	if s.State() != StateIdle {
		t.Errorf("Expected idle after repeated Stop, got %v", s.State())
	}

	// A completion callback from a stopped source must not resurrect state.
	out.Sources()[0].Complete()
	if got := s.TotalPlayed(); got != 0 {
		t.Errorf("Expected stopped sources not to count as played, got %d", got)
	}

	// The next buffer starts a fresh timeline from the current clock.
	clock.Advance(5 * time.Second)
	s.Enqueue(bufWithDuration(time.Second))
	sources := out.Sources()
	start, _ := sources[len(sources)-1].Start()
	if want := clock.Now().Add(200 * time.Millisecond); !start.Equal(want) {
		t.Errorf("Expected fresh timeline start %v, got %v", want, start)
	}
}

func TestScheduler_SourceFailureLeavesNoTimelineHole(t *testing.T) {
	s, out, clock := newTestScheduler(Config{
		Lookahead:     200 * time.Millisecond,
		QueueCapacity: 10,
		MaxScheduled:  4,
	})

	out.FailNext = errors.New("device busy")
	s.Enqueue(bufWithDuration(time.Second))

	if got := len(out.Sources()); got != 0 {
		t.Fatalf("Expected no source after creation failure, got %d", got)
	}
	if s.State() != StateIdle {
		t.Errorf("Expected state to remain idle after failed schedule, got %v", s.State())
	}

	// The cursor never advanced, so the next buffer starts at the normal
	// lookahead offset.
	s.Enqueue(bufWithDuration(time.Second))
	start, ok := out.Sources()[0].Start()
	if !ok {
		t.Fatal("Expected PlayAt on the recovered source")
	}
	if want := clock.Now().Add(200 * time.Millisecond); !start.Equal(want) {
		t.Errorf("Expected start %v, got %v", want, start)
	}
}

func TestScheduler_VolumeClampAndPropagation(t *testing.T) {
	s, out, _ := newTestScheduler(DefaultConfig())
	s.Enqueue(bufWithDuration(time.Second))

	s.SetVolume(1.5)
	if got := s.Volume(); got != 1.0 {
		t.Errorf("Expected volume clamped to 1.0, got %v", got)
	}
	s.SetVolume(-0.2)
	if got := s.Volume(); got != 0 {
		t.Errorf("Expected volume clamped to 0, got %v", got)
	}

	s.SetVolume(0.4)
	if got := out.Sources()[0].Volume(); got != 0.4 {
		t.Errorf("Expected active source at volume 0.4, got %v", got)
	}

	// New sources inherit the current volume.
	s.Enqueue(bufWithDuration(time.Second))
	if got := out.Sources()[1].Volume(); got != 0.4 {
		t.Errorf("Expected new source at volume 0.4, got %v", got)
	}
}

func TestScheduler_SnapshotLookahead(t *testing.T) {
	s, _, clock := newTestScheduler(Config{
		Lookahead:     200 * time.Millisecond,
		QueueCapacity: 10,
		MaxScheduled:  4,
	})

	if snap := s.Snapshot(); snap.Lookahead != 0 {
		t.Errorf("Expected zero lookahead while idle, got %v", snap.Lookahead)
	}

	s.Enqueue(bufWithDuration(time.Second))
	snap := s.Snapshot()
	if want := 1200 * time.Millisecond; snap.Lookahead != want {
		t.Errorf("Expected buffered lookahead %v, got %v", want, snap.Lookahead)
	}
	if snap.ScheduledSources != 1 {
		t.Errorf("Expected 1 scheduled source, got %d", snap.ScheduledSources)
	}

	// Real time catching up shrinks the buffered lookahead.
	clock.Advance(time.Second)
	if snap := s.Snapshot(); snap.Lookahead != 200*time.Millisecond {
		t.Errorf("Expected 200ms lookahead after advance, got %v", snap.Lookahead)
	}

	// The clock overrunning the cursor reports zero, never negative.
	clock.Advance(time.Second)
	if snap := s.Snapshot(); snap.Lookahead != 0 {
		t.Errorf("Expected zero lookahead when overrun, got %v", snap.Lookahead)
	}
}

func TestScheduler_ResetStats(t *testing.T) {
	s, out, _ := newTestScheduler(Config{
		Lookahead:     200 * time.Millisecond,
		QueueCapacity: 1,
		MaxScheduled:  1,
	})

	s.Enqueue(bufWithDuration(time.Second))
	s.Enqueue(bufWithDuration(time.Second))
	s.Enqueue(bufWithDuration(time.Second)) // overflows the 1-slot queue
	out.Sources()[0].Complete()

	if s.TotalPlayed() == 0 || s.Drops() == 0 {
		t.Fatalf("Expected non-zero counters before reset: played=%d drops=%d",
			s.TotalPlayed(), s.Drops())
	}

	s.ResetStats()
	if got := s.TotalPlayed(); got != 0 {
		t.Errorf("Expected played reset to 0, got %d", got)
	}
	if got := s.TotalScheduled(); got != 0 {
		t.Errorf("Expected scheduled reset to 0, got %d", got)
	}
	if got := s.Drops(); got != 0 {
		t.Errorf("Expected drops reset to 0, got %d", got)
	}
}
