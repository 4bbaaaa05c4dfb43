package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/streamtts/gapless/playback/schedule"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// eventRecorder collects pipeline events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(match func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// pcmPayload builds a 16-bit PCM payload of the given frame count for a
// mono stream.
func pcmPayload(frames int) []byte {
	return make([]byte, frames*2)
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *schedule.MockOutput) {
	t.Helper()
	out := schedule.NewMockOutput()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	p, err := New(cfg, out, clock)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p, out
}

func TestPipeline_OutOfOrderIngestPlaysInIndexOrder(t *testing.T) {
	p, out := newTestPipeline(t, DefaultConfig())
	p.SetExpectedText("Hello world.")

	// Chunk i carries (i+1)*240 frames, so its decoded duration identifies
	// it: 10ms, 20ms, 30ms at 24kHz.
	payloads := [][]byte{pcmPayload(240), pcmPayload(480), pcmPayload(720)}
	for _, idx := range []int{1, 0, 2} {
		p.Ingest(idx, payloads[idx], true, "Hello world.")
	}

	sources := out.Sources()
	if len(sources) != 3 {
		t.Fatalf("Expected 3 scheduled sources, got %d", len(sources))
	}
	wantDurations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	for i, want := range wantDurations {
		if got := sources[i].Buffer.Duration; got != want {
			t.Errorf("Source %d: expected duration %v (chunk %d), got %v", i, want, i, got)
		}
	}

	status := p.Status()
	if !status.IsPlaying {
		t.Error("Expected pipeline to report playing")
	}
	if status.Analytics.TotalReceived != 3 {
		t.Errorf("Expected 3 received, got %d", status.Analytics.TotalReceived)
	}
}

func TestPipeline_FailClosedWithoutWatermark(t *testing.T) {
	p, out := newTestPipeline(t, DefaultConfig())

	p.Ingest(0, pcmPayload(240), true, "anything")

	if got := len(out.Sources()); got != 0 {
		t.Errorf("Expected no scheduling before a watermark is set, got %d sources", got)
	}
	if got := p.StaleCount(); got != 1 {
		t.Errorf("Expected 1 stale chunk, got %d", got)
	}
}

func TestPipeline_StaleChunksRejected(t *testing.T) {
	p, out := newTestPipeline(t, DefaultConfig())
	rec := &eventRecorder{}
	p.SetObserver(rec)

	p.SetExpectedText("Second sentence.")
	p.Ingest(0, pcmPayload(240), true, "First sentence.")
	p.Ingest(0, pcmPayload(240), true, "Second sentence.")

	if got := len(out.Sources()); got != 1 {
		t.Fatalf("Expected only the matching chunk scheduled, got %d sources", got)
	}
	if got := p.StaleCount(); got != 1 {
		t.Errorf("Expected 1 stale chunk, got %d", got)
	}

	stale := rec.ofType(func(ev Event) bool {
		_, ok := ev.(ChunkStaleEvent)
		return ok
	})
	if len(stale) != 1 {
		t.Fatalf("Expected 1 stale event, got %d", len(stale))
	}
	if ev := stale[0].(ChunkStaleEvent); ev.Transcript != "First sentence." {
		t.Errorf("Expected stale event for the old transcript, got %q", ev.Transcript)
	}
}

func TestPipeline_UndecodableChunkSkippedWithoutStall(t *testing.T) {
	p, out := newTestPipeline(t, DefaultConfig())
	rec := &eventRecorder{}
	p.SetObserver(rec)
	p.SetExpectedText("ok")

	// Chunk 0 is not sample-aligned and fails to decode; chunk 1 must
	// still play.
	p.Ingest(0, []byte{0x01}, true, "ok")
	p.Ingest(1, pcmPayload(240), true, "ok")

	if got := len(out.Sources()); got != 1 {
		t.Fatalf("Expected the valid chunk scheduled, got %d sources", got)
	}
	if got := p.DecodeFailures(); got != 1 {
		t.Errorf("Expected 1 decode failure, got %d", got)
	}

	dropped := rec.ofType(func(ev Event) bool {
		d, ok := ev.(ChunkDroppedEvent)
		return ok && d.Reason == DropDecodeError
	})
	if len(dropped) != 1 {
		t.Fatalf("Expected 1 decode-drop event, got %d", len(dropped))
	}
	if ev := dropped[0].(ChunkDroppedEvent); ev.Seq != 0 {
		t.Errorf("Expected drop event for chunk 0, got %d", ev.Seq)
	}
}

func TestPipeline_MissingIndexStallsDownstream(t *testing.T) {
	p, out := newTestPipeline(t, DefaultConfig())
	p.SetExpectedText("ok")

	// Index 0 never arrives: nothing may play, however much accumulates.
	for idx := 1; idx <= 5; idx++ {
		p.Ingest(idx, pcmPayload(240), true, "ok")
	}

	if got := len(out.Sources()); got != 0 {
		t.Errorf("Expected stall with index 0 missing, got %d sources", got)
	}
	status := p.Status()
	if status.IsPlaying {
		t.Error("Expected idle pipeline during stall")
	}
	if status.Analytics.TotalReceived != 5 {
		t.Errorf("Expected 5 received, got %d", status.Analytics.TotalReceived)
	}
}

func TestPipeline_StallDegradesBufferHealth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallDepth = 3
	p, _ := newTestPipeline(t, cfg)
	p.SetExpectedText("ok")

	for idx := 1; idx <= 4; idx++ {
		p.Ingest(idx, pcmPayload(240), true, "ok")
	}

	health := p.Status().BufferHealth
	if health.IsHealthy {
		t.Error("Expected unhealthy report during a sequence stall")
	}
	if len(health.Issues) == 0 {
		t.Error("Expected at least one reported issue")
	}
}

func TestPipeline_StopIsIdempotentAndRestartable(t *testing.T) {
	p, out := newTestPipeline(t, DefaultConfig())
	p.SetExpectedText("ok")

	p.Ingest(0, pcmPayload(240), true, "ok")
	p.Stop()
	p.Stop()

	if p.Status().IsPlaying {
		t.Error("Expected idle after Stop")
	}
	if !out.Sources()[0].Stopped() {
		t.Error("Expected active source terminated by Stop")
	}

	// Re-delivery of the stopped chunk is swallowed by the sequence
	// buffer; the next index restarts playback.
	p.Ingest(0, pcmPayload(240), true, "ok")
	p.Ingest(1, pcmPayload(240), true, "ok")
	if got := len(out.Sources()); got != 2 {
		t.Fatalf("Expected exactly one new source after restart, got %d total", got)
	}
	if !p.Status().IsPlaying {
		t.Error("Expected playing after restart")
	}
}

func TestPipeline_ResetSessionWipesAllState(t *testing.T) {
	p, out := newTestPipeline(t, DefaultConfig())
	p.SetExpectedText("ok")

	p.Ingest(0, pcmPayload(240), true, "ok")
	p.Ingest(2, pcmPayload(240), true, "ok") // stalls behind missing 1
	p.ResetSession()

	status := p.Status()
	if status.IsPlaying {
		t.Error("Expected idle after ResetSession")
	}
	if status.Analytics.TotalReceived != 0 || status.Analytics.TotalPlayed != 0 || status.Analytics.Drops != 0 {
		t.Errorf("Expected zeroed analytics, got %+v", status.Analytics)
	}

	// The validator is disarmed until a new watermark arrives.
	p.Ingest(0, pcmPayload(240), true, "ok")
	if got := p.StaleCount(); got != 1 {
		t.Errorf("Expected post-reset chunk rejected, got stale count %d", got)
	}

	// A new generation starts from index 0 on a clean sequence cursor.
	p.SetExpectedText("next")
	p.Ingest(0, pcmPayload(240), true, "next")
	if got := len(out.Sources()); got != 2 {
		t.Errorf("Expected new-generation chunk scheduled, got %d total sources", got)
	}
}

func TestPipeline_EventLifecycle(t *testing.T) {
	p, _ := newTestPipeline(t, DefaultConfig())
	rec := &eventRecorder{}
	p.SetObserver(rec)
	p.SetExpectedText("ok")

	p.Ingest(0, pcmPayload(240), true, "ok")

	if ev := rec.ofType(func(ev Event) bool {
		s, ok := ev.(StateChangedEvent)
		return ok && s.Playing
	}); len(ev) != 1 {
		t.Errorf("Expected 1 playing transition event, got %d", len(ev))
	}
	decoded := rec.ofType(func(ev Event) bool {
		_, ok := ev.(ChunkDecodedEvent)
		return ok
	})
	if len(decoded) != 1 {
		t.Fatalf("Expected 1 decoded event, got %d", len(decoded))
	}
	if ev := decoded[0].(ChunkDecodedEvent); ev.Seq != 0 || ev.Duration != 10*time.Millisecond {
		t.Errorf("Unexpected decoded event: %+v", ev)
	}
	if ev := rec.ofType(func(ev Event) bool {
		_, ok := ev.(ChunkScheduledEvent)
		return ok
	}); len(ev) != 1 {
		t.Errorf("Expected 1 scheduled event, got %d", len(ev))
	}
}

func TestPipeline_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Volume = 3.0
	if _, err := New(cfg, schedule.NewMockOutput(), nil); err == nil {
		t.Error("Expected error for out-of-range volume")
	}

	cfg = DefaultConfig()
	cfg.Format = "opus"
	if _, err := New(cfg, schedule.NewMockOutput(), nil); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
