// Package playback implements a gapless, real-time audio delivery
// pipeline. It accepts arbitrarily chunked, possibly out-of-order,
// possibly duplicated or stale audio segments from a streaming
// text-to-speech source and plays them back with sample-accurate, zero-gap
// timing while tolerating interruption and cancellation mid-stream.
package playback

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/streamtts/gapless/internal/metrics"
	"github.com/streamtts/gapless/playback/decode"
	"github.com/streamtts/gapless/playback/schedule"
	"github.com/streamtts/gapless/playback/sequence"
	"github.com/streamtts/gapless/playback/validate"
)

// Analytics are session-scoped playback counters.
type Analytics struct {
	TotalReceived uint64
	TotalPlayed   uint64
	Drops         uint64
}

// Status is the pipeline's externally visible state.
type Status struct {
	IsPlaying    bool
	QueueSize    int
	Analytics    Analytics
	BufferHealth Health
}

// Pipeline wires the validator, sequence buffer, decoder, and scheduler
// into a single delivery engine. Ingestion methods absorb all internal
// failures: they log and count, and never return an error to the caller.
type Pipeline struct {
	cfg    Config
	format decode.Format
	logger *log.Logger

	decoder   *decode.Decoder
	validator *validate.Validator
	seq       *sequence.Buffer
	sched     *schedule.Scheduler

	mu       sync.RWMutex
	observer Observer
	metrics  *metrics.Metrics

	received       atomic.Uint64
	stale          atomic.Uint64
	decodeFailures atomic.Uint64

	// pendingDepth caches the sequence buffer depth so health computation
	// inside scheduler callbacks never takes the sequence lock.
	pendingDepth atomic.Int64
}

// New creates a Pipeline playing through output. A nil clock uses the
// system clock; tests inject a fake.
func New(cfg Config, output schedule.Output, clock schedule.Clock) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := decode.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		format:    format,
		logger:    log.Default().With("component", "pipeline"),
		decoder:   decode.New(cfg.SampleRate, cfg.Channels),
		validator: validate.New(),
	}
	p.seq = sequence.New(p.deliver)
	p.sched = schedule.New(schedule.Config{
		Lookahead:     cfg.Lookahead,
		QueueCapacity: cfg.QueueCapacity,
		MaxScheduled:  cfg.MaxScheduled,
		Volume:        cfg.Volume,
	}, output, clock)

	p.sched.OnStateChange(func(st schedule.State) {
		p.emit(StateChangedEvent{Playing: st == schedule.StatePlaying})
		p.publishHealth()
	})
	p.sched.OnPlayed(func() {
		if m := p.metricsRef(); m != nil {
			m.IncPlayed()
		}
		p.publishHealth()
	})
	p.sched.OnDrop(func() {
		if m := p.metricsRef(); m != nil {
			m.IncDropped()
		}
		p.emit(ChunkDroppedEvent{Seq: -1, Reason: DropOverflow, Err: ErrOverflowDrop})
	})

	return p, nil
}

// SetObserver installs the event observer. Pass nil to remove it.
func (p *Pipeline) SetObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

// SetMetrics wires Prometheus instrumentation. Pass nil to disable.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// Ingest accepts one segment from the upstream network layer, which
// guarantees neither ordering, deduplication, nor timing. The segment is
// gated by the transcript validator, reordered by the sequence buffer,
// and, once its chunk is complete and contiguous, decoded and scheduled.
func (p *Pipeline) Ingest(seq int, segment []byte, complete bool, transcript string) {
	p.received.Add(1)
	if m := p.metricsRef(); m != nil {
		m.IncReceived()
	}

	if ok, reason := p.validator.Validate(transcript); !ok {
		p.stale.Add(1)
		if m := p.metricsRef(); m != nil {
			m.IncStale()
		}
		p.logger.Debug("rejected stale chunk",
			"seq", seq, "reason", reason, "error", ErrStaleChunk)
		p.emit(ChunkStaleEvent{Seq: seq, Transcript: transcript, Reason: reason.String()})
		return
	}

	p.seq.Push(seq, segment, complete, transcript)
	p.pendingDepth.Store(int64(p.seq.PendingDepth()))
	p.publishHealth()
}

// Enqueue schedules a single payload directly, bypassing validation and
// reordering. Internal failures are absorbed and logged.
func (p *Pipeline) Enqueue(payload []byte, format decode.Format) {
	p.received.Add(1)
	if m := p.metricsRef(); m != nil {
		m.IncReceived()
	}
	p.decodeAndSchedule(-1, payload, format)
	p.publishHealth()
}

// deliver receives complete chunks from the sequence buffer, exactly once
// and in strict index order. It runs under the sequence buffer's cycle
// lock.
func (p *Pipeline) deliver(chunk sequence.Chunk) {
	p.decodeAndSchedule(chunk.Index, chunk.Payload, p.format)
}

func (p *Pipeline) decodeAndSchedule(seq int, payload []byte, format decode.Format) {
	buf, err := p.decoder.Decode(payload, format)
	if err != nil {
		// Skip the chunk; the timeline cursor is untouched and queued
		// chunks keep playing.
		p.decodeFailures.Add(1)
		if m := p.metricsRef(); m != nil {
			m.IncDecodeErrors()
		}
		p.logger.Warn("skipping undecodable chunk", "seq", seq, "error", err)
		p.emit(ChunkDroppedEvent{Seq: seq, Reason: DropDecodeError, Err: err})
		return
	}

	p.emit(ChunkDecodedEvent{Seq: seq, Duration: buf.Duration})
	p.sched.Enqueue(buf)
	p.emit(ChunkScheduledEvent{Seq: seq})
}

// Stop immediately terminates every active source and discards all
// unscheduled buffers. It is idempotent; a chunk delivered afterwards
// simply repopulates an idle pipeline on a fresh timeline.
func (p *Pipeline) Stop() {
	p.sched.Stop()
	p.publishHealth()
}

// SetVolume sets playback volume, clamped to [0, 1].
func (p *Pipeline) SetVolume(level float64) {
	p.sched.SetVolume(level)
}

// SetExpectedText installs a new validator watermark for the next
// generation of chunks.
func (p *Pipeline) SetExpectedText(text string) {
	p.validator.SetExpectedText(text)
}

// InvalidateExpectedText clears the watermark; every subsequent chunk is
// rejected until a new watermark is installed.
func (p *Pipeline) InvalidateExpectedText() {
	p.validator.Reset()
}

// ResetSession wipes all session state: playback, ordering, validation,
// and telemetry. The next chunk starts a brand-new timeline.
func (p *Pipeline) ResetSession() {
	p.sched.Stop()
	p.sched.ResetStats()
	p.seq.Reset()
	p.validator.Reset()
	p.received.Store(0)
	p.stale.Store(0)
	p.decodeFailures.Store(0)
	p.pendingDepth.Store(0)
	p.logger.Info("session reset")
	p.publishHealth()
}

// Status reports playback state, queue depth, analytics, and buffer
// health.
func (p *Pipeline) Status() Status {
	depth := p.seq.PendingDepth()
	p.pendingDepth.Store(int64(depth))

	snap := p.sched.Snapshot()
	return Status{
		IsPlaying: p.sched.State() == schedule.StatePlaying,
		QueueSize: p.sched.QueueSize(),
		Analytics: Analytics{
			TotalReceived: p.received.Load(),
			TotalPlayed:   p.sched.TotalPlayed(),
			Drops:         p.sched.Drops(),
		},
		BufferHealth: computeHealth(p.cfg, snap, depth, p.sched.Drops()),
	}
}

// StaleCount returns the number of chunks rejected by the validator this
// session.
func (p *Pipeline) StaleCount() uint64 {
	return p.stale.Load()
}

// DecodeFailures returns the number of chunks skipped as undecodable this
// session.
func (p *Pipeline) DecodeFailures() uint64 {
	return p.decodeFailures.Load()
}

func (p *Pipeline) emit(ev Event) {
	p.mu.RLock()
	o := p.observer
	p.mu.RUnlock()
	if o != nil {
		o.OnEvent(ev)
	}
}

func (p *Pipeline) metricsRef() *metrics.Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

// publishHealth recomputes buffer health and pushes it to the observer and
// gauges. It reads the cached sequence depth so it is safe to call from
// scheduler callbacks.
func (p *Pipeline) publishHealth() {
	snap := p.sched.Snapshot()
	depth := int(p.pendingDepth.Load())
	health := computeHealth(p.cfg, snap, depth, p.sched.Drops())

	if m := p.metricsRef(); m != nil {
		m.SetQueueSize(snap.QueueDepth + snap.ScheduledSources)
		m.SetActiveSources(snap.ScheduledSources)
		m.SetLookahead(snap.Lookahead.Seconds())
	}
	p.emit(HealthUpdatedEvent{Health: health})
}
