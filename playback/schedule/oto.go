//go:build !nocgo
// +build !nocgo

package schedule

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/streamtts/gapless/playback/decode"
)

const otoReadyTimeout = 5 * time.Second

// OtoOutput implements Output on real audio hardware through oto. An oto
// context is fixed to one sample rate and channel count for its lifetime,
// so every buffer handed to NewSource must match the configured format.
type OtoOutput struct {
	ctx        *oto.Context
	sampleRate int
	channels   int
}

// NewOtoOutput initializes the audio device for the given format and waits
// for it to become ready.
func NewOtoOutput(sampleRate, channels int) (*OtoOutput, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}

	select {
	case <-ready:
	case <-time.After(otoReadyTimeout):
		return nil, fmt.Errorf("audio context not ready after %v", otoReadyTimeout)
	}

	log.Debug("audio output initialized", "sample_rate", sampleRate, "channels", channels)
	return &OtoOutput{ctx: ctx, sampleRate: sampleRate, channels: channels}, nil
}

// NewSource prepares an oto player for the buffer.
func (o *OtoOutput) NewSource(buf *decode.Buffer) (Source, error) {
	if buf.SampleRate != o.sampleRate || buf.Channels != o.channels {
		return nil, fmt.Errorf("buffer format %dHz/%dch does not match output %dHz/%dch",
			buf.SampleRate, buf.Channels, o.sampleRate, o.channels)
	}

	pcm := make([]byte, 4*len(buf.Samples))
	for i, s := range buf.Samples {
		binary.LittleEndian.PutUint32(pcm[4*i:], math.Float32bits(s))
	}

	return &otoSource{
		player:   o.ctx.NewPlayer(bytes.NewReader(pcm)),
		duration: buf.Duration,
	}, nil
}

// Close releases the output. The oto context itself has no close; it is
// reclaimed with the process.
func (o *OtoOutput) Close() error {
	o.ctx = nil
	return nil
}

// otoSource drives a single oto player on wall-clock timers.
type otoSource struct {
	player   *oto.Player
	duration time.Duration

	mu         sync.Mutex
	startTimer *time.Timer
	doneTimer  *time.Timer
	stopped    bool
}

func (s *otoSource) PlayAt(start time.Time, done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	delay := time.Until(start)
	if delay < 0 {
		delay = 0
	}

	s.startTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stopped {
			s.player.Play()
		}
	})
	s.doneTimer = time.AfterFunc(delay+s.duration, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.stopped = true
		if err := s.player.Close(); err != nil {
			log.Warn("closing audio player", "error", err)
		}
		s.mu.Unlock()
		done()
	})
}

func (s *otoSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.startTimer != nil {
		s.startTimer.Stop()
	}
	if s.doneTimer != nil {
		s.doneTimer.Stop()
	}
	if err := s.player.Close(); err != nil {
		log.Warn("closing audio player", "error", err)
	}
}

func (s *otoSource) SetVolume(level float64) {
	s.player.SetVolume(level)
}
