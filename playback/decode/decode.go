// Package decode converts raw audio chunk payloads into normalized
// floating-point sample buffers.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/klauspost/compress/gzip"
)

// Default audio format for raw PCM payloads.
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	bytesPerSample    = 2 // 16-bit PCM
)

// Format identifies the wire format of a chunk payload.
type Format int

const (
	// FormatPCM16 is raw 16-bit little-endian PCM at the configured rate.
	FormatPCM16 Format = iota
	// FormatMP3 is a self-describing MP3 container.
	FormatMP3
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatPCM16:
		return "pcm16"
	case FormatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name as used in configuration.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "pcm16", "pcm":
		return FormatPCM16, nil
	case "mp3":
		return FormatMP3, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Decode errors. All decode failures wrap one of these sentinels.
var (
	ErrEmptyPayload  = errors.New("decode: empty payload")
	ErrOddPCMLength  = errors.New("decode: PCM payload not aligned to 16-bit samples")
	ErrBadContainer  = errors.New("decode: malformed compressed container")
	ErrUnknownFormat = errors.New("decode: unknown payload format")
)

// Buffer is a decoded, normalized audio buffer. Samples are interleaved
// float32 values in [-1, 1]. Buffers are immutable once returned.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Decoder converts chunk payloads. It is stateless and safe for concurrent
// use; the configured rate and channel count apply to raw PCM payloads only,
// MP3 containers describe their own format.
type Decoder struct {
	sampleRate int
	channels   int
}

// New returns a Decoder for raw PCM at the given sample rate and channel
// count. Non-positive values fall back to the defaults.
func New(sampleRate, channels int) *Decoder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	return &Decoder{sampleRate: sampleRate, channels: channels}
}

// Decode converts a payload into a normalized sample buffer. Payloads
// carrying a gzip header are inflated first regardless of format.
func (d *Decoder) Decode(payload []byte, format Format) (*Buffer, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	if isGzip(payload) {
		inflated, err := inflate(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadContainer, err)
		}
		payload = inflated
	}

	switch format {
	case FormatPCM16:
		return d.decodePCM16(payload)
	case FormatMP3:
		return d.decodeMP3(payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, format)
	}
}

func (d *Decoder) decodePCM16(payload []byte) (*Buffer, error) {
	if len(payload)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddPCMLength, len(payload))
	}
	samples := pcm16ToFloat32(payload)
	return newBuffer(samples, d.sampleRate, d.channels), nil
}

func (d *Decoder) decodeMP3(payload []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContainer, err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContainer, err)
	}
	// go-mp3 always emits 16-bit little-endian stereo.
	samples := pcm16ToFloat32(pcm)
	return newBuffer(samples, dec.SampleRate(), 2), nil
}

func newBuffer(samples []float32, sampleRate, channels int) *Buffer {
	frames := len(samples) / channels
	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   time.Duration(frames) * time.Second / time.Duration(sampleRate),
	}
}

func pcm16ToFloat32(payload []byte) []float32 {
	samples := make([]float32, len(payload)/bytesPerSample)
	for i := range samples {
		s := int16(payload[2*i]) | int16(payload[2*i+1])<<8
		samples[i] = float32(s) / 32768
	}
	return samples
}

func isGzip(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b
}

func inflate(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
