//go:build nocgo
// +build nocgo

package schedule

import (
	"errors"

	"github.com/streamtts/gapless/playback/decode"
)

// Stub implementations for static analysis and builds without CGO

// OtoOutput stub for nocgo builds.
type OtoOutput struct {
	sampleRate int
	channels   int
}

// NewOtoOutput returns an error; real audio output needs a cgo build.
func NewOtoOutput(sampleRate, channels int) (*OtoOutput, error) {
	return nil, errors.New("audio output not available in nocgo build")
}

func (o *OtoOutput) NewSource(buf *decode.Buffer) (Source, error) {
	return nil, errors.New("audio output not available in nocgo build")
}

func (o *OtoOutput) Close() error {
	return nil
}
