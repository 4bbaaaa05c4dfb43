// Package validate filters audio chunks that belong to a superseded or
// interrupted generation.
package validate

import (
	"strings"
	"sync"
)

// Reason explains why a chunk was rejected.
type Reason int

const (
	// ReasonAccepted means the chunk matched the active watermark.
	ReasonAccepted Reason = iota
	// ReasonNoWatermark means no watermark is installed; the validator is
	// fail-closed after Reset until a new watermark is set.
	ReasonNoWatermark
	// ReasonMismatch means the transcript did not equal the watermark.
	ReasonMismatch
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonAccepted:
		return "accepted"
	case ReasonNoWatermark:
		return "no watermark installed"
	case ReasonMismatch:
		return "transcript mismatch"
	default:
		return "unknown"
	}
}

// Validator accepts a chunk iff its transcript exactly equals the single
// active watermark. There is no generation counter: text equality alone
// discriminates generations, so two distinct batches sharing identical
// text are indistinguishable. That is a known limitation, kept rather than
// papered over with inferred epochs.
type Validator struct {
	mu        sync.Mutex
	watermark string
	armed     bool
}

// New returns a Validator with no watermark installed. Every chunk is
// rejected until SetExpectedText is called.
func New() *Validator {
	return &Validator{}
}

// SetExpectedText installs a new watermark, implicitly invalidating any
// chunk that does not match it. The watermark is stored verbatim; only the
// incoming transcript is trimmed, so a watermark carrying surrounding
// whitespace never matches.
func (v *Validator) SetExpectedText(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.watermark = text
	v.armed = true
}

// Reset clears the watermark. Subsequent chunks are rejected until a new
// watermark is installed.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.watermark = ""
	v.armed = false
}

// Validate reports whether transcript belongs to the active generation.
// Matching is exact after trimming surrounding whitespace: case- and
// punctuation-sensitive, no fuzzy comparison.
func (v *Validator) Validate(transcript string) (bool, Reason) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.armed {
		return false, ReasonNoWatermark
	}
	if strings.TrimSpace(transcript) != v.watermark {
		return false, ReasonMismatch
	}
	return true, ReasonAccepted
}

// Watermark returns the currently installed watermark and whether one is
// active.
func (v *Validator) Watermark() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.watermark, v.armed
}
