package playback

import (
	"fmt"
	"time"

	"github.com/streamtts/gapless/playback/schedule"
)

// Health score thresholds and penalties.
const (
	healthyScoreFloor = 70

	penaltyQueuePressure = 25
	penaltyLowLookahead  = 20
	penaltyStall         = 35
	penaltyDrops         = 15

	// lowLookaheadFloor is the buffered lookahead below which an underrun
	// becomes likely while playing.
	lowLookaheadFloor = 50 * time.Millisecond
)

// Health is a derived, read-only view of buffer health. It is computed on
// demand and never stored.
type Health struct {
	IsHealthy   bool
	HealthScore int
	Issues      []string
}

// computeHealth scores the pipeline from a scheduler snapshot and the
// sequence buffer's pending depth.
func computeHealth(cfg Config, snap schedule.Snapshot, pendingDepth int, drops uint64) Health {
	score := 100
	var issues []string

	if snap.QueueDepth >= cfg.QueueCapacity*8/10 {
		score -= penaltyQueuePressure
		issues = append(issues, fmt.Sprintf("pending queue near capacity (%d/%d)",
			snap.QueueDepth, cfg.QueueCapacity))
	}
	if snap.ScheduledSources > 0 && snap.Lookahead < lowLookaheadFloor {
		score -= penaltyLowLookahead
		issues = append(issues, fmt.Sprintf("low scheduling lookahead (%v)", snap.Lookahead))
	}
	if pendingDepth >= cfg.StallDepth {
		score -= penaltyStall
		issues = append(issues, fmt.Sprintf("possible sequence stall: %d chunks waiting on a missing index",
			pendingDepth))
	}
	if drops > 0 {
		score -= penaltyDrops
		issues = append(issues, fmt.Sprintf("%d buffers dropped on overflow", drops))
	}

	if score < 0 {
		score = 0
	}
	return Health{
		IsHealthy:   score >= healthyScoreFloor,
		HealthScore: score,
		Issues:      issues,
	}
}
