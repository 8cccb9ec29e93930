package compute

import (
	"time"

	"github.com/areawatch/areawatch/pkg/types"
)

// Weight constants for the health score formula.
// They must sum to 1.0.
const (
	weightDrop       = 0.40
	weightLatency    = 0.30
	weightThroughput = 0.20
	weightUptime     = 0.10
)

// State constants returned by the score calculator.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// Input holds the normalised values fed into the score formula.
// All percentage fields are in the range 0–100.
type Input struct {
	// DropPct is the share of frames the detector skipped.
	DropPct float64

	// Latency is the observed inference latency. BaselineLatency is the
	// acceptable one; zero disables the latency penalty.
	Latency         time.Duration
	BaselineLatency time.Duration

	// ThroughputPct is achieved fps as a share of the target fps, capped at 100.
	ThroughputPct float64

	// UptimePct is the share of recent scrapes that returned valid data.
	UptimePct float64
}

// Output is the result of the score calculation.
type Output struct {
	// Score is the composite health score in the range 0–100.
	Score float64

	// State is the health state derived from Score.
	State string

	// The four factor values (each 0–1) used to compute Score.
	DropFactor       float64
	LatencyFactor    float64
	ThroughputFactor float64
	UptimeFactor     float64
}

// Compute calculates the detector health score:
//
//	score = (
//	    (1 - drop_pct/100)      * 0.40  +
//	    (1 - latency_ratio)     * 0.30  +   // latency_ratio = latency/baseline - 1, clamped to [0, 1]
//	    throughput_pct/100      * 0.20  +
//	    uptime_pct/100          * 0.10
//	) * 100
//
// Latency at or under the baseline earns full credit; twice the baseline or
// worse earns none. A detector that was never reachable is unknown.
func Compute(in Input) Output {
	if in.UptimePct == 0 {
		return Output{State: StateUnknown}
	}

	dropFactor := 1 - clamp01(in.DropPct/100)

	latencyFactor := 1.0
	if in.BaselineLatency > 0 && in.Latency > 0 {
		latencyFactor = 1 - clamp01(float64(in.Latency)/float64(in.BaselineLatency)-1)
	}

	throughputFactor := clamp01(in.ThroughputPct / 100)
	uptimeFactor := clamp01(in.UptimePct / 100)

	score := (dropFactor*weightDrop +
		latencyFactor*weightLatency +
		throughputFactor*weightThroughput +
		uptimeFactor*weightUptime) * 100

	return Output{
		Score:            types.Round2(score),
		State:            stateFromScore(score),
		DropFactor:       dropFactor,
		LatencyFactor:    latencyFactor,
		ThroughputFactor: throughputFactor,
		UptimeFactor:     uptimeFactor,
	}
}

// CameraStatus maps a health state to the camera status reported to the server.
func CameraStatus(state string) string {
	switch state {
	case StateHealthy:
		return types.CameraOnline
	case StateDegraded:
		return types.CameraDegraded
	default:
		return types.CameraOffline
	}
}

// stateFromScore maps a numeric score to a named health state.
func stateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
