package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/areawatch/areawatch/agent/internal/scraper"
	"github.com/areawatch/areawatch/pkg/types"
)

// uptimeWindow is the number of recent scrape outcomes tracked for uptime %.
const uptimeWindow = 20

// Result is the derived detector health for one scrape cycle.
type Result struct {
	Timestamp    time.Time
	State        string
	Score        float64
	FPS          float64
	DropPct      float64
	Latency      time.Duration
	DetectionsPM float64 // detections per minute
	UptimePct    float64
	ErrorMessage string // non-empty when the scrape failed
}

// Status returns the camera status for r's state.
func (r *Result) Status() string {
	return CameraStatus(r.State)
}

// Engine keeps counter baselines across scrape cycles and derives detector
// health from the deltas.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	targetFPS float64
	baseline  time.Duration

	prev     *scraper.ScrapeResult
	prevTime time.Time
	history  []bool // scrape outcomes, newest last
	last     *Result
}

// NewEngine returns an Engine that scores fps against targetFPS and latency
// against baseline. Zero disables either factor.
func NewEngine(targetFPS float64, baseline time.Duration) *Engine {
	return &Engine{targetFPS: targetFPS, baseline: baseline}
}

// Process ingests a ScrapeResult and returns the derived health.
//
// now is passed explicitly so callers (and tests) control the clock.
// The first successful scrape only records the baseline and is unknown,
// since no rate can be computed without a delta.
func (e *Engine) Process(res *scraper.ScrapeResult, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	success := res.Err == nil
	e.recordScrape(success)

	out := &Result{Timestamp: now, UptimePct: types.Round2(e.uptimePct())}
	defer func() { e.last = out }()

	if !success {
		slog.Warn("compute: scrape failed, marking unknown", "err", res.Err)
		out.State = StateUnknown
		out.ErrorMessage = res.Err.Error()
		return out
	}

	if e.prev == nil {
		out.State = StateUnknown
		e.prev, e.prevTime = res, now
		return out
	}

	elapsed := now.Sub(e.prevTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1 // clock went backwards
	}

	processed := deltaOf(res.FramesProcessed, e.prev.FramesProcessed)
	dropped := deltaOf(res.FramesDropped, e.prev.FramesDropped)
	detections := deltaOf(res.Detections, e.prev.Detections)

	out.FPS = types.Round2(processed / elapsed)
	if total := processed + dropped; total > 0 {
		out.DropPct = types.Round2(dropped / total * 100)
	}
	out.DetectionsPM = types.Round2(detections / elapsed * 60)
	if res.HasLatency {
		out.Latency = res.Latency
	}

	throughput := 100.0
	if e.targetFPS > 0 {
		throughput = processed / elapsed / e.targetFPS * 100
	}

	score := Compute(Input{
		DropPct:         out.DropPct,
		Latency:         out.Latency,
		BaselineLatency: e.baseline,
		ThroughputPct:   throughput,
		UptimePct:       out.UptimePct,
	})
	out.State = score.State
	out.Score = score.Score

	e.prev, e.prevTime = res, now
	return out
}

// Last returns the most recent Result, or nil before the first Process call.
func (e *Engine) Last() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	return &r
}

func (e *Engine) recordScrape(success bool) {
	if len(e.history) >= uptimeWindow {
		e.history = e.history[1:]
	}
	e.history = append(e.history, success)
}

func (e *Engine) uptimePct() float64 {
	if len(e.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range e.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(e.history)) * 100
}

// deltaOf returns the positive counter delta between current and previous.
// A counter reset (detector restart) yields 0.
func deltaOf(current, previous float64) float64 {
	d := current - previous
	if d < 0 {
		return 0
	}
	return d
}
