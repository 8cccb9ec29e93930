package compute

import (
	"errors"
	"testing"
	"time"

	"github.com/areawatch/areawatch/agent/internal/scraper"
	"github.com/areawatch/areawatch/pkg/types"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// tick returns baseTime advanced by n seconds.
func tick(n int) time.Time {
	return baseTime.Add(time.Duration(n) * time.Second)
}

func scrape(processed, dropped, detections float64) *scraper.ScrapeResult {
	return &scraper.ScrapeResult{
		ScrapedAt:       baseTime,
		FramesProcessed: processed,
		FramesDropped:   dropped,
		Detections:      detections,
	}
}

func failed() *scraper.ScrapeResult {
	return &scraper.ScrapeResult{ScrapedAt: baseTime, Err: errors.New("connection refused")}
}

func TestEngine_FirstScrape_ReturnsUnknown(t *testing.T) {
	e := NewEngine(20, 0)
	out := e.Process(scrape(1000, 0, 10), tick(0))
	if out.State != StateUnknown {
		t.Errorf("first scrape State = %q, want %q", out.State, StateUnknown)
	}
	if out.Status() != types.CameraOffline {
		t.Errorf("Status = %q, want offline", out.Status())
	}
}

func TestEngine_SecondScrape_ComputesRates(t *testing.T) {
	e := NewEngine(20, 0)
	e.Process(scrape(12000, 100, 400), tick(0))

	// 200 frames in 10s at a 20fps target, 30 detections.
	out := e.Process(scrape(12200, 100, 430), tick(10))
	if out.FPS != 20 {
		t.Errorf("FPS = %v, want 20", out.FPS)
	}
	if out.DropPct != 0 {
		t.Errorf("DropPct = %v, want 0", out.DropPct)
	}
	if out.DetectionsPM != 180 {
		t.Errorf("DetectionsPM = %v, want 180", out.DetectionsPM)
	}
	if out.State != StateHealthy || !almostEqual(out.Score, 100, 0.01) {
		t.Errorf("State = %q Score = %v, want healthy 100", out.State, out.Score)
	}
	if out.Status() != types.CameraOnline {
		t.Errorf("Status = %q, want online", out.Status())
	}
}

func TestEngine_Drops_Degrade(t *testing.T) {
	e := NewEngine(20, 0)
	e.Process(scrape(0, 0, 0), tick(0))

	// 100 processed + 100 dropped in 10s: 10fps (50% of target), 50% drops.
	// 0.5*0.4 + 0.3 + 0.5*0.2 + 0.1 = 0.70
	out := e.Process(scrape(100, 100, 0), tick(10))
	if out.DropPct != 50 || out.FPS != 10 {
		t.Errorf("DropPct = %v FPS = %v, want 50 and 10", out.DropPct, out.FPS)
	}
	if out.State != StateDegraded || !almostEqual(out.Score, 70, 0.01) {
		t.Errorf("State = %q Score = %v, want degraded 70", out.State, out.Score)
	}
	if out.Status() != types.CameraDegraded {
		t.Errorf("Status = %q, want degraded", out.Status())
	}
}

func TestEngine_LatencyPenalty(t *testing.T) {
	e := NewEngine(20, 50*time.Millisecond)
	e.Process(scrape(0, 0, 0), tick(0))

	res := scrape(200, 0, 0)
	res.Latency, res.HasLatency = 100*time.Millisecond, true
	out := e.Process(res, tick(10))
	if out.Latency != 100*time.Millisecond {
		t.Errorf("Latency = %v", out.Latency)
	}
	// Twice the baseline loses the whole latency weight: 100 - 30.
	if !almostEqual(out.Score, 70, 0.01) {
		t.Errorf("Score = %v, want 70", out.Score)
	}
}

func TestEngine_ScrapeFailure(t *testing.T) {
	e := NewEngine(20, 0)
	e.Process(scrape(0, 0, 0), tick(0))
	out := e.Process(failed(), tick(10))
	if out.State != StateUnknown {
		t.Errorf("State = %q, want unknown", out.State)
	}
	if out.ErrorMessage == "" {
		t.Error("ErrorMessage should be set")
	}
	if out.UptimePct != 50 {
		t.Errorf("UptimePct = %v, want 50", out.UptimePct)
	}

	// The baseline survives the failure: 400 frames over 20s.
	out = e.Process(scrape(400, 0, 0), tick(20))
	if out.FPS != 20 {
		t.Errorf("FPS after failure = %v, want 20", out.FPS)
	}
}

func TestEngine_CounterReset(t *testing.T) {
	e := NewEngine(20, 0)
	e.Process(scrape(5000, 10, 50), tick(0))
	out := e.Process(scrape(100, 0, 5), tick(10))
	if out.FPS != 0 || out.DropPct != 0 || out.DetectionsPM != 0 {
		t.Errorf("after reset: FPS %v DropPct %v DetectionsPM %v, want zeros", out.FPS, out.DropPct, out.DetectionsPM)
	}
}

func TestEngine_UptimeWindow(t *testing.T) {
	e := NewEngine(0, 0)
	for i := 0; i < uptimeWindow; i++ {
		e.Process(failed(), tick(i))
	}
	for i := 0; i < uptimeWindow/2; i++ {
		e.Process(scrape(float64(i), 0, 0), tick(uptimeWindow+i))
	}
	if got := e.Last().UptimePct; got != 50 {
		t.Errorf("UptimePct = %v, want 50 over the last %d scrapes", got, uptimeWindow)
	}
}

func TestEngine_Last(t *testing.T) {
	e := NewEngine(20, 0)
	if e.Last() != nil {
		t.Fatal("Last before Process should be nil")
	}
	e.Process(scrape(0, 0, 0), tick(0))
	last := e.Last()
	last.State = "mutated"
	if e.Last().State != StateUnknown {
		t.Error("Last should return a copy")
	}
}
