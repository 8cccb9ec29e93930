package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Detector metric names we track.
const (
	metricFramesProcessed = "detector_frames_processed_total"
	metricFramesDropped   = "detector_frames_dropped_total"
	metricDetections      = "detector_detections_total"

	// Summary (p95 quantile used), gauge, or histogram (mean used), in seconds.
	metricLatency = "detector_inference_latency_seconds"
)

const latencyQuantile = 0.95

type detectorScraper struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// Scrape fetches the detector's metrics endpoint. Connection and parse
// failures are reported in ScrapeResult.Err, never as the returned error.
func (s *detectorScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := &ScrapeResult{ScrapedAt: s.now().UTC()}

	mfs, err := fetchMetrics(ctx, s.client, s.endpoint)
	if err != nil {
		res.Err = fmt.Errorf("detector scrape %s: %w", s.endpoint, err)
		slog.Warn("scraper: detector fetch failed", "endpoint", s.endpoint, "err", err)
		return res, nil
	}

	res.FramesProcessed = sumFamily(mfs[metricFramesProcessed])
	res.FramesDropped = sumFamily(mfs[metricFramesDropped])
	res.Detections = sumFamily(mfs[metricDetections])
	if secs, ok := latencySeconds(mfs[metricLatency]); ok {
		res.Latency = time.Duration(secs * float64(time.Second))
		res.HasLatency = true
	}
	return res, nil
}

// latencySeconds reads the first series of mf. Summaries give their p95
// quantile, gauges their value and histograms their mean.
func latencySeconds(mf *dto.MetricFamily) (float64, bool) {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0, false
	}
	m := mf.GetMetric()[0]
	switch {
	case m.Summary != nil:
		for _, q := range m.Summary.GetQuantile() {
			if q.GetQuantile() == latencyQuantile && !math.IsNaN(q.GetValue()) {
				return q.GetValue(), true
			}
		}
		if n := m.Summary.GetSampleCount(); n > 0 {
			return m.Summary.GetSampleSum() / float64(n), true
		}
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Histogram != nil:
		if n := m.Histogram.GetSampleCount(); n > 0 {
			return m.Histogram.GetSampleSum() / float64(n), true
		}
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	}
	return 0, false
}
