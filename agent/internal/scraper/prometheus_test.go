package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/areawatch/areawatch/agent/internal/config"
)

// detectorMetrics is a realistic detector /metrics output.
const detectorMetrics = `
# HELP detector_frames_processed_total Frames run through the model.
# TYPE detector_frames_processed_total counter
detector_frames_processed_total{camera="gate"} 12000
# HELP detector_frames_dropped_total Frames skipped because inference fell behind.
# TYPE detector_frames_dropped_total counter
detector_frames_dropped_total{camera="gate",reason="backlog"} 150
detector_frames_dropped_total{camera="gate",reason="decode"} 50
# HELP detector_detections_total Objects detected.
# TYPE detector_detections_total counter
detector_detections_total{class="person"} 340
detector_detections_total{class="car"} 60
# HELP detector_inference_latency_seconds Inference latency.
# TYPE detector_inference_latency_seconds summary
detector_inference_latency_seconds{quantile="0.5"} 0.031
detector_inference_latency_seconds{quantile="0.95"} 0.048
detector_inference_latency_seconds_sum 396
detector_inference_latency_seconds_count 12000
`

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newScraper(srv *httptest.Server, endpoint string) *detectorScraper {
	return &detectorScraper{endpoint: endpoint, client: srv.Client(), now: time.Now}
}

func TestDetectorScraper_Scrape(t *testing.T) {
	srv := serve(t, detectorMetrics)
	res, err := newScraper(srv, srv.URL).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if res.Err != nil {
		t.Fatalf("res.Err = %v", res.Err)
	}
	if res.FramesProcessed != 12000 {
		t.Errorf("FramesProcessed = %v, want 12000", res.FramesProcessed)
	}
	if res.FramesDropped != 200 {
		t.Errorf("FramesDropped = %v, want 200 (summed over reasons)", res.FramesDropped)
	}
	if res.Detections != 400 {
		t.Errorf("Detections = %v, want 400", res.Detections)
	}
	if d := res.Latency - 48*time.Millisecond; !res.HasLatency || d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("Latency = %v (has %v), want 48ms from p95", res.Latency, res.HasLatency)
	}
}

func TestDetectorScraper_LatencyForms(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
		has  bool
	}{
		{"gauge", "# TYPE detector_inference_latency_seconds gauge\ndetector_inference_latency_seconds 0.025\n", 25 * time.Millisecond, true},
		{"histogram mean", `# TYPE detector_inference_latency_seconds histogram
detector_inference_latency_seconds_bucket{le="0.05"} 3
detector_inference_latency_seconds_bucket{le="+Inf"} 4
detector_inference_latency_seconds_sum 0.2
detector_inference_latency_seconds_count 4
`, 50 * time.Millisecond, true},
		{"absent", "detector_frames_processed_total 10\n", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.body)
			res, _ := newScraper(srv, srv.URL).Scrape(context.Background())
			if res.Err != nil {
				t.Fatalf("res.Err = %v", res.Err)
			}
			if res.HasLatency != tc.has {
				t.Fatalf("HasLatency = %v, want %v", res.HasLatency, tc.has)
			}
			// Float seconds to Duration can be off by a nanosecond.
			if d := res.Latency - tc.want; d < -time.Microsecond || d > time.Microsecond {
				t.Errorf("Latency = %v, want %v", res.Latency, tc.want)
			}
		})
	}
}

func TestDetectorScraper_Failures(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	for name, s := range map[string]*detectorScraper{
		"status":      newScraper(bad, bad.URL),
		"unreachable": {endpoint: "http://127.0.0.1:1", client: &http.Client{}, now: time.Now},
	} {
		res, err := s.Scrape(context.Background())
		if err != nil {
			t.Fatalf("%s: Scrape() should not return err, got: %v", name, err)
		}
		if res.Err == nil {
			t.Errorf("%s: res.Err should be set", name)
		}
	}
}

func TestAuthRoundTripper(t *testing.T) {
	t.Setenv("DET_KEY", "k1")
	t.Setenv("DET_TOKEN", "t1")
	t.Setenv("DET_PASS", "p1")

	tests := []struct {
		auth  config.AuthConfig
		check func(r *http.Request) bool
	}{
		{config.AuthConfig{Mode: "apikey", Header: "X-Detector-Key", KeyEnv: "DET_KEY"},
			func(r *http.Request) bool { return r.Header.Get("X-Detector-Key") == "k1" }},
		{config.AuthConfig{Mode: "bearer", TokenEnv: "DET_TOKEN"},
			func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer t1" }},
		{config.AuthConfig{Mode: "basic", Username: "ops", PasswordEnv: "DET_PASS"},
			func(r *http.Request) bool { u, p, ok := r.BasicAuth(); return ok && u == "ops" && p == "p1" }},
		{config.AuthConfig{Mode: "none"},
			func(r *http.Request) bool { return r.Header.Get("Authorization") == "" }},
	}
	for _, tc := range tests {
		t.Run(tc.auth.Mode, func(t *testing.T) {
			var ok atomic.Bool
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ok.Store(tc.check(r))
				_, _ = w.Write([]byte(detectorMetrics))
			}))
			defer srv.Close()

			s, err := New(config.DetectorConfig{MetricsEndpoint: srv.URL, MetricsAuth: tc.auth})
			if err != nil {
				t.Fatal(err)
			}
			res, _ := s.Scrape(context.Background())
			if res.Err != nil {
				t.Fatalf("res.Err = %v", res.Err)
			}
			if !ok.Load() {
				t.Error("request did not carry the expected credentials")
			}
		})
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(config.DetectorConfig{}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := New(config.DetectorConfig{
		MetricsEndpoint: "http://localhost",
		MetricsAuth:     config.AuthConfig{Mode: "mtls", CertFile: "missing.pem", KeyFile: "missing.key"},
	}); err == nil {
		t.Fatal("expected error for missing client cert")
	}
}
