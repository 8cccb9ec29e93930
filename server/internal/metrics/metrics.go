package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/areawatch/areawatch/pkg/types"
)

const namespace = "areawatch"

// Metrics holds the server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	detections *prometheus.CounterVec
	wsClients  *prometheus.GaugeVec
	alerts     *prometheus.CounterVec
	reports    *prometheus.CounterVec
	emails     *prometheus.CounterVec
	pruned     prometheus.Counter
	requests   *prometheus.CounterVec
}

// New creates the registry with process and Go runtime collectors attached.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_ingested_total",
			Help:      "Detections seen at each ingest stage (grpc receiver, log cache), by violation flag.",
		}, []string{"source", "violation"}),
		wsClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients per stream.",
		}, []string{"stream"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alerts fired or resolved.",
		}, []string{"state"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_generated_total",
			Help:      "Reports written to disk, by type.",
		}, []string{"type"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Email send attempts, by kind and result status.",
		}, []string{"kind", "status"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pruned_total",
			Help:      "Snapshot files removed by retention.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route template and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.detections, m.wsClients, m.alerts, m.reports, m.emails, m.pruned, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackLog exports the cached row count and the number of log resets.
func (m *Metrics) TrackLog(rows func() int, resets func() uint64) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_rows",
			Help:      "Detection rows held in the cache.",
		}, func() float64 { return float64(rows()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_resets_total",
			Help:      "Times the detection log shrank or was replaced and was re-read.",
		}, func() float64 { return float64(resets()) }),
	)
}

// ObserveDetections counts a batch seen at stage: "grpc" when the receiver
// accepts it, "log" when it reaches the cache by any path.
func (m *Metrics) ObserveDetections(source string, ds []types.Detection) {
	var yes, no int
	for _, d := range ds {
		if d.Violation {
			yes++
		} else {
			no++
		}
	}
	if yes > 0 {
		m.detections.WithLabelValues(source, "yes").Add(float64(yes))
	}
	if no > 0 {
		m.detections.WithLabelValues(source, "no").Add(float64(no))
	}
}

// SetClients records the client count of one WebSocket stream.
func (m *Metrics) SetClients(stream string, n int) {
	m.wsClients.WithLabelValues(stream).Set(float64(n))
}

// AlertTransition counts one alert state change.
func (m *Metrics) AlertTransition(state string) {
	m.alerts.WithLabelValues(state).Inc()
}

// ReportGenerated counts one saved report.
func (m *Metrics) ReportGenerated(kind string) {
	m.reports.WithLabelValues(kind).Inc()
}

// EmailResult counts one send attempt.
func (m *Metrics) EmailResult(kind, status string) {
	m.emails.WithLabelValues(kind, status).Inc()
}

// SnapshotsPruned adds n removed files.
func (m *Metrics) SnapshotsPruned(n int) {
	m.pruned.Add(float64(n))
}

// Middleware counts requests by mux route template. Requests that matched no
// route are counted under "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.requests.WithLabelValues(route, strconv.Itoa(sw.code)).Inc()
	})
}

// statusWriter records the response code. It passes Hijack through so
// WebSocket upgrades keep working behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.code = http.StatusSwitchingProtocols
	return h.Hijack()
}
