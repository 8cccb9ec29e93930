package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/activity"
	"github.com/areawatch/areawatch/server/internal/alerts"
	"github.com/areawatch/areawatch/server/internal/analytics"
	"github.com/areawatch/areawatch/server/internal/cameras"
	"github.com/areawatch/areawatch/server/internal/charts"
	"github.com/areawatch/areawatch/server/internal/cost"
	"github.com/areawatch/areawatch/server/internal/health"
	"github.com/areawatch/areawatch/server/internal/mailer"
	"github.com/areawatch/areawatch/server/internal/reports"
	"github.com/areawatch/areawatch/server/internal/scheduler"
	"github.com/areawatch/areawatch/server/internal/snapshots"
	"github.com/areawatch/areawatch/server/internal/store"
	"github.com/areawatch/areawatch/server/internal/users"
)

// maxBody caps JSON request bodies.
const maxBody = 1 << 20

// errBadRequest marks malformed query parameters and bodies.
var errBadRequest = errors.New("bad request")

// Deps are the services behind the API. All fields are required.
type Deps struct {
	Store      *store.Store
	Alerts     *alerts.Engine
	Cost       *cost.Store
	Reports    *reports.Service
	Dispatcher *reports.Dispatcher
	Scheduler  *scheduler.Scheduler
	Mailer     *mailer.Mailer
	Snapshots  *snapshots.Manager
	Activity   *activity.Feed
	Health     *health.Monitor
	Cameras    *cameras.Store
	Users      *users.Store

	// Version is reported by /api/info.
	Version string
}

// Handler serves the /api routes.
type Handler struct {
	Deps
	router *mux.Router
	loc    *time.Location

	// now is replaced in tests.
	now func() time.Time
}

// New creates a Handler and registers every route on a fresh router.
func New(d Deps) *Handler {
	h := &Handler{
		Deps:   d,
		router: mux.NewRouter(),
		loc:    d.Store.Log().Location(),
		now:    time.Now,
	}
	h.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	h.router.NotFoundHandler = http.HandlerFunc(notFound)
	h.routes()
	return h
}

// Router exposes the router so the caller can mount WebSocket, metrics and
// UI routes next to the API.
func (h *Handler) Router() *mux.Router { return h.router }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	r := h.router.PathPrefix("/api").Subrouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/detections", h.appendDetections).Methods(http.MethodPost)
	r.HandleFunc("/detections/summary", h.detectionSummary).Methods(http.MethodGet)
	r.HandleFunc("/detections/recent", h.recentDetections).Methods(http.MethodGet)
	r.HandleFunc("/detections/today", h.todayDetections).Methods(http.MethodGet)
	r.HandleFunc("/detections/log", h.downloadLog).Methods(http.MethodGet)

	r.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts/recent", h.recentAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts/stats", h.alertStats).Methods(http.MethodGet)
	r.HandleFunc("/alerts/active", h.activeAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts/send-email", h.sendViolationEmail).Methods(http.MethodPost)

	r.HandleFunc("/analytics/kpis/{kpi}", h.kpi).Methods(http.MethodGet)
	r.HandleFunc("/analytics/executive-summary", h.executiveSummary).Methods(http.MethodGet)
	r.HandleFunc("/analytics/trend-analysis", h.trendAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/analytics/dashboard", h.dashboard).Methods(http.MethodGet)
	r.HandleFunc("/analytics/predictive/forecast", h.forecast).Methods(http.MethodGet)
	r.HandleFunc("/analytics/predictive/trend", h.predictiveTrend).Methods(http.MethodGet)
	r.HandleFunc("/analytics/anomalies/detect", h.detectAnomalies).Methods(http.MethodPost)
	r.HandleFunc("/analytics/anomalies/behavioral", h.behavioral).Methods(http.MethodPost)
	r.HandleFunc("/analytics/correlation", h.correlation).Methods(http.MethodGet)
	r.HandleFunc("/analytics/percentiles", h.percentiles).Methods(http.MethodGet)
	r.HandleFunc("/analytics/stats", h.analyticsStats).Methods(http.MethodGet)
	r.HandleFunc("/analytics/charts/{name}", h.chart).Methods(http.MethodGet)

	r.HandleFunc("/reports/daily", h.dailyReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/weekly", h.weeklyReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/monthly", h.monthlyReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/compliance/{type}", h.complianceReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/send-email", h.sendReportEmail).Methods(http.MethodPost)

	r.HandleFunc("/schedules", h.listSchedules).Methods(http.MethodGet)
	r.HandleFunc("/schedules", h.createSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{id}", h.deleteSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/schedules/{id}/toggle", h.toggleSchedule).Methods(http.MethodPatch)
	r.HandleFunc("/schedules/{id}/execute", h.executeSchedule).Methods(http.MethodPost)

	r.HandleFunc("/cost/config", h.costConfig).Methods(http.MethodGet)
	r.HandleFunc("/cost/config", h.updateCostConfig).Methods(http.MethodPut)
	r.HandleFunc("/cost/operational", h.operationalCosts).Methods(http.MethodGet)
	r.HandleFunc("/cost/roi", h.roi).Methods(http.MethodGet)
	r.HandleFunc("/cost/resource-utilization", h.utilization).Methods(http.MethodGet)
	r.HandleFunc("/cost/complete-analysis", h.completeAnalysis).Methods(http.MethodGet)

	r.HandleFunc("/email/test", h.emailTest).Methods(http.MethodGet)
	r.HandleFunc("/email/config", h.emailConfig).Methods(http.MethodGet)
	r.HandleFunc("/email/send-report", h.emailSendReport).Methods(http.MethodPost)
	r.HandleFunc("/email/schedule-report", h.emailScheduleReport).Methods(http.MethodPost)
	r.HandleFunc("/email/schedules", h.listSchedules).Methods(http.MethodGet)
	r.HandleFunc("/email/schedules/{id}", h.deleteSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/email/templates", h.emailTemplates).Methods(http.MethodGet)

	r.HandleFunc("/snapshots", h.listSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/snapshots-count", h.snapshotCount).Methods(http.MethodGet)
	r.HandleFunc("/snapshots/{name}", h.getSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/snapshots/{name}", h.deleteSnapshot).Methods(http.MethodDelete)
	r.HandleFunc("/snapshots/{name}/thumbnail", h.thumbnail).Methods(http.MethodGet)

	r.HandleFunc("/activity/feed", h.activityFeed).Methods(http.MethodGet)
	r.HandleFunc("/activity/sync", h.syncActivity).Methods(http.MethodPost)
	r.HandleFunc("/activity/detections", h.detectionActivity).Methods(http.MethodGet)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", h.healthDetailed).Methods(http.MethodGet)
	r.HandleFunc("/health/cameras", h.cameraHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/uptime", h.uptime).Methods(http.MethodGet)
	r.HandleFunc("/info", h.info).Methods(http.MethodGet)

	r.HandleFunc("/cameras", h.listCameras).Methods(http.MethodGet)
	r.HandleFunc("/cameras", h.createCamera).Methods(http.MethodPost)
	r.HandleFunc("/cameras/{id}", h.getCamera).Methods(http.MethodGet)
	r.HandleFunc("/cameras/{id}", h.updateCamera).Methods(http.MethodPut)
	r.HandleFunc("/cameras/{id}", h.deleteCamera).Methods(http.MethodDelete)

	r.HandleFunc("/users/activity", h.userActivity).Methods(http.MethodGet)
	r.HandleFunc("/users/activity", h.logUserActivity).Methods(http.MethodPost)
	r.HandleFunc("/users/stats", h.userStats).Methods(http.MethodGet)
	r.HandleFunc("/users/sessions", h.sessions).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/auth/signup", h.signup).Methods(http.MethodPost)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	jsonErr(w, http.StatusNotFound, "not found")
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeErr maps err to a status code and writes the error envelope.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		slog.Error("api: request failed", "path", r.URL.Path, "err", err)
	}
	jsonErr(w, code, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, cameras.ErrInvalid),
		errors.Is(err, scheduler.ErrInvalid),
		errors.Is(err, users.ErrInvalid),
		errors.Is(err, cost.ErrInvalid),
		errors.Is(err, snapshots.ErrInvalidName),
		errors.Is(err, reports.ErrUnknownType),
		errors.Is(err, reports.ErrInvalidDate),
		errors.Is(err, analytics.ErrUnknown),
		errors.Is(err, analytics.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, cameras.ErrNotFound),
		errors.Is(err, scheduler.ErrNotFound),
		errors.Is(err, snapshots.ErrNotFound),
		errors.Is(err, users.ErrNoSession),
		errors.Is(err, reports.ErrNoData),
		errors.Is(err, cost.ErrNoData),
		errors.Is(err, charts.ErrNoData),
		errors.Is(err, charts.ErrUnknownChart):
		return http.StatusNotFound
	case errors.Is(err, cameras.ErrDuplicateName),
		errors.Is(err, users.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, analytics.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON body into v. An empty body leaves v unchanged
// unless required is set.
func decodeBody(r *http.Request, v any, required bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	switch {
	case errors.Is(err, io.EOF) && !required:
		return nil
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: request body is required", errBadRequest)
	case err != nil:
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, key)
	}
	return n, nil
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", errBadRequest, key)
	}
	return f, nil
}

// queryDate parses key as YYYY-MM-DD or RFC3339. A missing value is zero.
// With endOfDay set a bare date covers the whole day.
func (h *Handler) queryDate(r *http.Request, key string, endOfDay bool) (time.Time, error) {
	s := strings.TrimSpace(r.URL.Query().Get(key))
	if s == "" {
		return time.Time{}, nil
	}
	t, err := reports.ParseDate(s, h.loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay && len(s) == len(time.DateOnly) {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

// window reads the start_date/end_date filter.
func (h *Handler) window(r *http.Request) (analytics.Window, error) {
	from, err := h.queryDate(r, "start_date", false)
	if err != nil {
		return analytics.Window{}, err
	}
	to, err := h.queryDate(r, "end_date", true)
	if err != nil {
		return analytics.Window{}, err
	}
	return analytics.Window{From: from, To: to}, nil
}

// rows returns the detections inside the request's date filter.
func (h *Handler) rows(r *http.Request) ([]types.Detection, error) {
	w, err := h.window(r)
	if err != nil {
		return nil, err
	}
	return w.Apply(h.Store.All()), nil
}

// periodLabel describes the request's date filter.
func periodLabel(r *http.Request) string {
	q := r.URL.Query()
	from, to := q.Get("start_date"), q.Get("end_date")
	if from == "" {
		from = "Beginning"
	}
	if to == "" {
		to = "Now"
	}
	return from + " to " + to
}

// clientIP is the remote host without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func success(msg string, extra map[string]any) map[string]any {
	out := map[string]any{"success": true, "message": msg}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
