package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/activity"
	"github.com/areawatch/areawatch/server/internal/alerts"
	"github.com/areawatch/areawatch/server/internal/cameras"
	"github.com/areawatch/areawatch/server/internal/config"
	"github.com/areawatch/areawatch/server/internal/cost"
	"github.com/areawatch/areawatch/server/internal/detections"
	"github.com/areawatch/areawatch/server/internal/health"
	"github.com/areawatch/areawatch/server/internal/mailer"
	"github.com/areawatch/areawatch/server/internal/reports"
	"github.com/areawatch/areawatch/server/internal/scheduler"
	"github.com/areawatch/areawatch/server/internal/snapshots"
	"github.com/areawatch/areawatch/server/internal/store"
	"github.com/areawatch/areawatch/server/internal/users"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

// --- test helpers -----------------------------------------------------------

type testEnv struct {
	h      *Handler
	frames string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	log, err := detections.Open(filepath.Join(dir, "detection_log.csv"), time.Local)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	st := store.New(log, time.Second)

	eng, err := alerts.New(config.AlertsConfig{})
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	costs, err := cost.Open(filepath.Join(dir, "cost_config.json"))
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	m := mailer.New(config.EmailConfig{})
	svc := reports.NewService(st, filepath.Join(dir, "reports"), time.Local)
	disp := reports.NewDispatcher(svc, m)
	sched, err := scheduler.New(filepath.Join(dir, "report_schedules.json"), disp, time.Local)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	frames := filepath.Join(dir, "frames")
	if err := os.MkdirAll(frames, 0o755); err != nil {
		t.Fatal(err)
	}
	cams, err := cameras.Open(filepath.Join(dir, "cameras.json"))
	if err != nil {
		t.Fatalf("cameras: %v", err)
	}
	us, err := users.Open(filepath.Join(dir, "users.db"))
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	t.Cleanup(func() { us.Close() })

	h := New(Deps{
		Store:      st,
		Alerts:     eng,
		Cost:       costs,
		Reports:    svc,
		Dispatcher: disp,
		Scheduler:  sched,
		Mailer:     m,
		Snapshots:  snapshots.New(frames, snapshots.Retention{}, 320),
		Activity:   activity.New(),
		Health:     health.New(cams),
		Cameras:    cams,
		Users:      us,
		Version:    "test",
	})
	h.now = func() time.Time { return baseTime }
	return &testEnv{h: h, frames: frames}
}

func (e *testEnv) seed(t *testing.T, ds ...types.Detection) {
	t.Helper()
	if err := e.h.Store.Append(ds...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func det(minsAgo int, class string, conf float64, violation bool) types.Detection {
	return types.Detection{
		Timestamp:  baseTime.Add(-time.Duration(minsAgo) * time.Minute),
		Class:      class,
		Confidence: conf,
		Violation:  violation,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, code, rr.Body.String())
	}
}

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.NRGBA{R: 255, A: 255})
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save image: %v", err)
	}
}

// --- routing ----------------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/detections/summary"},
		{http.MethodDelete, "/api/cost/config"},
		{http.MethodGet, "/api/auth/login"},
		{http.MethodPut, "/api/schedules"},
	} {
		rr := do(t, e.h, tc.method, tc.path, "")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", tc.method, tc.path, rr.Code)
			continue
		}
		var resp map[string]string
		decode(t, rr, &resp)
		if resp["error"] != "method not allowed" {
			t.Errorf("%s %s: error = %q", tc.method, tc.path, resp["error"])
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodGet, "/api/nope", "")
	wantStatus(t, rr, http.StatusNotFound)
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
}

// --- detections -------------------------------------------------------------

func TestAppendThenSummary(t *testing.T) {
	e := newEnv(t)
	body := `[
		{"timestamp":"2026-03-10T11:00:00Z","class":"person","confidence":0.9,"violation":true},
		{"class":"car","confidence":0.5}
	]`
	rr := do(t, e.h, http.MethodPost, "/api/detections", body)
	wantStatus(t, rr, http.StatusCreated)
	var ack AppendResponse
	decode(t, rr, &ack)
	if ack.Accepted != 2 {
		t.Fatalf("accepted: got %d, want 2", ack.Accepted)
	}

	rr = do(t, e.h, http.MethodGet, "/api/detections/summary", "")
	wantStatus(t, rr, http.StatusOK)
	var sum map[string]interface{}
	decode(t, rr, &sum)
	if sum["total_detections"].(float64) != 2 || sum["total_violations"].(float64) != 1 {
		t.Errorf("summary: %v", sum)
	}
	if sum["avg_confidence"].(float64) != 70 {
		t.Errorf("avg_confidence: got %v, want 70", sum["avg_confidence"])
	}
}

func TestAppend_WrappedObject(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodPost, "/api/detections", `{"detections":[{"class":"person","confidence":0.8}]}`)
	wantStatus(t, rr, http.StatusCreated)
	if e.h.Store.Len() != 1 {
		t.Errorf("store len: got %d, want 1", e.h.Store.Len())
	}
}

func TestAppend_RejectsWholeBatch(t *testing.T) {
	e := newEnv(t)
	cases := map[string]string{
		"bad confidence": `[{"class":"person","confidence":0.8},{"class":"car","confidence":1.5}]`,
		"missing class":  `[{"confidence":0.8}]`,
		"empty":          `[]`,
		"not json":       `nope`,
		"no body":        ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := do(t, e.h, http.MethodPost, "/api/detections", body)
			wantStatus(t, rr, http.StatusBadRequest)
		})
	}
	if e.h.Store.Len() != 0 {
		t.Errorf("store len: got %d, want 0", e.h.Store.Len())
	}
}

func TestRecentDetections_NewestFirst(t *testing.T) {
	e := newEnv(t)
	e.seed(t, det(30, "car", 0.6, false), det(10, "person", 0.9, true), det(20, "dog", 0.7, false))

	rr := do(t, e.h, http.MethodGet, "/api/detections/recent?limit=2", "")
	wantStatus(t, rr, http.StatusOK)
	var resp RecentDetectionsResponse
	decode(t, rr, &resp)
	if resp.TotalCount != 3 || resp.DisplayedCount != 2 {
		t.Fatalf("counts: total %d displayed %d", resp.TotalCount, resp.DisplayedCount)
	}
	if resp.Data[0].Class != "person" || resp.Data[1].Class != "dog" {
		t.Errorf("order: got %s, %s", resp.Data[0].Class, resp.Data[1].Class)
	}
	if resp.Data[0].Violation != "Yes" {
		t.Errorf("violation column: got %q", resp.Data[0].Violation)
	}
}

func TestRecentDetections_BadLimit(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodGet, "/api/detections/recent?limit=ten", "")
	wantStatus(t, rr, http.StatusBadRequest)
}

func TestDownloadLog(t *testing.T) {
	e := newEnv(t)
	e.seed(t, det(5, "person", 0.9, true))
	rr := do(t, e.h, http.MethodGet, "/api/detections/log", "")
	wantStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	if !strings.HasPrefix(body, "Timestamp,Class,Confidence,Restricted Area Violation") {
		t.Errorf("missing header: %q", body)
	}
	if !strings.Contains(body, "person") {
		t.Errorf("missing row: %q", body)
	}
}

func TestAlerts(t *testing.T) {
	e := newEnv(t)
	e.seed(t, det(60*30, "person", 0.9, true), det(30, "person", 0.8, true), det(20, "car", 0.5, false))

	rr := do(t, e.h, http.MethodGet, "/api/alerts?limit=1", "")
	wantStatus(t, rr, http.StatusOK)
	var list map[string]interface{}
	decode(t, rr, &list)
	if list["total_alerts"].(float64) != 2 {
		t.Errorf("total_alerts: %v", list["total_alerts"])
	}
	if n := len(list["alerts"].([]interface{})); n != 1 {
		t.Errorf("alerts len: got %d, want 1", n)
	}

	rr = do(t, e.h, http.MethodGet, "/api/alerts/recent?hours=24", "")
	wantStatus(t, rr, http.StatusOK)

	rr = do(t, e.h, http.MethodGet, "/api/alerts/active", "")
	wantStatus(t, rr, http.StatusOK)
	var active ActiveAlertsResponse
	decode(t, rr, &active)
	if active.Count != 0 {
		t.Errorf("active: got %d, want 0 without rules", active.Count)
	}
}

func TestSendViolationEmail_Disabled(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodPost, "/api/alerts/send-email", `{"class_name":"person","confidence":0.91}`)
	wantStatus(t, rr, http.StatusOK)
	var res mailer.Result
	decode(t, rr, &res)
	if res.Status != mailer.StatusDisabled {
		t.Errorf("status: got %q, want disabled", res.Status)
	}
}

func TestSendViolationEmail_UnknownSnapshot(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodPost, "/api/alerts/send-email",
		`{"class_name":"person","confidence":0.91,"snapshot_path":"frames/missing.jpg"}`)
	wantStatus(t, rr, http.StatusNotFound)
}

// --- analytics --------------------------------------------------------------

func TestAnalyticsStats_DateFilter(t *testing.T) {
	e := newEnv(t)
	e.seed(t,
		det(3*24*60, "car", 0.5, false),
		det(60, "person", 0.9, true),
		det(30, "person", 0.8, true),
	)
	today := baseTime.Format(time.DateOnly)

	rr := do(t, e.h, http.MethodGet, "/api/analytics/stats?start_date="+today+"&end_date="+today, "")
	wantStatus(t, rr, http.StatusOK)
	var st map[string]interface{}
	decode(t, rr, &st)
	if st["total_detections"].(float64) != 2 || st["violation_rate"].(float64) != 100 {
		t.Errorf("filtered stats: %v", st)
	}

	rr = do(t, e.h, http.MethodGet, "/api/analytics/stats?start_date=yesterday", "")
	wantStatus(t, rr, http.StatusBadRequest)
}

func TestKPIs(t *testing.T) {
	e := newEnv(t)
	e.seed(t, det(40, "person", 0.9, true), det(38, "person", 0.6, true))
	for _, name := range []string{"mttr", "false-positive-rate", "coverage", "advanced"} {
		rr := do(t, e.h, http.MethodGet, "/api/analytics/kpis/"+name, "")
		if rr.Code != http.StatusOK {
			t.Errorf("%s: got %d (%s)", name, rr.Code, rr.Body.String())
		}
	}
	rr := do(t, e.h, http.MethodGet, "/api/analytics/kpis/latency", "")
	wantStatus(t, rr, http.StatusNotFound)
}

func TestForecast_InsufficientData(t *testing.T) {
	e := newEnv(t)
	e.seed(t, det(10, "person", 0.9, true))
	rr := do(t, e.h, http.MethodGet, "/api/analytics/predictive/forecast?days=7", "")
	wantStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestAnalytics_DaysOutOfRange(t *testing.T) {
	e := newEnv(t)
	e.seed(t,
		det(3*24*60, "person", 0.9, true),
		det(2*24*60, "car", 0.7, false),
		det(24*60, "person", 0.8, true),
		det(10, "dog", 0.6, false),
	)
	for _, path := range []string{
		"/api/analytics/predictive/forecast?days=-1",
		"/api/analytics/predictive/forecast?days=0",
		"/api/analytics/predictive/forecast?days=100000000",
		"/api/analytics/trend-analysis?days=-5",
		"/api/analytics/predictive/trend?days=366",
	} {
		rr := do(t, e.h, http.MethodGet, path, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", path, rr.Code)
		}
	}

	rr := do(t, e.h, http.MethodGet, "/api/analytics/predictive/forecast?days=7", "")
	wantStatus(t, rr, http.StatusOK)
}

func TestAnomalies(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodPost, "/api/analytics/anomalies/detect", "")
	wantStatus(t, rr, http.StatusUnprocessableEntity)

	e.seed(t, det(60, "person", 0.9, true), det(120, "car", 0.8, false), det(180, "dog", 0.7, false))
	rr = do(t, e.h, http.MethodPost, "/api/analytics/anomalies/detect", `{"method":"magic"}`)
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodPost, "/api/analytics/anomalies/detect", `{"method":"iqr"}`)
	wantStatus(t, rr, http.StatusOK)

	rr = do(t, e.h, http.MethodPost, "/api/analytics/anomalies/behavioral?threshold=0.5", "")
	wantStatus(t, rr, http.StatusOK)
}

func TestCharts(t *testing.T) {
	e := newEnv(t)

	rr := do(t, e.h, http.MethodGet, "/api/analytics/charts/pie-of-everything", "")
	wantStatus(t, rr, http.StatusNotFound)

	rr = do(t, e.h, http.MethodGet, "/api/analytics/charts/hourly-activity.png", "")
	wantStatus(t, rr, http.StatusNotFound)

	rr = do(t, e.h, http.MethodGet, "/api/analytics/charts/class-distribution", "")
	wantStatus(t, rr, http.StatusOK)

	e.seed(t, det(60, "person", 0.9, true), det(30, "car", 0.7, false))
	rr = do(t, e.h, http.MethodGet, "/api/analytics/charts/hourly-activity.png", "")
	wantStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type: got %q", ct)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

// --- reports, schedules, cost -----------------------------------------------

func TestReports_Errors(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodGet, "/api/reports/compliance/GDPR", "")
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodGet, "/api/reports/daily?date=2026-03-09", "")
	wantStatus(t, rr, http.StatusNotFound)

	rr = do(t, e.h, http.MethodGet, "/api/reports/daily?date=03/09/2026", "")
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodGet, "/api/reports/monthly?month=13", "")
	wantStatus(t, rr, http.StatusBadRequest)
}

func TestReports_Daily(t *testing.T) {
	e := newEnv(t)
	e.seed(t, det(24*60, "person", 0.9, true))
	rr := do(t, e.h, http.MethodGet, "/api/reports/daily?date="+baseTime.AddDate(0, 0, -1).Format(time.DateOnly), "")
	wantStatus(t, rr, http.StatusOK)
}

func TestSchedules_Lifecycle(t *testing.T) {
	e := newEnv(t)

	rr := do(t, e.h, http.MethodPost, "/api/schedules", `{"report_type":"hourly","frequency":"daily","time":"08:00"}`)
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodPost, "/api/schedules",
		`{"name":"Morning","report_type":"daily","frequency":"daily","time":"08:00","email_recipients":["ops@example.com"]}`)
	wantStatus(t, rr, http.StatusCreated)
	var created struct {
		Success  bool               `json:"success"`
		Schedule scheduler.Schedule `json:"schedule"`
	}
	decode(t, rr, &created)
	if !created.Schedule.Active || created.Schedule.ID == "" {
		t.Fatalf("created: %+v", created.Schedule)
	}
	id := created.Schedule.ID

	rr = do(t, e.h, http.MethodPatch, "/api/schedules/"+id+"/toggle", `{"active":false}`)
	wantStatus(t, rr, http.StatusOK)

	rr = do(t, e.h, http.MethodPatch, "/api/schedules/"+id+"/toggle", `{}`)
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodGet, "/api/email/schedules", "")
	wantStatus(t, rr, http.StatusOK)
	var list struct {
		Schedules []scheduler.Schedule `json:"schedules"`
	}
	decode(t, rr, &list)
	if len(list.Schedules) != 1 || list.Schedules[0].Active {
		t.Errorf("schedules: %+v", list.Schedules)
	}

	rr = do(t, e.h, http.MethodDelete, "/api/schedules/"+id, "")
	wantStatus(t, rr, http.StatusOK)
	rr = do(t, e.h, http.MethodDelete, "/api/schedules/"+id, "")
	wantStatus(t, rr, http.StatusNotFound)
	rr = do(t, e.h, http.MethodPost, "/api/schedules/"+id+"/execute", "")
	wantStatus(t, rr, http.StatusNotFound)
}

func TestEmailScheduleReport(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodPost, "/api/email/schedule-report",
		`{"report_type":"weekly","template_type":"detailed","recipient_email":"a@example.com","schedule_type":"weekly","day_of_week":2,"time":"07:30"}`)
	wantStatus(t, rr, http.StatusCreated)
	if got := e.h.Scheduler.List(); len(got) != 1 || got[0].Frequency != scheduler.Weekly {
		t.Errorf("schedules: %+v", got)
	}

	rr = do(t, e.h, http.MethodPost, "/api/email/schedule-report", `{"report_type":"weekly"}`)
	wantStatus(t, rr, http.StatusBadRequest)
}

func TestEmailTemplatesAndConfig(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodGet, "/api/email/templates", "")
	wantStatus(t, rr, http.StatusOK)
	var tpl struct {
		Templates []reports.TemplateInfo `json:"templates"`
	}
	decode(t, rr, &tpl)
	if len(tpl.Templates) != 4 {
		t.Errorf("templates: got %d, want 4", len(tpl.Templates))
	}

	rr = do(t, e.h, http.MethodGet, "/api/email/config", "")
	wantStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), "password") {
		t.Errorf("config leaks password: %s", rr.Body.String())
	}
}

func TestCost(t *testing.T) {
	e := newEnv(t)

	rr := do(t, e.h, http.MethodGet, "/api/cost/operational", "")
	wantStatus(t, rr, http.StatusNotFound)

	rr = do(t, e.h, http.MethodPut, "/api/cost/config", `{"false_alarm_cost":-1}`)
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodPut, "/api/cost/config", `{"number_of_cameras":4}`)
	wantStatus(t, rr, http.StatusOK)
	if e.h.Cost.Get().NumberOfCameras != 4 {
		t.Errorf("cameras: got %d, want 4", e.h.Cost.Get().NumberOfCameras)
	}

	rr = do(t, e.h, http.MethodGet, "/api/cost/complete-analysis", "")
	wantStatus(t, rr, http.StatusOK)
	var a cost.Analysis
	decode(t, rr, &a)
	if a.Error == "" || a.Period != "Beginning to Now" {
		t.Errorf("empty analysis: %+v", a)
	}

	e.seed(t, det(60, "person", 0.9, true), det(30, "car", 0.6, false))
	for _, p := range []string{"/api/cost/operational", "/api/cost/roi", "/api/cost/resource-utilization"} {
		if rr := do(t, e.h, http.MethodGet, p, ""); rr.Code != http.StatusOK {
			t.Errorf("%s: got %d (%s)", p, rr.Code, rr.Body.String())
		}
	}
}

// --- snapshots --------------------------------------------------------------

func TestSnapshots(t *testing.T) {
	e := newEnv(t)
	writeImage(t, filepath.Join(e.frames, "violation_1.jpg"), 640, 480)

	rr := do(t, e.h, http.MethodGet, "/api/snapshots-count", "")
	wantStatus(t, rr, http.StatusOK)
	var count map[string]int
	decode(t, rr, &count)
	if count["count"] != 1 {
		t.Fatalf("count: got %d, want 1", count["count"])
	}

	rr = do(t, e.h, http.MethodGet, "/api/snapshots", "")
	wantStatus(t, rr, http.StatusOK)
	var list struct {
		Snapshots []SnapshotView `json:"snapshots"`
	}
	decode(t, rr, &list)
	if len(list.Snapshots) != 1 || list.Snapshots[0].SizeHuman == "" {
		t.Fatalf("list: %+v", list.Snapshots)
	}

	rr = do(t, e.h, http.MethodGet, "/api/snapshots/violation_1.jpg/thumbnail?width=160", "")
	wantStatus(t, rr, http.StatusOK)
	thumb, err := imaging.Decode(bytes.NewReader(rr.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if thumb.Bounds().Dx() != 160 || thumb.Bounds().Dy() != 120 {
		t.Errorf("thumbnail size: %v", thumb.Bounds())
	}

	rr = do(t, e.h, http.MethodGet, "/api/snapshots/.secret.jpg", "")
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodDelete, "/api/snapshots/violation_1.jpg", "")
	wantStatus(t, rr, http.StatusOK)
	rr = do(t, e.h, http.MethodGet, "/api/snapshots/violation_1.jpg", "")
	wantStatus(t, rr, http.StatusNotFound)
}

// --- cameras and health -----------------------------------------------------

func TestCameras_CRUD(t *testing.T) {
	e := newEnv(t)

	rr := do(t, e.h, http.MethodPost, "/api/cameras", `{"name":"Gate","url":"rtsp://10.0.0.5/stream"}`)
	wantStatus(t, rr, http.StatusCreated)
	var created struct {
		Camera cameras.Camera `json:"camera"`
	}
	decode(t, rr, &created)
	c := created.Camera
	if !strings.HasPrefix(c.ID, "cam_") || c.Resolution != cameras.DefaultResolution || c.Status != types.CameraOffline {
		t.Fatalf("created camera: %+v", c)
	}

	rr = do(t, e.h, http.MethodPost, "/api/cameras", `{"name":"Gate","url":"rtsp://10.0.0.6/stream"}`)
	wantStatus(t, rr, http.StatusConflict)

	rr = do(t, e.h, http.MethodPost, "/api/cameras", `{"name":"No URL"}`)
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodPut, "/api/cameras/"+c.ID, `{"name":"Gate North","url":"rtsp://10.0.0.5/stream","fps":15}`)
	wantStatus(t, rr, http.StatusOK)

	rr = do(t, e.h, http.MethodGet, "/api/cameras/"+c.ID, "")
	wantStatus(t, rr, http.StatusOK)
	var got struct {
		Camera cameras.Camera `json:"camera"`
	}
	decode(t, rr, &got)
	if got.Camera.Name != "Gate North" || got.Camera.FPS != 15 {
		t.Errorf("updated camera: %+v", got.Camera)
	}

	rr = do(t, e.h, http.MethodGet, "/api/health/cameras", "")
	wantStatus(t, rr, http.StatusOK)
	var hc CameraHealthResponse
	decode(t, rr, &hc)
	if hc.Total != 1 || hc.Offline != 1 || len(hc.Cameras) != 1 {
		t.Fatalf("camera health: %+v", hc)
	}
	if hints := hc.Cameras[0].Hints; len(hints) == 0 || hints[0].Key != "no_heartbeat" {
		t.Errorf("hints: %+v", hints)
	}

	rr = do(t, e.h, http.MethodDelete, "/api/cameras/"+c.ID, "")
	wantStatus(t, rr, http.StatusOK)
	rr = do(t, e.h, http.MethodGet, "/api/cameras/"+c.ID, "")
	wantStatus(t, rr, http.StatusNotFound)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodGet, "/api/health", "")
	wantStatus(t, rr, http.StatusOK)
	var resp struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	decode(t, rr, &resp)
	if resp.Status != "healthy" || resp.Services["email"] != "disabled" || resp.Services["scheduler"] != "stopped" {
		t.Errorf("health: %+v", resp)
	}

	rr = do(t, e.h, http.MethodGet, "/api/health/uptime", "")
	wantStatus(t, rr, http.StatusOK)
}

func TestInfo_ListsRoutes(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodGet, "/api/info", "")
	wantStatus(t, rr, http.StatusOK)
	var resp struct {
		Version   string              `json:"version"`
		Endpoints map[string][]string `json:"endpoints"`
	}
	decode(t, rr, &resp)
	if resp.Version != "test" {
		t.Errorf("version: got %q", resp.Version)
	}
	found := false
	for _, ep := range resp.Endpoints["cameras"] {
		if ep == "DELETE /api/cameras/{id}" {
			found = true
		}
	}
	if !found {
		t.Errorf("cameras endpoints: %v", resp.Endpoints["cameras"])
	}
}

// --- activity, users, auth --------------------------------------------------

func TestActivity(t *testing.T) {
	e := newEnv(t)
	e.seed(t, det(20, "person", 0.9, true), det(10, "car", 0.5, false))

	rr := do(t, e.h, http.MethodPost, "/api/activity/sync", "")
	wantStatus(t, rr, http.StatusOK)
	var synced map[string]interface{}
	decode(t, rr, &synced)
	if synced["total_events"].(float64) != 2 {
		t.Errorf("synced: %v", synced)
	}

	rr = do(t, e.h, http.MethodGet, "/api/activity/feed?limit=1", "")
	wantStatus(t, rr, http.StatusOK)
	var feed struct {
		Events         []activity.Event `json:"events"`
		TotalCount     int              `json:"total_count"`
		DisplayedCount int              `json:"displayed_count"`
	}
	decode(t, rr, &feed)
	if feed.TotalCount != 2 || feed.DisplayedCount != 1 {
		t.Errorf("feed counts: %+v", feed)
	}

	rr = do(t, e.h, http.MethodGet, "/api/activity/detections?limit=5", "")
	wantStatus(t, rr, http.StatusOK)
	var dets struct {
		Events []DetectionEvent `json:"events"`
	}
	decode(t, rr, &dets)
	if len(dets.Events) != 2 || dets.Events[0].Class != "car" || dets.Events[1].Confidence != 90 {
		t.Errorf("detection events: %+v", dets.Events)
	}
}

func TestAuthFlow(t *testing.T) {
	e := newEnv(t)

	rr := do(t, e.h, http.MethodPost, "/api/auth/signup", `{"username":"Alice","password":"s3cret","email":"alice@example.com"}`)
	wantStatus(t, rr, http.StatusCreated)
	var signed AuthResponse
	decode(t, rr, &signed)
	if signed.Token == "" || signed.Username != "Alice" {
		t.Fatalf("signup: %+v", signed)
	}

	rr = do(t, e.h, http.MethodPost, "/api/auth/signup", `{"username":"alice","password":"other"}`)
	wantStatus(t, rr, http.StatusConflict)

	rr = do(t, e.h, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong"}`)
	wantStatus(t, rr, http.StatusUnauthorized)

	rr = do(t, e.h, http.MethodPost, "/api/auth/login", `{"username":"ALICE","password":"s3cret"}`)
	wantStatus(t, rr, http.StatusOK)
	var logged AuthResponse
	decode(t, rr, &logged)
	if logged.Username != "Alice" {
		t.Errorf("login username: got %q, want stored spelling", logged.Username)
	}

	rr = do(t, e.h, http.MethodGet, "/api/users/sessions", "")
	wantStatus(t, rr, http.StatusOK)
	var sess map[string]interface{}
	decode(t, rr, &sess)
	if sess["active_sessions"].(float64) != 2 {
		t.Errorf("sessions: %v", sess)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+logged.Token)
	out := httptest.NewRecorder()
	e.h.ServeHTTP(out, req)
	wantStatus(t, out, http.StatusOK)
	if e.h.Users.ValidSession(context.Background(), logged.Token) {
		t.Error("session still valid after logout")
	}

	rr = do(t, e.h, http.MethodGet, "/api/users/activity?action=login_failed", "")
	wantStatus(t, rr, http.StatusOK)
	var act map[string]interface{}
	decode(t, rr, &act)
	if act["displayed_count"].(float64) != 1 {
		t.Errorf("login_failed entries: %v", act)
	}
}

func TestLogUserActivity(t *testing.T) {
	e := newEnv(t)
	rr := do(t, e.h, http.MethodPost, "/api/users/activity", `{"user":"bob","details":"no action"}`)
	wantStatus(t, rr, http.StatusBadRequest)

	rr = do(t, e.h, http.MethodPost, "/api/users/activity", `{"user":"bob","action":"export_csv"}`)
	wantStatus(t, rr, http.StatusOK)
	var resp struct {
		Activity users.Activity `json:"activity"`
	}
	decode(t, rr, &resp)
	if resp.Activity.IPAddress != "192.0.2.1" {
		t.Errorf("ip: got %q, want the request's remote host", resp.Activity.IPAddress)
	}
}

func TestCameraHints(t *testing.T) {
	ago := func(d time.Duration) *time.Time { ts := baseTime.Add(-d); return &ts }
	cases := []struct {
		name string
		cam  cameras.Camera
		want []string
	}{
		{"disabled", cameras.Camera{Enabled: false, Status: types.CameraOffline}, []string{"disabled"}},
		{"never reported", cameras.Camera{Enabled: true, Status: types.CameraOffline}, []string{"no_heartbeat"}},
		{"offline", cameras.Camera{Enabled: true, Status: types.CameraOffline, LastActive: ago(time.Hour)}, []string{"offline"}},
		{"stale and low score", cameras.Camera{Enabled: true, Status: types.CameraOnline, LastActive: ago(10 * time.Minute), HealthScore: 50},
			[]string{"stale", "low_score"}},
		{"degraded", cameras.Camera{Enabled: true, Status: types.CameraDegraded, LastActive: ago(time.Minute), HealthScore: 70}, []string{"degraded"}},
		{"healthy", cameras.Camera{Enabled: true, Status: types.CameraOnline, LastActive: ago(time.Minute), HealthScore: 98}, []string{"healthy"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hints := cameraHints(tc.cam, baseTime)
			var keys []string
			for _, h := range hints {
				keys = append(keys, h.Key)
			}
			if strings.Join(keys, ",") != strings.Join(tc.want, ",") {
				t.Errorf("hints: got %v, want %v", keys, tc.want)
			}
		})
	}
}
