package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/analytics"
	"github.com/areawatch/areawatch/server/internal/mailer"
)

const (
	defaultRecentLimit = 100
	defaultAlertLimit  = 50
	defaultAlertHours  = 24
)

// detectionSummary returns GET /api/detections/summary.
func (h *Handler) detectionSummary(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, analytics.Summarize(h.Store.All(), h.now()))
}

// recentDetections returns GET /api/detections/recent?limit=N, newest first.
func (h *Handler) recentDetections(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRecentLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if limit < 0 {
		limit = 0
	}
	rows := h.Store.Latest(limit)
	if limit == 0 {
		rows = nil
	}
	jsonResp(w, http.StatusOK, RecentDetectionsResponse{
		Data:           analytics.Records(rows),
		TotalCount:     h.Store.Len(),
		DisplayedCount: len(rows),
	})
}

func (h *Handler) todayDetections(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, analytics.Today(h.Store.All(), h.now()))
}

// downloadLog serves the raw CSV log.
func (h *Handler) downloadLog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="detection_log.csv"`)
	http.ServeFile(w, r, h.Store.Log().Path())
}

// appendDetections accepts a JSON array of detections, or an object with a
// "detections" array. A missing timestamp means now. Nothing is written
// unless every row is valid.
func (h *Handler) appendDetections(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw, true); err != nil {
		writeErr(w, r, err)
		return
	}
	var ds []types.Detection
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		var wrapped struct {
			Detections []types.Detection `json:"detections"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		ds = wrapped.Detections
	} else if err := json.Unmarshal(raw, &ds); err != nil {
		writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(ds) == 0 {
		jsonErr(w, http.StatusBadRequest, "no detections in request")
		return
	}

	now := h.now()
	for i := range ds {
		if ds[i].Timestamp.IsZero() {
			ds[i].Timestamp = now
		}
		if err := ds[i].Validate(); err != nil {
			writeErr(w, r, fmt.Errorf("%w: detection %d: %v", errBadRequest, i, err))
			return
		}
	}
	if err := h.Store.Append(ds...); err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusCreated, AppendResponse{Accepted: len(ds)})
}

// --- alerts -------------------------------------------------------------------

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultAlertLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, analytics.Alerts(h.Store.All(), limit, h.now()))
}

func (h *Handler) recentAlerts(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", defaultAlertHours)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, analytics.RecentAlerts(h.Store.All(), hours, h.now()))
}

func (h *Handler) alertStats(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, analytics.AlertStats(h.Store.All(), h.now()))
}

// activeAlerts returns the rule engine's firing and recently resolved alerts.
func (h *Handler) activeAlerts(w http.ResponseWriter, r *http.Request) {
	active := h.Alerts.Active()
	jsonResp(w, http.StatusOK, ActiveAlertsResponse{Alerts: active, Count: len(active)})
}

// sendViolationEmail emails a violation alert to the configured recipients.
func (h *Handler) sendViolationEmail(w http.ResponseWriter, r *http.Request) {
	var req ViolationEmailRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	v := mailer.Violation{
		Class:      req.ClassName,
		Confidence: req.Confidence,
		Timestamp:  h.now(),
		Location:   req.Location,
		CameraID:   req.CameraID,
	}
	if req.Timestamp != "" {
		ts, err := types.ParseTimestamp(req.Timestamp, h.loc)
		if err != nil {
			writeErr(w, r, fmt.Errorf("%w: timestamp: %v", errBadRequest, err))
			return
		}
		v.Timestamp = ts
	}
	if req.SnapshotPath != "" {
		p, err := h.Snapshots.Path(filepath.Base(req.SnapshotPath))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		v.SnapshotPath = p
	}
	jsonResp(w, http.StatusOK, h.Mailer.SendViolationAlert(r.Context(), v, h.Mailer.Recipients()))
}
