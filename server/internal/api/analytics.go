package api

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"

	"github.com/areawatch/areawatch/server/internal/analytics"
	"github.com/areawatch/areawatch/server/internal/charts"
)

const defaultTrendDays = 30

// queryDays reads the days parameter, defaulting to defaultTrendDays and
// rejecting values outside 1..analytics.MaxDays.
func queryDays(r *http.Request) (int, error) {
	days, err := queryInt(r, "days", defaultTrendDays)
	if err != nil {
		return 0, err
	}
	if days < 1 || days > analytics.MaxDays {
		return 0, fmt.Errorf("%w: days must be in 1..%d", errBadRequest, analytics.MaxDays)
	}
	return days, nil
}

// kpi returns GET /api/analytics/kpis/{mttr|false-positive-rate|coverage|advanced}.
func (h *Handler) kpi(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	switch name := mux.Vars(r)["kpi"]; name {
	case "mttr":
		jsonResp(w, http.StatusOK, analytics.MTTR(rows))
	case "false-positive-rate":
		jsonResp(w, http.StatusOK, analytics.FalsePositiveRate(rows))
	case "coverage":
		jsonResp(w, http.StatusOK, analytics.Coverage(rows))
	case "advanced":
		res, err := analytics.AdvancedKPIs(rows)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		jsonResp(w, http.StatusOK, res)
	default:
		jsonErr(w, http.StatusNotFound, fmt.Sprintf("unknown kpi %q", name))
	}
}

func (h *Handler) executiveSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, analytics.ExecutiveSummary(rows))
}

func (h *Handler) trendAnalysis(w http.ResponseWriter, r *http.Request) {
	days, err := queryDays(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := analytics.TrendAnalysis(h.Store.All(), days, h.now())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, analytics.DashboardData(h.Store.All(), win, h.now()))
}

func (h *Handler) forecast(w http.ResponseWriter, r *http.Request) {
	days, err := queryDays(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := analytics.Forecast(h.Store.All(), days)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (h *Handler) predictiveTrend(w http.ResponseWriter, r *http.Request) {
	days, err := queryDays(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := analytics.PredictiveTrend(h.Store.All(), days, h.now())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

// detectAnomalies accepts an optional {"method","threshold"} body.
func (h *Handler) detectAnomalies(w http.ResponseWriter, r *http.Request) {
	var req AnomalyRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := analytics.Anomalies(h.Store.All(), req.Method, req.Threshold)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (h *Handler) behavioral(w http.ResponseWriter, r *http.Request) {
	threshold, err := queryFloat(r, "threshold", 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := analytics.Behavioral(h.Store.All(), threshold)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (h *Handler) correlation(w http.ResponseWriter, r *http.Request) {
	res, err := analytics.Correlation(h.Store.All())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (h *Handler) percentiles(w http.ResponseWriter, r *http.Request) {
	res, err := analytics.Percentiles(h.Store.All())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (h *Handler) analyticsStats(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, analytics.ComputeStats(rows))
}

// chart returns a chart dataset as JSON, or rendered when the name ends in .png.
func (h *Handler) chart(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	name, asPNG := strings.CutSuffix(mux.Vars(r)["name"], ".png")
	if !slices.Contains(analytics.ChartNames, name) {
		jsonErr(w, http.StatusNotFound, fmt.Sprintf("unknown chart %q", name))
		return
	}
	if asPNG {
		png, err := charts.Render(name, rows, h.now())
		if err != nil {
			writeErr(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(png) //nolint:errcheck
		return
	}

	days, err := queryInt(r, "days", 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	data, err := analytics.ChartData(name, rows, days, h.now())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, data)
}
