package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/areawatch/areawatch/server/internal/cost"
	"github.com/areawatch/areawatch/server/internal/reports"
	"github.com/areawatch/areawatch/server/internal/scheduler"
)

// --- reports ------------------------------------------------------------------

func (h *Handler) dailyReport(w http.ResponseWriter, r *http.Request) {
	date, err := h.queryDate(r, "date", false)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	rep, err := h.Reports.Daily(date)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, rep)
}

func (h *Handler) weeklyReport(w http.ResponseWriter, r *http.Request) {
	end, err := h.queryDate(r, "end_date", false)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	rep, err := h.Reports.Weekly(end)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, rep)
}

// monthlyReport defaults to the current month when year or month is missing.
func (h *Handler) monthlyReport(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year", 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	month, err := queryInt(r, "month", 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if month < 0 || month > 12 {
		jsonErr(w, http.StatusBadRequest, fmt.Sprintf("month %d is out of range [1, 12]", month))
		return
	}
	rep, err := h.Reports.Monthly(year, time.Month(month))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, rep)
}

func (h *Handler) complianceReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reports.Compliance(mux.Vars(r)["type"])
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, rep)
}

// sendReportEmail generates a report and mails it. Without recipients in the
// body the configured list is used.
func (h *Handler) sendReportEmail(w http.ResponseWriter, r *http.Request) {
	var req reports.Request
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	if len(req.Recipients) == 0 {
		req.Recipients = h.Mailer.Recipients()
	}
	h.deliver(w, r, req)
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request, req reports.Request) {
	d, err := h.Dispatcher.Deliver(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, d)
}

// --- schedules ----------------------------------------------------------------

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]any{"schedules": h.Scheduler.List()})
}

// createSchedule registers a schedule. Omitting "active" creates it active.
func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	sc := scheduler.Schedule{Active: true}
	if err := decodeBody(r, &sc, true); err != nil {
		writeErr(w, r, err)
		return
	}
	h.addSchedule(w, r, sc)
}

func (h *Handler) addSchedule(w http.ResponseWriter, r *http.Request, sc scheduler.Schedule) {
	added, err := h.Scheduler.Add(sc)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusCreated, success(
		fmt.Sprintf("Schedule '%s' created successfully", added.Name),
		map[string]any{"schedule": added},
	))
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Scheduler.Remove(id); err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, success(fmt.Sprintf("Schedule %s removed", id), nil))
}

func (h *Handler) toggleSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeBody(r, &body, true); err != nil {
		writeErr(w, r, err)
		return
	}
	if body.Active == nil {
		jsonErr(w, http.StatusBadRequest, "active is required")
		return
	}
	sc, err := h.Scheduler.Toggle(mux.Vars(r)["id"], *body.Active)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	state := "deactivated"
	if sc.Active {
		state = "activated"
	}
	jsonResp(w, http.StatusOK, success("Schedule "+state, map[string]any{"schedule": sc}))
}

func (h *Handler) executeSchedule(w http.ResponseWriter, r *http.Request) {
	d, err := h.Scheduler.ExecuteNow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, d)
}

// --- email --------------------------------------------------------------------

func (h *Handler) emailTest(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.Mailer.Test(r.Context()))
}

func (h *Handler) emailConfig(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.Mailer.PublicConfig())
}

// emailSendReport sends one report with the CSV attached to a single recipient.
func (h *Handler) emailSendReport(w http.ResponseWriter, r *http.Request) {
	var req EmailReportRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	if strings.TrimSpace(req.RecipientEmail) == "" {
		jsonErr(w, http.StatusBadRequest, "recipient_email is required")
		return
	}
	h.deliver(w, r, reports.Request{
		ReportType:    req.ReportType,
		TemplateType:  req.TemplateType,
		Recipients:    []string{req.RecipientEmail},
		IncludeCSV:    true,
		IncludeCharts: true,
		IncludePDF:    req.IncludePDF,
	})
}

func (h *Handler) emailScheduleReport(w http.ResponseWriter, r *http.Request) {
	var req EmailScheduleRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	if strings.TrimSpace(req.RecipientEmail) == "" {
		jsonErr(w, http.StatusBadRequest, "recipient_email is required")
		return
	}
	h.addSchedule(w, r, scheduler.Schedule{
		Name:            fmt.Sprintf("%s %s report to %s", req.ScheduleType, req.ReportType, req.RecipientEmail),
		ReportType:      req.ReportType,
		TemplateType:    req.TemplateType,
		Frequency:       req.ScheduleType,
		Time:            req.Time,
		DayOfWeek:       req.DayOfWeek,
		DayOfMonth:      req.DayOfMonth,
		EmailRecipients: []string{req.RecipientEmail},
		IncludeCSV:      true,
		Active:          true,
	})
}

func (h *Handler) emailTemplates(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]any{"templates": reports.Templates()})
}

// --- cost ---------------------------------------------------------------------

func (h *Handler) costConfig(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.Cost.Get())
}

func (h *Handler) updateCostConfig(w http.ResponseWriter, r *http.Request) {
	var p cost.Patch
	if err := decodeBody(r, &p, true); err != nil {
		writeErr(w, r, err)
		return
	}
	cfg, err := h.Cost.Update(p)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, success("Cost configuration updated", map[string]any{"config": cfg}))
}

func (h *Handler) operationalCosts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := cost.Operational(rows, h.Cost.Get())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (h *Handler) roi(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := cost.ROI(rows, h.Cost.Get())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

func (h *Handler) utilization(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := cost.ResourceUtilization(rows, h.Cost.Get())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

// completeAnalysis always answers 200; an empty period is reported in the
// body's error field.
func (h *Handler) completeAnalysis(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, cost.Complete(rows, h.Cost.Get(), periodLabel(r), h.now()))
}
