package reports

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/analytics"
)

// Email templates.
const (
	TemplateSummary     = "summary"
	TemplateDetailed    = "detailed"
	TemplateCompliance  = "compliance"
	TemplateOperational = "operational"
)

// TemplateInfo describes an email template.
type TemplateInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Sections    []string `json:"sections"`
}

var templates = []TemplateInfo{
	{TemplateSummary, "Executive Summary", "High-level overview of key metrics",
		[]string{"kpi_summary", "key_findings", "recommendations"}},
	{TemplateDetailed, "Detailed Analysis", "Comprehensive analysis with charts and data",
		[]string{"executive_summary", "detections_analysis", "violations_analysis", "trend_analysis", "recommendations"}},
	{TemplateCompliance, "Compliance Report", "Regulatory and compliance-focused report",
		[]string{"compliance_metrics", "violations_log", "incident_summary", "recommendations"}},
	{TemplateOperational, "Operational Report", "Day-to-day operational metrics",
		[]string{"daily_summary", "hourly_breakdown", "top_incidents", "system_status"}},
}

// Templates lists the available email templates.
func Templates() []TemplateInfo {
	out := make([]TemplateInfo, len(templates))
	copy(out, templates)
	return out
}

// maxIncidents caps the violation log in rendered emails.
const maxIncidents = 10

type kpi struct {
	Label string
	Value string
}

type classRow struct {
	Class string
	Count int
}

type hourRow struct {
	Hour       int
	Detections int
	Violations int
}

type incident struct {
	Time       string
	Class      string
	Confidence string
	Camera     string
}

type complianceView struct {
	Framework string
	Status    string
	Severity  string
	Incidents int
	Rate      float64
	Uptime    float64
}

// overview is the template-facing view of a report.
type overview struct {
	Title           string
	Period          string
	Generated       string
	Summary         Summary
	KPIs            []kpi
	Classes         []classRow
	Hours           []hourRow
	Incidents       []incident
	Insights        []string
	Recommendations []string
	Trend           string
	Compliance      *complianceView
}

func newOverview(title, period string, generated time.Time, rows []types.Detection) overview {
	v := analytics.Violations(rows)
	exec := analytics.ExecutiveSummary(rows)
	mttr := analytics.MTTR(rows)
	sum := summarize(rows, v)

	o := overview{
		Title:           title,
		Period:          period,
		Generated:       generated.Format("2006-01-02 15:04:05"),
		Summary:         sum,
		Insights:        exec.Insights,
		Recommendations: exec.Recommendations,
		Trend:           exec.Trend,
		KPIs: []kpi{
			{"Total Detections", fmt.Sprint(sum.TotalDetections)},
			{"Violations", fmt.Sprint(sum.TotalViolations)},
			{"Avg Confidence", fmt.Sprintf("%.1f%%", sum.AvgConfidence)},
			{"MTTR", fmt.Sprintf("%.1f min", mttr.MTTRMinutes)},
		},
	}
	if len(o.Recommendations) > 5 {
		o.Recommendations = o.Recommendations[:5]
	}

	for c, n := range byClass(rows) {
		o.Classes = append(o.Classes, classRow{c, n})
	}
	sort.Slice(o.Classes, func(i, j int) bool {
		if o.Classes[i].Count != o.Classes[j].Count {
			return o.Classes[i].Count > o.Classes[j].Count
		}
		return o.Classes[i].Class < o.Classes[j].Class
	})

	var hours [24]hourRow
	for _, d := range rows {
		h := &hours[d.Timestamp.Hour()]
		h.Detections++
		if d.Violation {
			h.Violations++
		}
	}
	for i, h := range hours {
		if h.Detections > 0 {
			h.Hour = i
			o.Hours = append(o.Hours, h)
		}
	}

	for i := len(v) - 1; i >= 0 && len(o.Incidents) < maxIncidents; i-- {
		d := v[i]
		o.Incidents = append(o.Incidents, incident{
			Time:       d.Timestamp.Format(types.TimeLayout),
			Class:      d.Class,
			Confidence: fmt.Sprintf("%.1f%%", d.ConfidencePct()),
			Camera:     d.CameraID,
		})
	}
	return o
}

func (r *DailyReport) overview() overview {
	return newOverview("Daily Security Report", r.Date, r.GeneratedAt, r.rows)
}

func (r *WeeklyReport) overview() overview {
	return newOverview("Weekly Security Report", r.Period, r.GeneratedAt, r.rows)
}

func (r *MonthlyReport) overview() overview {
	return newOverview("Monthly Security Report", r.Period, r.GeneratedAt, r.rows)
}

func (r *ComplianceReport) overview() overview {
	o := newOverview(r.ReportType, r.Period, r.GeneratedAt, r.rows)
	o.Compliance = &complianceView{
		Framework: r.framework,
		Status:    r.ComplianceStatus,
		Severity:  r.IncidentSeverity,
		Incidents: r.SystemInfo.TotalIncidents,
		Rate:      r.SystemInfo.IncidentRate,
		Uptime:    r.SystemInfo.SystemUptimePercentage,
	}
	return o
}

// Subject is the email subject line for r.
func Subject(r Report) string {
	o := r.overview()
	period := strings.ToUpper(r.Kind()[:1]) + r.Kind()[1:]
	if c, ok := r.(*ComplianceReport); ok {
		period = c.framework + " Compliance"
	}
	return fmt.Sprintf("[Security Report] %s Intrusion Detection Summary - %s", period, o.Period)
}

// RenderHTML renders r with the named template. Unknown names fall back to summary.
func RenderHTML(r Report, name string) (string, error) {
	if !isTemplate(name) {
		name = TemplateSummary
	}
	var buf bytes.Buffer
	if err := emailTmpl.ExecuteTemplate(&buf, name, r.overview()); err != nil {
		return "", fmt.Errorf("reports: render %s: %w", name, err)
	}
	return buf.String(), nil
}

func isTemplate(name string) bool {
	for _, t := range templates {
		if t.ID == name {
			return true
		}
	}
	return false
}

var emailTmpl = template.Must(template.New("email").Parse(`
{{define "head"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: 'Segoe UI', Tahoma, Verdana, sans-serif; background: #f5f5f5; margin: 0; padding: 0; }
.container { max-width: 800px; margin: 0 auto; background: #fff; }
.header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: #fff; padding: 30px; text-align: center; }
.header h1 { margin: 0; font-size: 26px; }
.content { padding: 30px; }
.section { margin-bottom: 28px; }
.section-title { font-size: 18px; font-weight: bold; color: #333; border-bottom: 2px solid #667eea; padding-bottom: 6px; margin-bottom: 12px; }
.kpi-grid { display: grid; grid-template-columns: repeat(2, 1fr); gap: 16px; }
.kpi-card { background: #f8f9fa; border-left: 4px solid #667eea; padding: 14px; }
.kpi-label { font-size: 12px; color: #666; text-transform: uppercase; }
.kpi-value { font-size: 24px; font-weight: bold; color: #333; }
table { width: 100%; border-collapse: collapse; }
th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #eee; }
.status { font-weight: bold; color: #16a34a; }
.footer { background: #f8f9fa; padding: 16px; text-align: center; color: #888; font-size: 12px; }
</style>
</head>
<body>
<div class="container">
<div class="header">
<h1>Intrusion Detection System</h1>
<p>{{.Title}}</p>
<p style="font-size: 14px;">{{.Period}}</p>
</div>
<div class="content">
{{end}}

{{define "foot"}}</div>
<div class="footer">
<p>This is an automated report generated by the Intrusion Detection System.</p>
<p>Generated: {{.Generated}}</p>
</div>
</div>
</body>
</html>
{{end}}

{{define "kpis"}}<div class="section">
<div class="section-title">Key Performance Indicators</div>
<div class="kpi-grid">
{{range .KPIs}}<div class="kpi-card"><div class="kpi-label">{{.Label}}</div><div class="kpi-value">{{.Value}}</div></div>
{{end}}</div>
</div>
{{end}}

{{define "findings"}}{{if .Insights}}<div class="section">
<div class="section-title">Key Findings</div>
<ul>{{range .Insights}}<li>{{.}}</li>{{end}}</ul>
</div>
{{end}}{{end}}

{{define "recommendations"}}{{if .Recommendations}}<div class="section">
<div class="section-title">Recommendations</div>
<ul>{{range .Recommendations}}<li>{{.}}</li>{{end}}</ul>
</div>
{{end}}{{end}}

{{define "classes"}}<div class="section">
<div class="section-title">Detections by Class</div>
<table><tr><th>Class</th><th>Count</th></tr>
{{range .Classes}}<tr><td>{{.Class}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
</div>
{{end}}

{{define "hours"}}<div class="section">
<div class="section-title">Hourly Breakdown</div>
<table><tr><th>Hour</th><th>Detections</th><th>Violations</th></tr>
{{range .Hours}}<tr><td>{{printf "%02d:00" .Hour}}</td><td>{{.Detections}}</td><td>{{.Violations}}</td></tr>
{{end}}</table>
</div>
{{end}}

{{define "incidents"}}<div class="section">
<div class="section-title">Recent Violations</div>
{{if .Incidents}}<table><tr><th>Time</th><th>Class</th><th>Confidence</th><th>Camera</th></tr>
{{range .Incidents}}<tr><td>{{.Time}}</td><td>{{.Class}}</td><td>{{.Confidence}}</td><td>{{.Camera}}</td></tr>
{{end}}</table>{{else}}<p>No violations in this period.</p>{{end}}
</div>
{{end}}

{{define "summary"}}{{template "head" .}}{{template "kpis" .}}{{template "findings" .}}{{template "recommendations" .}}{{template "foot" .}}{{end}}

{{define "detailed"}}{{template "head" .}}{{template "kpis" .}}{{template "findings" .}}{{template "classes" .}}{{template "incidents" .}}<div class="section">
<div class="section-title">Trend</div>
<p>Violation trend is {{.Trend}}. Violation rate {{printf "%.2f" .Summary.ViolationRate}}%.</p>
</div>
{{template "recommendations" .}}{{template "foot" .}}{{end}}

{{define "compliance"}}{{template "head" .}}<div class="section">
<div class="section-title">Compliance Metrics</div>
{{with .Compliance}}<p>Framework: <strong>{{.Framework}}</strong></p>
<p>Status: <span class="status">{{.Status}}</span></p>
{{if .Severity}}<p>Incident severity: {{.Severity}}</p>{{end}}
<p>System uptime: {{printf "%.2f" .Uptime}}%</p>{{else}}<p>Violation rate: {{printf "%.2f" .Summary.ViolationRate}}%</p>{{end}}
</div>
{{template "incidents" .}}<div class="section">
<div class="section-title">Incident Summary</div>
{{with .Compliance}}<p>{{.Incidents}} incident(s), {{printf "%.2f" .Rate}} per day.</p>{{else}}<p>{{.Summary.TotalViolations}} incident(s) in {{.Summary.TotalDetections}} detections.</p>{{end}}
</div>
{{template "recommendations" .}}{{template "foot" .}}{{end}}

{{define "operational"}}{{template "head" .}}{{template "kpis" .}}{{template "hours" .}}{{template "incidents" .}}<div class="section">
<div class="section-title">System Status</div>
<p class="status">Monitoring active</p>
<p>{{len .Classes}} object class(es) observed.</p>
</div>
{{template "foot" .}}{{end}}
`))
