package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/areawatch/areawatch/server/internal/analytics"
	"github.com/areawatch/areawatch/server/internal/charts"
	"github.com/areawatch/areawatch/server/internal/detections"
	"github.com/areawatch/areawatch/server/internal/mailer"
)

// attachedCharts are rendered for every emailed report that asks for charts.
var attachedCharts = []string{
	analytics.ChartHourlyActivity, analytics.ChartViolationTrend, analytics.ChartClassDistribution,
}

// Mailer sends rendered reports.
type Mailer interface {
	SendReport(ctx context.Context, subject, html string, recipients []string, atts []mailer.Attachment) mailer.Result
}

// Request asks for one report to be generated and emailed.
type Request struct {
	ReportType     string   `json:"report_type"`
	TemplateType   string   `json:"template_type,omitempty"`
	Date           string   `json:"date,omitempty"`
	Year           int      `json:"year,omitempty"`
	Month          int      `json:"month,omitempty"`
	ComplianceType string   `json:"compliance_type,omitempty"`
	Recipients     []string `json:"recipients,omitempty"`
	IncludeCSV     bool     `json:"include_csv"`
	IncludeCharts  bool     `json:"include_charts"`
	IncludePDF     bool     `json:"include_pdf"`
}

// Delivery is the outcome of Deliver.
type Delivery struct {
	mailer.Result
	ReportType string    `json:"report_type"`
	Template   string    `json:"template"`
	ReportPath string    `json:"report_path"`
	Timestamp  time.Time `json:"timestamp"`
	Note       string    `json:"note,omitempty"`
}

// Dispatcher generates reports and emails them.
type Dispatcher struct {
	svc  *Service
	mail Mailer
}

// NewDispatcher returns a Dispatcher over svc sending through m.
func NewDispatcher(svc *Service, m Mailer) *Dispatcher {
	return &Dispatcher{svc: svc, mail: m}
}

// Generate builds and saves the report named by req.
func (d *Dispatcher) Generate(req Request) (Report, error) {
	var date time.Time
	if req.Date != "" {
		t, err := ParseDate(req.Date, d.svc.loc)
		if err != nil {
			return nil, err
		}
		date = t
	}
	switch strings.ToLower(req.ReportType) {
	case KindDaily:
		return d.svc.Daily(date)
	case KindWeekly:
		return d.svc.Weekly(date)
	case KindMonthly:
		return d.svc.Monthly(req.Year, time.Month(req.Month))
	case KindCompliance:
		kind := req.ComplianceType
		if kind == "" {
			kind = OSHA
		}
		return d.svc.Compliance(kind)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, req.ReportType)
	}
}

// Deliver generates the report, renders it with the requested template, and
// emails it with the requested attachments. Mail failures are reported in the
// Delivery status; generation failures are returned as errors.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) (Delivery, error) {
	r, err := d.Generate(req)
	if err != nil {
		return Delivery{}, err
	}
	tmpl := req.TemplateType
	if !isTemplate(tmpl) {
		tmpl = TemplateSummary
	}
	html, err := RenderHTML(r, tmpl)
	if err != nil {
		return Delivery{}, err
	}

	var atts []mailer.Attachment
	if req.IncludeCSV {
		a, err := d.writeCSV(r)
		if err != nil {
			slog.Warn("reports: csv attachment skipped", "report", r.FileName(), "err", err)
		} else {
			atts = append(atts, a)
		}
	}
	if req.IncludeCharts {
		atts = append(atts, d.writeCharts(r)...)
	}

	out := Delivery{
		Result:     d.mail.SendReport(ctx, Subject(r), html, req.Recipients, atts),
		ReportType: r.Kind(),
		Template:   tmpl,
		ReportPath: d.svc.Path(r),
		Timestamp:  d.svc.now(),
	}
	if req.IncludePDF {
		out.Note = "PDF attachments are not supported; the report was sent without one"
	}
	return out, nil
}

func (d *Dispatcher) writeCSV(r Report) (mailer.Attachment, error) {
	name := "report_" + r.Kind() + "_" + d.svc.now().In(d.svc.loc).Format("20060102") + ".csv"
	path := filepath.Join(d.svc.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return mailer.Attachment{}, fmt.Errorf("reports: create %q: %w", path, err)
	}
	defer f.Close()
	if err := detections.WriteCSV(f, r.detections()); err != nil {
		return mailer.Attachment{}, err
	}
	return mailer.Attachment{Path: path, Name: name}, nil
}

func (d *Dispatcher) writeCharts(r Report) []mailer.Attachment {
	rows := r.detections()
	if len(rows) == 0 {
		return nil
	}
	dir := filepath.Join(d.svc.dir, "charts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("reports: chart dir", "dir", dir, "err", err)
		return nil
	}
	base := strings.TrimSuffix(r.FileName(), ".json")
	last := rows[len(rows)-1].Timestamp

	var atts []mailer.Attachment
	for _, name := range attachedCharts {
		png, err := charts.Render(name, rows, last)
		if errors.Is(err, charts.ErrNoData) {
			continue
		}
		if err != nil {
			slog.Warn("reports: chart skipped", "chart", name, "err", err)
			continue
		}
		file := base + "_" + name + ".png"
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, png, 0o644); err != nil {
			slog.Warn("reports: chart write", "path", path, "err", err)
			continue
		}
		atts = append(atts, mailer.Attachment{Path: path, Name: file})
	}
	return atts
}

// ParseDate accepts YYYY-MM-DD (in loc) or RFC3339.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: want YYYY-MM-DD or RFC3339", ErrInvalidDate, s)
	}
	return t, nil
}
