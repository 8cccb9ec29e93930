package reports

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/mailer"
)

var now = time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)

type rows []types.Detection

func (r rows) Between(from, to time.Time) []types.Detection {
	var out []types.Detection
	for _, d := range r {
		if (from.IsZero() || !d.Timestamp.Before(from)) && (to.IsZero() || d.Timestamp.Before(to)) {
			out = append(out, d)
		}
	}
	return out
}

func det(ts string, class string, conf float64, violation bool) types.Detection {
	t, err := time.Parse(types.TimeLayout, ts)
	if err != nil {
		panic(err)
	}
	return types.Detection{Timestamp: t, Class: class, Confidence: conf, Violation: violation, CameraID: "cam_01"}
}

func sample() rows {
	return rows{
		det("2024-03-10 23:59:00", "dog", 0.95, false),
		det("2024-03-11 09:00:00", "person", 0.9, true),
		det("2024-03-11 09:30:00", "car", 0.6, false),
		det("2024-03-11 14:00:00", "person", 0.8, true),
		det("2024-03-12 08:00:00", "truck", 0.5, false),
	}
}

func newService(t *testing.T, src Source) *Service {
	t.Helper()
	s := NewService(src, filepath.Join(t.TempDir(), "reports"), time.UTC)
	s.now = func() time.Time { return now }
	return s
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestDaily_DefaultsToYesterday(t *testing.T) {
	s := newService(t, sample())
	var kinds []string
	s.OnGenerated(func(k string) { kinds = append(kinds, k) })

	r, err := s.Daily(time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-11", r.Date)
	assert.Equal(t, 3, r.Summary.TotalDetections)
	assert.Equal(t, 2, r.Summary.TotalViolations)
	assert.Equal(t, 66.67, r.Summary.ViolationRate)
	assert.Equal(t, 76.67, r.Summary.AvgConfidence)
	assert.Equal(t, 2, r.Summary.UniqueClasses)
	assert.Equal(t, map[string]int{"9": 2, "14": 1}, r.HourlyBreakdown)
	assert.Equal(t, map[string]int{"9": 1, "14": 1}, r.ViolationsByHour)
	assert.Equal(t, map[string]int{"person": 2, "car": 1}, r.ClassDistribution)
	assert.Equal(t, 9, r.PeakHour)
	assert.Equal(t, []string{KindDaily}, kinds)

	saved := readJSON(t, filepath.Join(s.Dir(), "daily_report_20240311.json"))
	assert.Equal(t, "Daily Summary", saved["report_type"])
	assert.Contains(t, saved, "violations_by_hour")
}

func TestDaily_NoData(t *testing.T) {
	s := newService(t, sample())
	_, err := s.Daily(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoData)
	_, statErr := os.Stat(filepath.Join(s.Dir(), "daily_report_20240301.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWeekly(t *testing.T) {
	s := newService(t, sample())
	r, err := s.Weekly(time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-05 to 2024-03-12", r.Period)
	assert.Equal(t, 5, r.Summary.TotalDetections)
	assert.Equal(t, 0.71, r.Summary.DailyAvgDetections)
	assert.Equal(t, 0.29, r.Summary.DailyAvgViolations)
	assert.Equal(t, map[string]int{"2024-03-10": 1, "2024-03-11": 3, "2024-03-12": 1}, r.DailyDetections)
	assert.Equal(t, map[string]int{"2024-03-11": 2}, r.DailyViolations)
	assert.Equal(t, map[string]int{"Sunday": 1, "Monday": 3, "Tuesday": 1}, r.DayOfWeek)
	assert.FileExists(t, filepath.Join(s.Dir(), "weekly_report_20240312.json"))
}

func TestMonthly(t *testing.T) {
	s := newService(t, sample())
	r, err := s.Monthly(2024, time.March)
	require.NoError(t, err)

	assert.Equal(t, "March 2024", r.Period)
	assert.Equal(t, 3, r.Summary.ActiveDays)
	assert.Equal(t, 4, r.Summary.UniqueClasses)
	assert.Equal(t, map[string]int{"Week 1": 0, "Week 2": 5, "Week 3": 0, "Week 4": 0}, r.WeeklyBreakdown)
	assert.Equal(t, 5, r.ExecutiveSummary.KeyMetrics.TotalDetections)
	assert.FileExists(t, filepath.Join(s.Dir(), "monthly_report_202403.json"))

	_, err = s.Monthly(2024, time.February)
	assert.ErrorIs(t, err, ErrNoData)
	_, err = s.Monthly(2024, 13)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestMonthly_DefaultsToCurrentMonth(t *testing.T) {
	r, err := newService(t, sample()).Monthly(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "March 2024", r.Period)
}

func TestCompliance(t *testing.T) {
	s := newService(t, sample())

	osha, err := s.Compliance("osha")
	require.NoError(t, err)
	assert.Equal(t, "OSHA Compliance Report", osha.ReportType)
	assert.Equal(t, 720.0, osha.SystemInfo.TotalMonitoredHours)
	assert.Equal(t, 2, osha.SystemInfo.TotalIncidents)
	assert.Equal(t, 0.07, osha.SystemInfo.IncidentRate)
	require.NotNil(t, osha.SafetyIncidents)
	assert.Equal(t, 2, *osha.SafetyIncidents)
	assert.Equal(t, "Low", osha.IncidentSeverity)
	assert.Equal(t, "Compliant", osha.ComplianceStatus)
	assert.Nil(t, osha.QualityMetrics)
	assert.FileExists(t, filepath.Join(s.Dir(), "compliance_osha_20240312.json"))

	iso, err := s.Compliance("ISO")
	require.NoError(t, err)
	require.NotNil(t, iso.QualityMetrics)
	assert.Equal(t, "100%", iso.QualityMetrics.ProcessAdherence)
	assert.Equal(t, "ISO 27001 Compliant", iso.ComplianceStatus)

	soc, err := s.Compliance("Soc2")
	require.NoError(t, err)
	require.NotNil(t, soc.SecurityControls)
	assert.Equal(t, "Complete", soc.AuditTrail)
	assert.Equal(t, "SOC 2 Type II Ready", soc.ComplianceStatus)

	_, err = s.Compliance("pci")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestCompliance_OSHAThresholds(t *testing.T) {
	var src rows
	for i := 0; i < 50; i++ {
		src = append(src, types.Detection{Timestamp: now.Add(-time.Duration(i+1) * time.Hour), Class: "person", Confidence: 0.9, Violation: true})
	}
	r, err := newService(t, src).Compliance(OSHA)
	require.NoError(t, err)
	assert.Equal(t, "Medium", r.IncidentSeverity)
	assert.Equal(t, "Review Required", r.ComplianceStatus)
}

func TestRenderHTML(t *testing.T) {
	s := newService(t, sample())
	daily, err := s.Daily(time.Time{})
	require.NoError(t, err)

	html, err := RenderHTML(daily, TemplateOperational)
	require.NoError(t, err)
	assert.Contains(t, html, "Daily Security Report")
	assert.Contains(t, html, "Hourly Breakdown")
	assert.Contains(t, html, "09:00")
	assert.Contains(t, html, "2024-03-11 14:00:00")

	html, err = RenderHTML(daily, "no-such-template")
	require.NoError(t, err)
	assert.Contains(t, html, "Key Performance Indicators")
	assert.NotContains(t, html, "Hourly Breakdown")

	osha, err := s.Compliance(OSHA)
	require.NoError(t, err)
	html, err = RenderHTML(osha, TemplateCompliance)
	require.NoError(t, err)
	assert.Contains(t, html, "Compliant")
	assert.Contains(t, html, "0.07 per day")

	for _, info := range Templates() {
		_, err := RenderHTML(daily, info.ID)
		assert.NoError(t, err, info.ID)
	}
}

func TestSubject(t *testing.T) {
	s := newService(t, sample())
	daily, err := s.Daily(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "[Security Report] Daily Intrusion Detection Summary - 2024-03-11", Subject(daily))
}

type fakeMailer struct {
	subject    string
	recipients []string
	atts       []mailer.Attachment
}

func (f *fakeMailer) SendReport(_ context.Context, subject, _ string, recipients []string, atts []mailer.Attachment) mailer.Result {
	f.subject, f.recipients, f.atts = subject, recipients, atts
	return mailer.Result{Status: mailer.StatusSuccess, Recipients: recipients}
}

func TestDispatcher_Deliver(t *testing.T) {
	s := newService(t, sample())
	fm := &fakeMailer{}
	d := NewDispatcher(s, fm)

	out, err := d.Deliver(context.Background(), Request{
		ReportType:    "Daily",
		TemplateType:  "bogus",
		Date:          "2024-03-11",
		Recipients:    []string{"ops@example.com"},
		IncludeCSV:    true,
		IncludeCharts: true,
		IncludePDF:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, mailer.StatusSuccess, out.Status)
	assert.Equal(t, KindDaily, out.ReportType)
	assert.Equal(t, TemplateSummary, out.Template)
	assert.NotEmpty(t, out.Note)
	assert.Equal(t, filepath.Join(s.Dir(), "daily_report_20240311.json"), out.ReportPath)
	assert.Equal(t, []string{"ops@example.com"}, fm.recipients)

	require.NotEmpty(t, fm.atts)
	assert.Equal(t, "report_daily_20240312.csv", fm.atts[0].Name)
	for _, a := range fm.atts {
		assert.FileExists(t, a.Path)
	}
	csv, err := os.ReadFile(fm.atts[0].Path)
	require.NoError(t, err)
	assert.Contains(t, string(csv), "2024-03-11 09:30:00,car,0.6000,No,cam_01")
}

func TestDispatcher_Errors(t *testing.T) {
	d := NewDispatcher(newService(t, sample()), &fakeMailer{})
	ctx := context.Background()

	_, err := d.Deliver(ctx, Request{ReportType: "yearly"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = d.Deliver(ctx, Request{ReportType: KindDaily, Date: "11/03/2024"})
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = d.Deliver(ctx, Request{ReportType: KindDaily, Date: "2024-01-01"})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestGenerate_ComplianceDefaultsToOSHA(t *testing.T) {
	r, err := NewDispatcher(newService(t, sample()), &fakeMailer{}).Generate(Request{ReportType: KindCompliance})
	require.NoError(t, err)
	c, ok := r.(*ComplianceReport)
	require.True(t, ok)
	assert.Equal(t, OSHA, c.Framework())
}
