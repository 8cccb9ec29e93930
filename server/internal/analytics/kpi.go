package analytics

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/areawatch/areawatch/pkg/types"
)

// Incident grouping and response estimation.
const (
	IncidentGap      = 5 * time.Minute
	ResponseOverhead = 3 * time.Minute

	// LowConfidence marks detections counted as likely false positives.
	LowConfidence = 0.7
)

// MTTRResult estimates the mean time to respond to violation incidents.
type MTTRResult struct {
	MTTRMinutes                float64 `json:"mttr_minutes"`
	MTTRFormatted              string  `json:"mttr_formatted"`
	TotalIncidents             int     `json:"total_incidents"`
	RespondedIncidents         int     `json:"responded_incidents"`
	ResponseRate               float64 `json:"response_rate"`
	AvgIncidentDurationMinutes float64 `json:"avg_incident_duration_minutes"`
}

// Incidents groups violations (oldest first) into runs where consecutive
// rows are at most IncidentGap apart.
func Incidents(ds []types.Detection) [][]types.Detection {
	v := Violations(ds)
	if len(v) == 0 {
		return nil
	}
	var out [][]types.Detection
	cur := []types.Detection{v[0]}
	for _, d := range v[1:] {
		if d.Timestamp.Sub(cur[len(cur)-1].Timestamp) <= IncidentGap {
			cur = append(cur, d)
			continue
		}
		out = append(out, cur)
		cur = []types.Detection{d}
	}
	return append(out, cur)
}

// MTTR treats every incident as responded to ResponseOverhead after its last
// detection.
func MTTR(ds []types.Detection) MTTRResult {
	incidents := Incidents(ds)
	if len(incidents) == 0 {
		return MTTRResult{MTTRFormatted: "00:00:00"}
	}
	var resp, dur float64
	for _, inc := range incidents {
		d := inc[len(inc)-1].Timestamp.Sub(inc[0].Timestamp).Minutes()
		dur += d
		resp += d + ResponseOverhead.Minutes()
	}
	n := float64(len(incidents))
	mttr := resp / n
	return MTTRResult{
		MTTRMinutes:                types.Round2(mttr),
		MTTRFormatted:              formatClock(time.Duration(int(mttr)) * time.Minute),
		TotalIncidents:             len(incidents),
		RespondedIncidents:         len(incidents),
		ResponseRate:               100,
		AvgIncidentDurationMinutes: types.Round2(dur / n),
	}
}

// formatClock renders d as H:MM:SS.
func formatClock(d time.Duration) string {
	s := int(d.Seconds())
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s%3600/60, s%60)
}

// FPRResult estimates false positives from low-confidence detections.
type FPRResult struct {
	FalsePositiveRate       float64 `json:"false_positive_rate"`
	TotalDetections         int     `json:"total_detections"`
	TruePositives           int     `json:"true_positives"`
	FalsePositives          int     `json:"false_positives"`
	Precision               float64 `json:"precision"`
	LowConfidenceDetections int     `json:"low_confidence_detections"`
	AvgConfidence           float64 `json:"avg_confidence"`
	ConfidenceStd           float64 `json:"confidence_std"`
}

// FalsePositiveRate counts detections below LowConfidence as false positives.
func FalsePositiveRate(ds []types.Detection) FPRResult {
	low := 0
	for _, d := range ds {
		if d.Confidence < LowConfidence {
			low++
		}
	}
	return FPRResult{
		FalsePositiveRate:       pct(low, len(ds)),
		TotalDetections:         len(ds),
		TruePositives:           len(ds) - low,
		FalsePositives:          low,
		Precision:               pct(len(ds)-low, len(ds)),
		LowConfidenceDetections: low,
		AvgConfidence:           types.Round2(meanConfidence(ds) * 100),
		ConfidenceStd:           types.Round2(stdDev(confidences(ds), 1) * 100),
	}
}

// CoverageResult describes how continuously the area was monitored.
type CoverageResult struct {
	CoveragePercentage  float64 `json:"coverage_percentage"`
	TotalHoursMonitored float64 `json:"total_hours_monitored"`
	HoursWithDetections int     `json:"hours_with_detections"`
	GapsDetected        int     `json:"gaps_detected"`
	UptimePercentage    float64 `json:"uptime_percentage"`
	MaxGapHours         float64 `json:"max_gap_hours"`
}

// Coverage compares distinct hour slots with detections against the span
// between the first and last row. A gap is more than an hour without rows.
func Coverage(ds []types.Detection) CoverageResult {
	if len(ds) == 0 {
		return CoverageResult{}
	}
	first, last := ds[0].Timestamp, ds[len(ds)-1].Timestamp
	total := last.Sub(first).Hours()

	slots := map[time.Time]bool{}
	gaps := 0
	var maxGap time.Duration
	for i, d := range ds {
		slots[d.Timestamp.Truncate(time.Hour)] = true
		if i == 0 {
			continue
		}
		gap := d.Timestamp.Sub(ds[i-1].Timestamp)
		if gap > time.Hour {
			gaps++
		}
		if gap > maxGap {
			maxGap = gap
		}
	}

	cov := 0.0
	if total > 0 {
		denom := total
		if denom < 1 {
			denom = 1
		}
		cov = float64(len(slots)) / denom * 100
	}
	return CoverageResult{
		CoveragePercentage:  types.Round2(cov),
		TotalHoursMonitored: types.Round2(total),
		HoursWithDetections: len(slots),
		GapsDetected:        gaps,
		UptimePercentage:    types.Round2(100 - float64(gaps)/float64(len(ds))*100),
		MaxGapHours:         types.Round2(maxGap.Hours()),
	}
}

// KeyMetrics is the headline block of the executive summary.
type KeyMetrics struct {
	TotalDetections    int     `json:"total_detections"`
	TotalViolations    int     `json:"total_violations"`
	ViolationRate      float64 `json:"violation_rate"`
	AvgConfidence      float64 `json:"avg_confidence"`
	MTTRMinutes        float64 `json:"mttr_minutes"`
	FalsePositiveRate  float64 `json:"false_positive_rate"`
	CoveragePercentage float64 `json:"coverage_percentage"`
}

// Executive is a narrative summary with recommendations.
type Executive struct {
	Period          string     `json:"period"`
	KeyMetrics      KeyMetrics `json:"key_metrics"`
	Insights        []string   `json:"insights"`
	Recommendations []string   `json:"recommendations"`
	Trend           string     `json:"trend"`
	PeakHour        int        `json:"peak_hour"`
	MostCommonClass string     `json:"most_common_class"`
}

// Recommendation thresholds.
const (
	HighViolationRate = 20.0
	LowAvgConfidence  = 75.0
)

// ExecutiveSummary derives key metrics, trend and peak hour from ds.
func ExecutiveSummary(ds []types.Detection) Executive {
	if len(ds) == 0 {
		return Executive{
			Period:          "No data for specified period",
			Insights:        []string{"No data available for the specified date range"},
			Recommendations: []string{},
			Trend:           "stable",
			MostCommonClass: "N/A",
		}
	}

	v := Violations(ds)
	rate := pct(len(v), len(ds))
	avgConf := meanConfidence(ds) * 100

	trend := "stable"
	if days := dailySeries(v); len(days) > 1 && days[len(days)-1].Violations > days[0].Violations {
		trend = "increasing"
	}

	peak := peakHour(v)
	common := mode(ds, "N/A")

	insights := []string{
		fmt.Sprintf("Total %s detections with %s violations (%.1f%% violation rate)",
			humanize.Comma(int64(len(ds))), humanize.Comma(int64(len(v))), rate),
		"Violation trend is " + trend,
		fmt.Sprintf("Peak violation hour: %d:00", peak),
		"Most detected class: " + common,
		fmt.Sprintf("Average confidence: %.1f%%", avgConf),
	}

	recs := []string{}
	if rate > HighViolationRate {
		recs = append(recs, "High violation rate: consider increasing security presence")
	}
	if avgConf < LowAvgConfidence {
		recs = append(recs, "Low confidence scores: review camera positioning and lighting")
	}
	if peak != 0 {
		recs = append(recs, fmt.Sprintf("Focus security resources around %d:00", peak))
	}

	return Executive{
		Period: fmt.Sprintf("%s to %s",
			ds[0].Timestamp.Format("2006-01-02"), ds[len(ds)-1].Timestamp.Format("2006-01-02")),
		KeyMetrics: KeyMetrics{
			TotalDetections:    len(ds),
			TotalViolations:    len(v),
			ViolationRate:      rate,
			AvgConfidence:      types.Round2(avgConf),
			MTTRMinutes:        MTTR(ds).MTTRMinutes,
			FalsePositiveRate:  FalsePositiveRate(ds).FalsePositiveRate,
			CoveragePercentage: Coverage(ds).CoveragePercentage,
		},
		Insights:        insights,
		Recommendations: recs,
		Trend:           trend,
		PeakHour:        peak,
		MostCommonClass: common,
	}
}

// peakHour returns the hour of day with the most rows, lowest hour on ties,
// or 0 for no rows.
func peakHour(ds []types.Detection) int {
	h := hourCounts(ds)
	best := 0
	for i := 1; i < 24; i++ {
		if h[i] > h[best] {
			best = i
		}
	}
	return best
}

func hourCounts(ds []types.Detection) [24]int {
	var h [24]int
	for _, d := range ds {
		h[d.Timestamp.Hour()]++
	}
	return h
}

// KPIs is the extended indicator set.
type KPIs struct {
	TotalDetections     int     `json:"total_detections"`
	AvgConfidence       float64 `json:"avg_confidence"`
	MaxConfidence       float64 `json:"max_confidence"`
	MinConfidence       float64 `json:"min_confidence"`
	StdConfidence       float64 `json:"std_confidence"`
	ConfidenceMedian    float64 `json:"confidence_median"`
	TotalViolations     int     `json:"total_violations"`
	ViolationRate       float64 `json:"violation_rate"`
	ComplianceRate      float64 `json:"compliance_rate"`
	DaysWithDetections  int     `json:"days_with_detections"`
	AvgDetectionsPerDay float64 `json:"avg_detections_per_day"`
	MaxDetectionsPerDay int     `json:"max_detections_per_day"`
	UniqueClasses       int     `json:"unique_classes_detected"`
	ClassDiversityIndex float64 `json:"class_diversity_index"`
}

// AdvancedResult wraps KPIs with a status.
type AdvancedResult struct {
	Status string `json:"status"`
	KPIs   KPIs   `json:"kpis"`
}

// AdvancedKPIs returns ErrInsufficientData for no rows.
func AdvancedKPIs(ds []types.Detection) (AdvancedResult, error) {
	if len(ds) == 0 {
		return AdvancedResult{}, fmt.Errorf("%w: no detections", ErrInsufficientData)
	}
	cs := confidences(ds)
	k := KPIs{
		TotalDetections:  len(ds),
		AvgConfidence:    mean(cs),
		MaxConfidence:    percentile(cs, 100),
		MinConfidence:    percentile(cs, 0),
		StdConfidence:    stdDev(cs, 1),
		ConfidenceMedian: percentile(cs, 50),
	}
	v := len(Violations(ds))
	k.TotalViolations = v
	k.ViolationRate = pct(v, len(ds))
	k.ComplianceRate = pct(len(ds)-v, len(ds))

	days := dailySeries(ds)
	counts := make([]int, len(days))
	total := 0
	for i, d := range days {
		counts[i] = d.Detections
		total += d.Detections
	}
	k.DaysWithDetections = len(days)
	k.AvgDetectionsPerDay = types.Round2(float64(total) / float64(len(days)))
	k.MaxDetectionsPerDay = maxInt(counts)

	k.UniqueClasses = len(uniqueClasses(ds))
	k.ClassDiversityIndex = float64(k.UniqueClasses) / float64(len(ds))
	return AdvancedResult{Status: "success", KPIs: k}, nil
}
