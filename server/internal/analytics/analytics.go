package analytics

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
)

// ErrInsufficientData is returned when a computation needs more history than
// the rows provide.
var ErrInsufficientData = errors.New("analytics: insufficient data")

// ErrUnknown is returned for an unknown chart or anomaly method name.
var ErrUnknown = errors.New("analytics: unknown")

// ErrOutOfRange is returned for a day count outside 1..MaxDays.
var ErrOutOfRange = errors.New("analytics: out of range")

// Window restricts rows to From <= timestamp <= To. A zero bound is open.
type Window struct {
	From time.Time
	To   time.Time
}

// Apply returns the rows inside w.
func (w Window) Apply(ds []types.Detection) []types.Detection {
	if w.From.IsZero() && w.To.IsZero() {
		return ds
	}
	out := make([]types.Detection, 0, len(ds))
	for _, d := range ds {
		if !w.From.IsZero() && d.Timestamp.Before(w.From) {
			continue
		}
		if !w.To.IsZero() && d.Timestamp.After(w.To) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Record is the tabular view of a detection, keyed by the log's column names.
type Record struct {
	Timestamp  string  `json:"Timestamp"`
	Class      string  `json:"Class"`
	Confidence float64 `json:"Confidence"`
	Violation  string  `json:"Restricted Area Violation"`
	Camera     string  `json:"Camera,omitempty"`
}

// Records converts rows to their tabular view, preserving order.
func Records(ds []types.Detection) []Record {
	out := make([]Record, 0, len(ds))
	for _, d := range ds {
		out = append(out, Record{
			Timestamp:  d.Timestamp.Format(types.TimeLayout),
			Class:      d.Class,
			Confidence: d.Confidence,
			Violation:  types.FormatViolation(d.Violation),
			Camera:     d.CameraID,
		})
	}
	return out
}

// Violations returns the rows flagged as restricted-area violations.
func Violations(ds []types.Detection) []types.Detection {
	var out []types.Detection
	for _, d := range ds {
		if d.Violation {
			out = append(out, d)
		}
	}
	return out
}

// Summary is the detection overview pushed to the live dashboard.
type Summary struct {
	TotalDetections   int       `json:"total_detections"`
	TotalViolations   int       `json:"total_violations"`
	AlertClasses      int       `json:"alert_classes"`
	AvgConfidence     float64   `json:"avg_confidence"`
	MostFrequentClass string    `json:"most_frequent_class"`
	UniqueClasses     []string  `json:"unique_classes"`
	Top5Violations    []Record  `json:"top_5_violations"`
	Timestamp         time.Time `json:"timestamp"`
}

// Summarize builds the overview. Top5Violations holds the five most recent
// violation rows, oldest first.
func Summarize(ds []types.Detection, now time.Time) Summary {
	v := Violations(ds)
	s := Summary{
		TotalDetections:   len(ds),
		TotalViolations:   len(v),
		AlertClasses:      len(uniqueClasses(v)),
		AvgConfidence:     types.Round2(meanConfidence(ds) * 100),
		MostFrequentClass: mode(ds, "N/A"),
		UniqueClasses:     uniqueClasses(ds),
		Top5Violations:    Records(tail(v, 5)),
		Timestamp:         now,
	}
	return s
}

// Stats is the compact headline block of the analytics page.
type Stats struct {
	TotalDetections int     `json:"total_detections"`
	TotalViolations int     `json:"total_violations"`
	TotalSafe       int     `json:"total_safe"`
	ViolationRate   float64 `json:"violation_rate"`
	AvgConfidence   float64 `json:"avg_confidence"`
	TopClass        string  `json:"top_class"`
}

// ComputeStats returns the headline statistics; empty input yields zeros and
// a "-" top class.
func ComputeStats(ds []types.Detection) Stats {
	v := len(Violations(ds))
	return Stats{
		TotalDetections: len(ds),
		TotalViolations: v,
		TotalSafe:       len(ds) - v,
		ViolationRate:   pct(v, len(ds)),
		AvgConfidence:   types.Round2(meanConfidence(ds) * 100),
		TopClass:        mode(ds, "-"),
	}
}

// TodayStats summarizes the current calendar day.
type TodayStats struct {
	TodayCount      int     `json:"today_count"`
	WeekCount       int     `json:"week_count"`
	ViolationRate   float64 `json:"violation_rate"`
	AvgConfidence   float64 `json:"avg_confidence"`
	TotalDetections int     `json:"total_detections"`
	TotalViolations int     `json:"total_violations"`
}

// Today counts rows since local midnight and in the seven days before it.
// The violation rate covers all rows; the confidence covers today only.
func Today(ds []types.Detection, now time.Time) TodayStats {
	start := startOfDay(now)
	weekAgo := start.AddDate(0, 0, -7)
	var today []types.Detection
	week := 0
	for _, d := range ds {
		if !d.Timestamp.Before(weekAgo) {
			week++
		}
		if !d.Timestamp.Before(start) && d.Timestamp.Before(start.AddDate(0, 0, 1)) {
			today = append(today, d)
		}
	}
	v := len(Violations(ds))
	return TodayStats{
		TodayCount:      len(today),
		WeekCount:       week,
		ViolationRate:   pct(v, len(ds)),
		AvgConfidence:   types.Round2(meanConfidence(today) * 100),
		TotalDetections: len(ds),
		TotalViolations: v,
	}
}

// Alert is one violation as listed by the alert endpoints.
type Alert struct {
	Timestamp   string  `json:"timestamp"`
	Class       string  `json:"class"`
	Confidence  float64 `json:"confidence"`
	Camera      string  `json:"camera_id,omitempty"`
	IsViolation bool    `json:"is_violation,omitempty"`
}

// AlertList is the response of the alert listing.
type AlertList struct {
	TotalAlerts  int       `json:"total_alerts"`
	RecentAlerts int       `json:"recent_alerts"`
	Alerts       []Alert   `json:"alerts"`
	Timestamp    time.Time `json:"timestamp"`
}

// Alerts returns up to limit violations, newest first.
func Alerts(ds []types.Detection, limit int, now time.Time) AlertList {
	v := Violations(ds)
	alerts := toAlerts(newestFirst(v), limit, true)
	return AlertList{
		TotalAlerts:  len(v),
		RecentAlerts: len(alerts),
		Alerts:       alerts,
		Timestamp:    now,
	}
}

// RecentAlertList is the response of the recent alert window.
type RecentAlertList struct {
	TotalAlerts    int       `json:"total_alerts"`
	TimeRangeHours int       `json:"time_range_hours"`
	Alerts         []Alert   `json:"alerts"`
	Timestamp      time.Time `json:"timestamp"`
}

// RecentAlerts returns violations from the last hours, newest first.
func RecentAlerts(ds []types.Detection, hours int, now time.Time) RecentAlertList {
	cutoff := now.Add(-time.Duration(hours) * time.Hour)
	var v []types.Detection
	for _, d := range ds {
		if d.Violation && !d.Timestamp.Before(cutoff) {
			v = append(v, d)
		}
	}
	alerts := toAlerts(newestFirst(v), 0, false)
	return RecentAlertList{
		TotalAlerts:    len(alerts),
		TimeRangeHours: hours,
		Alerts:         alerts,
		Timestamp:      now,
	}
}

// AlertStatistics aggregates violations over time.
type AlertStatistics struct {
	TotalAlerts   int       `json:"total_alerts"`
	TodayAlerts   int       `json:"today_alerts"`
	WeekAlerts    int       `json:"week_alerts"`
	UniqueClasses int       `json:"unique_classes"`
	TopClass      *string   `json:"top_class"`
	AvgConfidence float64   `json:"avg_confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// AlertStats counts violations today and in the last seven days.
func AlertStats(ds []types.Detection, now time.Time) AlertStatistics {
	v := Violations(ds)
	start := startOfDay(now)
	weekAgo := now.AddDate(0, 0, -7)
	st := AlertStatistics{
		TotalAlerts:   len(v),
		UniqueClasses: len(uniqueClasses(v)),
		AvgConfidence: types.Round2(meanConfidence(v) * 100),
		Timestamp:     now,
	}
	for _, d := range v {
		if !d.Timestamp.Before(start) && d.Timestamp.Before(start.AddDate(0, 0, 1)) {
			st.TodayAlerts++
		}
		if !d.Timestamp.Before(weekAgo) {
			st.WeekAlerts++
		}
	}
	if len(v) > 0 {
		top := mode(v, "")
		st.TopClass = &top
	}
	return st
}

func toAlerts(ds []types.Detection, limit int, flag bool) []Alert {
	if limit > 0 && len(ds) > limit {
		ds = ds[:limit]
	}
	out := make([]Alert, 0, len(ds))
	for _, d := range ds {
		out = append(out, Alert{
			Timestamp:   d.Timestamp.Format(types.TimeLayout),
			Class:       d.Class,
			Confidence:  d.ConfidencePct(),
			Camera:      d.CameraID,
			IsViolation: flag,
		})
	}
	return out
}

// newestFirst returns a reversed copy of rows sorted oldest first.
func newestFirst(ds []types.Detection) []types.Detection {
	out := make([]types.Detection, len(ds))
	for i, d := range ds {
		out[len(ds)-1-i] = d
	}
	return out
}

func tail(ds []types.Detection, n int) []types.Detection {
	if len(ds) > n {
		return ds[len(ds)-n:]
	}
	return ds
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// pct returns part/whole*100 rounded to 2 decimals, or 0 for an empty whole.
func pct(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return types.Round2(float64(part) / float64(whole) * 100)
}

func meanConfidence(ds []types.Detection) float64 {
	if len(ds) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range ds {
		sum += d.Confidence
	}
	return sum / float64(len(ds))
}

func confidences(ds []types.Detection) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = d.Confidence
	}
	return out
}

// classCount is one class with its row count.
type classCount struct {
	Class string
	Count int
}

// countClasses returns classes by descending count, ties by name.
func countClasses(ds []types.Detection) []classCount {
	counts := map[string]int{}
	for _, d := range ds {
		counts[d.Class]++
	}
	out := make([]classCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, classCount{c, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// mode returns the most frequent class, or empty when ds is empty.
func mode(ds []types.Detection, empty string) string {
	cc := countClasses(ds)
	if len(cc) == 0 {
		return empty
	}
	return cc[0].Class
}

// uniqueClasses lists classes in order of first appearance.
func uniqueClasses(ds []types.Detection) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, d := range ds {
		if !seen[d.Class] {
			seen[d.Class] = true
			out = append(out, d.Class)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stdDev returns the standard deviation with ddof degrees of freedom removed
// (0 for population, 1 for sample). Too few values yield 0.
func stdDev(xs []float64, ddof int) float64 {
	n := len(xs) - ddof
	if n <= 0 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(n))
}

// percentile returns the p-th percentile (0..100) of xs with linear
// interpolation between closest ranks.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return s[lo]
	}
	return s[lo] + (s[hi]-s[lo])*(rank-float64(lo))
}

func maxInt(xs []int) int {
	m := 0
	for i, x := range xs {
		if i == 0 || x > m {
			m = x
		}
	}
	return m
}

func minInt(xs []int) int {
	m := 0
	for i, x := range xs {
		if i == 0 || x < m {
			m = x
		}
	}
	return m
}
