package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
)

// Palette is the dashboard's categorical color cycle.
var Palette = []string{"#00d4ff", "#7c3aed", "#ec4899", "#22c55e", "#f59e0b", "#ef4444", "#06b6d4", "#8b5cf6"}

// Chart dataset names, as used in the charts route.
const (
	ChartClassDistribution = "class-distribution"
	ChartViolationTrend    = "violation-trend"
	ChartConfidenceByClass = "confidence-by-class"
	ChartHourlyActivity    = "hourly-activity"
	ChartViolationStatus   = "violation-status"
	DefaultTrendChartDays  = 7
)

// ChartNames lists the available datasets.
var ChartNames = []string{
	ChartClassDistribution, ChartViolationTrend, ChartConfidenceByClass,
	ChartHourlyActivity, ChartViolationStatus,
}

// Distribution is a labelled count series with colors.
type Distribution struct {
	Labels []string `json:"labels"`
	Data   []int    `json:"data"`
	Colors []string `json:"colors"`
}

// ClassDistribution counts rows per class, most frequent first.
func ClassDistribution(ds []types.Detection) Distribution {
	out := Distribution{Labels: []string{}, Data: []int{}, Colors: []string{}}
	for i, c := range countClasses(ds) {
		out.Labels = append(out.Labels, c.Class)
		out.Data = append(out.Data, c.Count)
		out.Colors = append(out.Colors, Palette[i%len(Palette)])
	}
	return out
}

// ViolationStatus splits rows into violations and safe.
func ViolationStatus(ds []types.Detection) Distribution {
	if len(ds) == 0 {
		return Distribution{Labels: []string{}, Data: []int{}, Colors: []string{}}
	}
	v := len(Violations(ds))
	return Distribution{
		Labels: []string{"Violations", "Safe"},
		Data:   []int{v, len(ds) - v},
		Colors: []string{"#ef4444", "#22c55e"},
	}
}

// Series pairs detections and violations per label.
type Series struct {
	Labels     []string `json:"labels"`
	Detections []int    `json:"detections"`
	Violations []int    `json:"violations"`
}

// ViolationTrend counts per day over the last days days, filling every
// calendar day between the first and last row.
func ViolationTrend(ds []types.Detection, days int, now time.Time) Series {
	out := Series{Labels: []string{}, Detections: []int{}, Violations: []int{}}
	rows := Window{From: now.AddDate(0, 0, -days)}.Apply(ds)
	series := dailySeries(rows)
	if len(series) == 0 {
		return out
	}
	byDate := make(map[string]day, len(series))
	for _, d := range series {
		byDate[d.Date.Format(dateLayout)] = d
	}
	last := series[len(series)-1].Date
	for t := series[0].Date; !t.After(last); t = t.AddDate(0, 0, 1) {
		key := t.Format(dateLayout)
		d := byDate[key]
		out.Labels = append(out.Labels, key)
		out.Detections = append(out.Detections, d.Detections)
		out.Violations = append(out.Violations, d.Violations)
	}
	return out
}

// HourlyActivity counts per hour of day over all 24 slots.
func HourlyActivity(ds []types.Detection) Series {
	out := Series{Labels: make([]string, 24), Detections: make([]int, 24), Violations: make([]int, 24)}
	if len(ds) == 0 {
		return Series{Labels: []string{}, Detections: []int{}, Violations: []int{}}
	}
	for h := 0; h < 24; h++ {
		out.Labels[h] = fmt.Sprintf("%02d:00", h)
	}
	for _, d := range ds {
		h := d.Timestamp.Hour()
		out.Detections[h]++
		if d.Violation {
			out.Violations[h]++
		}
	}
	return out
}

// Averages is a labelled value series.
type Averages struct {
	Labels []string  `json:"labels"`
	Data   []float64 `json:"data"`
}

// ConfidenceByClass is the mean confidence percentage per class, ascending.
func ConfidenceByClass(ds []types.Detection) Averages {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, d := range ds {
		sums[d.Class] += d.Confidence
		counts[d.Class]++
	}
	type kv struct {
		class string
		avg   float64
	}
	rows := make([]kv, 0, len(sums))
	for c, s := range sums {
		rows = append(rows, kv{c, s / float64(counts[c]) * 100})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].avg != rows[j].avg {
			return rows[i].avg < rows[j].avg
		}
		return rows[i].class < rows[j].class
	})
	out := Averages{Labels: []string{}, Data: []float64{}}
	for _, r := range rows {
		out.Labels = append(out.Labels, r.class)
		out.Data = append(out.Data, types.Round2(r.avg))
	}
	return out
}

// ChartData returns the named dataset. days only affects violation-trend.
func ChartData(name string, ds []types.Detection, days int, now time.Time) (any, error) {
	switch name {
	case ChartClassDistribution:
		return ClassDistribution(ds), nil
	case ChartViolationTrend:
		if days <= 0 {
			days = DefaultTrendChartDays
		}
		return ViolationTrend(ds, days, now), nil
	case ChartConfidenceByClass:
		return ConfidenceByClass(ds), nil
	case ChartHourlyActivity:
		return HourlyActivity(ds), nil
	case ChartViolationStatus:
		return ViolationStatus(ds), nil
	}
	return nil, fmt.Errorf("%w chart %q", ErrUnknown, name)
}

// DashboardKPIs groups the three headline KPIs.
type DashboardKPIs struct {
	MTTR              MTTRResult     `json:"mttr"`
	FalsePositiveRate FPRResult      `json:"false_positive_rate"`
	Coverage          CoverageResult `json:"coverage"`
}

// Dashboard is the combined analytics payload.
type Dashboard struct {
	GeneratedAt      time.Time     `json:"generated_at"`
	Period           string        `json:"period"`
	KPIs             DashboardKPIs `json:"kpis"`
	ExecutiveSummary Executive     `json:"executive_summary"`
	TrendAnalysis    *TrendResult  `json:"trend_analysis"`
}

// DashboardData computes KPIs and the summary for rows in w and the 30-day
// trend over all rows. The trend is null when the last 30 days are empty.
func DashboardData(ds []types.Detection, w Window, now time.Time) Dashboard {
	rows := w.Apply(ds)
	from, to := "Beginning", "Now"
	if !w.From.IsZero() {
		from = w.From.Format(dateLayout)
	}
	if !w.To.IsZero() {
		to = w.To.Format(dateLayout)
	}
	d := Dashboard{
		GeneratedAt: now,
		Period:      from + " to " + to,
		KPIs: DashboardKPIs{
			MTTR:              MTTR(rows),
			FalsePositiveRate: FalsePositiveRate(rows),
			Coverage:          Coverage(rows),
		},
		ExecutiveSummary: ExecutiveSummary(rows),
	}
	if tr, err := TrendAnalysis(ds, 30, now); err == nil {
		d.TrendAnalysis = &tr
	}
	return d
}
