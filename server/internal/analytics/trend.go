package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
)

const dateLayout = "2006-01-02"

// day aggregates the rows of one calendar day.
type day struct {
	Date       time.Time
	Detections int
	Violations int
	confSum    float64
}

// dailySeries groups rows by calendar day, oldest day first, skipping days
// without rows. The rows may come in any order.
func dailySeries(ds []types.Detection) []day {
	idx := make(map[int64]int)
	var out []day
	for _, d := range ds {
		date := startOfDay(d.Timestamp)
		i, ok := idx[date.Unix()]
		if !ok {
			i = len(out)
			idx[date.Unix()] = i
			out = append(out, day{Date: date})
		}
		cur := &out[i]
		cur.Detections++
		cur.confSum += d.Confidence
		if d.Violation {
			cur.Violations++
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// rollingMean is a trailing mean over window values, using fewer values at
// the start of the series.
func rollingMean(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = mean(xs[lo : i+1])
	}
	return out
}

// DailyPoint is one day of the trend series.
type DailyPoint struct {
	Date          string  `json:"date"`
	Detections    int     `json:"detections"`
	Violations    int     `json:"violations"`
	AvgConfidence float64 `json:"avg_confidence"`
	DetectionsMA7 float64 `json:"detections_ma7"`
	ViolationsMA7 float64 `json:"violations_ma7"`
}

// TrendResult describes daily activity over a period.
type TrendResult struct {
	PeriodDays         int          `json:"period_days"`
	DetectionTrend     string       `json:"detection_trend"`
	ViolationTrend     string       `json:"violation_trend"`
	DailyAvgDetections float64      `json:"daily_avg_detections"`
	DailyAvgViolations float64      `json:"daily_avg_violations"`
	MaxDailyDetections int          `json:"max_daily_detections"`
	MaxDailyViolations int          `json:"max_daily_violations"`
	DailyData          []DailyPoint `json:"daily_data"`
}

// TrendAnalysis compares the 7-day moving averages at both ends of the last
// days days.
func TrendAnalysis(ds []types.Detection, days int, now time.Time) (TrendResult, error) {
	rows := Window{From: now.AddDate(0, 0, -days), To: now}.Apply(ds)
	series := dailySeries(rows)
	if len(series) == 0 {
		return TrendResult{}, fmt.Errorf("%w: no detections in the last %d days", ErrInsufficientData, days)
	}

	det := make([]float64, len(series))
	vio := make([]float64, len(series))
	detInt := make([]int, len(series))
	vioInt := make([]int, len(series))
	for i, d := range series {
		det[i], vio[i] = float64(d.Detections), float64(d.Violations)
		detInt[i], vioInt[i] = d.Detections, d.Violations
	}
	detMA, vioMA := rollingMean(det, 7), rollingMean(vio, 7)

	points := make([]DailyPoint, len(series))
	for i, d := range series {
		points[i] = DailyPoint{
			Date:          d.Date.Format(dateLayout),
			Detections:    d.Detections,
			Violations:    d.Violations,
			AvgConfidence: d.confSum / float64(d.Detections),
			DetectionsMA7: types.Round2(detMA[i]),
			ViolationsMA7: types.Round2(vioMA[i]),
		}
	}

	direction := func(ma []float64) string {
		if ma[len(ma)-1] > ma[0] {
			return "increasing"
		}
		return "decreasing"
	}
	return TrendResult{
		PeriodDays:         days,
		DetectionTrend:     direction(detMA),
		ViolationTrend:     direction(vioMA),
		DailyAvgDetections: types.Round2(mean(det)),
		DailyAvgViolations: types.Round2(mean(vio)),
		MaxDailyDetections: maxInt(detInt),
		MaxDailyViolations: maxInt(vioInt),
		DailyData:          points,
	}, nil
}

// TrendStats is the predictive trend block.
type TrendStats struct {
	PeriodDays           int     `json:"period_days"`
	TotalDetections      int     `json:"total_detections"`
	DailyAvg             float64 `json:"daily_avg"`
	DailyMax             int     `json:"daily_max"`
	DailyMin             int     `json:"daily_min"`
	StdDeviation         float64 `json:"std_deviation"`
	PeakDay              string  `json:"peak_day"`
	SlowestDay           string  `json:"slowest_day"`
	TrendDirection       string  `json:"trend_direction,omitempty"`
	TrendStrengthPercent float64 `json:"trend_strength_percent"`
	PeakHour             int     `json:"peak_hour"`
	PeakHourDetections   int     `json:"peak_hour_detections"`
	ViolationRatePercent float64 `json:"violation_rate_percent"`
}

// PredictiveTrendResult wraps TrendStats with a status.
type PredictiveTrendResult struct {
	Status        string     `json:"status"`
	TrendAnalysis TrendStats `json:"trend_analysis"`
}

// PredictiveTrend classifies the last days days as increasing, decreasing or
// stable by comparing the mean daily count of the second half against the
// first half with a 10% band.
func PredictiveTrend(ds []types.Detection, days int, now time.Time) (PredictiveTrendResult, error) {
	rows := Window{From: now.AddDate(0, 0, -days)}.Apply(ds)
	series := dailySeries(rows)
	if len(series) == 0 {
		return PredictiveTrendResult{}, fmt.Errorf("%w: no detections in the last %d days", ErrInsufficientData, days)
	}

	counts := make([]int, len(series))
	fcounts := make([]float64, len(series))
	peak, slow := 0, 0
	for i, d := range series {
		counts[i], fcounts[i] = d.Detections, float64(d.Detections)
		if d.Detections > series[peak].Detections {
			peak = i
		}
		if d.Detections < series[slow].Detections {
			slow = i
		}
	}

	st := TrendStats{
		PeriodDays:      days,
		TotalDetections: len(rows),
		DailyAvg:        types.Round2(mean(fcounts)),
		DailyMax:        maxInt(counts),
		DailyMin:        minInt(counts),
		StdDeviation:    types.Round2(stdDev(fcounts, 1)),
		PeakDay:         series[peak].Date.Format(dateLayout),
		SlowestDay:      series[slow].Date.Format(dateLayout),
	}

	if n := len(fcounts); n >= 2 {
		first, second := mean(fcounts[:n/2]), mean(fcounts[n/2:])
		switch {
		case second > first*1.1:
			st.TrendDirection = "increasing"
			st.TrendStrengthPercent = types.Round2((second - first) / first * 100)
		case second < first*0.9:
			st.TrendDirection = "decreasing"
			st.TrendStrengthPercent = types.Round2((first - second) / first * 100)
		default:
			st.TrendDirection = "stable"
		}
	}

	h := hourCounts(rows)
	st.PeakHour = peakHour(rows)
	st.PeakHourDetections = h[st.PeakHour]
	st.ViolationRatePercent = pct(len(Violations(rows)), len(rows))

	return PredictiveTrendResult{Status: "success", TrendAnalysis: st}, nil
}

// ForecastPoint is the prediction for one future day.
type ForecastPoint struct {
	Date                string `json:"date"`
	PredictedDetections int    `json:"predicted_detections"`
	UpperBound          int    `json:"upper_bound"`
	LowerBound          int    `json:"lower_bound"`
}

// ForecastResult is a flat moving-average projection.
type ForecastResult struct {
	Status        string          `json:"status"`
	Method        string          `json:"method"`
	Forecast      []ForecastPoint `json:"forecast"`
	HistoricalAvg float64         `json:"historical_avg"`
	Trend         string          `json:"trend"`
}

// MinForecastDays is the history a forecast needs.
const MinForecastDays = 3

// MaxDays bounds day-count parameters such as a forecast horizon.
const MaxDays = 365

// Forecast projects daysAhead days from the moving average of the last
// min(7, n/2) days with a 95% band of 1.96 standard deviations.
func Forecast(ds []types.Detection, daysAhead int) (ForecastResult, error) {
	if daysAhead <= 0 || daysAhead > MaxDays {
		return ForecastResult{}, fmt.Errorf("%w: forecast days must be in 1..%d, got %d", ErrOutOfRange, MaxDays, daysAhead)
	}
	series := dailySeries(ds)
	if len(series) < MinForecastDays {
		return ForecastResult{}, fmt.Errorf("%w: need at least %d days of data for forecasting, have %d",
			ErrInsufficientData, MinForecastDays, len(series))
	}
	counts := make([]float64, len(series))
	for i, d := range series {
		counts[i] = float64(d.Detections)
	}

	window := len(counts) / 2
	if window > 7 {
		window = 7
	}
	if window < 1 {
		window = 1
	}
	ma := mean(counts[len(counts)-window:])
	sd := stdDev(counts, 1)

	clamp := func(v float64) int {
		r := int(math.RoundToEven(v))
		if r < 0 {
			return 0
		}
		return r
	}

	base := series[len(series)-1].Date
	points := make([]ForecastPoint, 0, daysAhead)
	for i := 1; i <= daysAhead; i++ {
		points = append(points, ForecastPoint{
			Date:                base.AddDate(0, 0, i).Format(dateLayout),
			PredictedDetections: clamp(ma),
			UpperBound:          clamp(ma + 1.96*sd),
			LowerBound:          clamp(ma - 1.96*sd),
		})
	}
	return ForecastResult{
		Status:        "success",
		Method:        "moving_average",
		Forecast:      points,
		HistoricalAvg: mean(counts),
		Trend:         "stable",
	}, nil
}
