package charts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/analytics"
)

const (
	Width  = 1024
	Height = 480
)

var (
	// ErrNoData is returned when a chart would have nothing to draw.
	ErrNoData = errors.New("charts: no data")
	// ErrUnknownChart is returned by Render for a name it does not know.
	ErrUnknownChart = errors.New("charts: unknown chart")
)

var (
	detectionColor = color("#00d4ff")
	violationColor = color("#ef4444")
)

// Render draws the named dataset over ds. now anchors the violation trend window.
func Render(name string, ds []types.Detection, now time.Time) ([]byte, error) {
	if len(ds) == 0 {
		return nil, ErrNoData
	}
	switch name {
	case analytics.ChartHourlyActivity:
		return HourlyActivityPNG(analytics.HourlyActivity(ds))
	case analytics.ChartViolationTrend:
		return ViolationTrendPNG(analytics.ViolationTrend(ds, analytics.DefaultTrendChartDays, now))
	case analytics.ChartClassDistribution:
		return ClassDistributionPNG(analytics.ClassDistribution(ds))
	case analytics.ChartViolationStatus:
		return pie("Violation Status", analytics.ViolationStatus(ds))
	case analytics.ChartConfidenceByClass:
		return ConfidenceByClassPNG(analytics.ConfidenceByClass(ds))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChart, name)
	}
}

// HourlyActivityPNG draws one bar per hour of day.
func HourlyActivityPNG(s analytics.Series) ([]byte, error) {
	if len(s.Detections) == 0 {
		return nil, ErrNoData
	}
	bars := make([]chart.Value, len(s.Detections))
	top := 0
	for i, n := range s.Detections {
		bars[i] = chart.Value{
			Label: strings.TrimSuffix(s.Labels[i], ":00"),
			Value: float64(n),
			Style: chart.Style{FillColor: detectionColor, StrokeColor: detectionColor},
		}
		top = max(top, n)
	}
	bc := chart.BarChart{
		Title:      "Hourly Activity",
		Width:      Width,
		Height:     Height,
		BarWidth:   30,
		BarSpacing: 8,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		YAxis:      chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: float64(top + 1)}},
		Bars:       bars,
	}
	return render(bc.Render)
}

// ViolationTrendPNG draws daily detections and violations as two time series.
func ViolationTrendPNG(s analytics.Series) ([]byte, error) {
	if len(s.Labels) == 0 {
		return nil, ErrNoData
	}
	xs := make([]time.Time, 0, len(s.Labels)+1)
	for _, l := range s.Labels {
		t, err := time.Parse(time.DateOnly, l)
		if err != nil {
			return nil, fmt.Errorf("charts: trend label %q: %w", l, err)
		}
		xs = append(xs, t)
	}
	det := toFloats(s.Detections)
	vio := toFloats(s.Violations)
	// a single day still needs an x range
	if len(xs) == 1 {
		xs = append(xs, xs[0].Add(24*time.Hour))
		det = append(det, det[0])
		vio = append(vio, vio[0])
	}
	top := 0
	for _, n := range s.Detections {
		top = max(top, n)
	}
	ch := chart.Chart{
		Title:      "Violation Trend",
		Width:      Width,
		Height:     Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 24}},
		XAxis:      chart.XAxis{ValueFormatter: chart.TimeDateValueFormatter},
		YAxis:      chart.YAxis{Name: "count", Range: &chart.ContinuousRange{Min: 0, Max: float64(top + 1)}},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Detections",
				XValues: xs,
				YValues: det,
				Style:   chart.Style{StrokeColor: detectionColor, StrokeWidth: 2},
			},
			chart.TimeSeries{
				Name:    "Violations",
				XValues: xs,
				YValues: vio,
				Style:   chart.Style{StrokeColor: violationColor, StrokeWidth: 2},
			},
		},
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return render(ch.Render)
}

// ClassDistributionPNG draws the class counts as a pie.
func ClassDistributionPNG(d analytics.Distribution) ([]byte, error) {
	return pie("Class Distribution", d)
}

// ConfidenceByClassPNG draws mean confidence per class as bars on a 0..100 axis.
func ConfidenceByClassPNG(a analytics.Averages) ([]byte, error) {
	if len(a.Data) == 0 {
		return nil, ErrNoData
	}
	bars := make([]chart.Value, len(a.Data))
	for i, v := range a.Data {
		c := color(analytics.Palette[i%len(analytics.Palette)])
		bars[i] = chart.Value{
			Label: a.Labels[i],
			Value: v,
			Style: chart.Style{FillColor: c, StrokeColor: c},
		}
	}
	bc := chart.BarChart{
		Title:      "Confidence by Class",
		Width:      Width,
		Height:     Height,
		BarWidth:   60,
		BarSpacing: 20,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		YAxis:      chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: 100}},
		Bars:       bars,
	}
	return render(bc.Render)
}

func pie(title string, d analytics.Distribution) ([]byte, error) {
	values := make([]chart.Value, 0, len(d.Data))
	for i, n := range d.Data {
		if n == 0 {
			continue
		}
		c := color(d.Colors[i])
		values = append(values, chart.Value{
			Label: fmt.Sprintf("%s (%d)", d.Labels[i], n),
			Value: float64(n),
			Style: chart.Style{FillColor: c},
		})
	}
	if len(values) == 0 {
		return nil, ErrNoData
	}
	pc := chart.PieChart{
		Title:  title,
		Width:  Height,
		Height: Height,
		Values: values,
	}
	return render(pc.Render)
}

func render(fn func(chart.RendererProvider, io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := fn(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("charts: render: %w", err)
	}
	return buf.Bytes(), nil
}

func toFloats(ns []int) []float64 {
	out := make([]float64, len(ns))
	for i, n := range ns {
		out[i] = float64(n)
	}
	return out
}

func color(hex string) drawing.Color {
	return drawing.ColorFromHex(strings.TrimPrefix(hex, "#"))
}
