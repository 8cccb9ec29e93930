package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/areawatch/areawatch/pkg/types"
)

// Anomaly detection methods.
const (
	MethodZScore          = "zscore"
	MethodIQR             = "iqr"
	MethodStatistical     = "statistical"
	MethodIsolationForest = "isolation_forest"
)

// Defaults for anomaly thresholds.
const (
	DefaultZThreshold          = 2.5
	HighZScore                 = 3.0
	IQRFactor                  = 1.5
	DefaultBehavioralThreshold = 0.5
)

// AnomalyHour is an hour of day whose detection count stands out.
type AnomalyHour struct {
	Hour           int      `json:"hour"`
	DetectionCount int      `json:"detection_count"`
	ZScore         *float64 `json:"z_score,omitempty"`
	Deviation      *float64 `json:"deviation,omitempty"`
	Severity       string   `json:"severity"`
}

// NormalRange is the mean and population deviation of hourly counts.
type NormalRange struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Bounds are the IQR fences.
type Bounds struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Q1    float64 `json:"q1"`
	Q3    float64 `json:"q3"`
}

// AnomalyResult lists anomalous hours for the chosen method.
type AnomalyResult struct {
	Status            string        `json:"status"`
	Method            string        `json:"method"`
	AnomaliesDetected int           `json:"anomalies_detected"`
	AnomalyHours      []AnomalyHour `json:"anomaly_hours"`
	Threshold         float64       `json:"threshold,omitempty"`
	NormalRange       *NormalRange  `json:"normal_range,omitempty"`
	Bounds            *Bounds       `json:"bounds,omitempty"`

	// Fallback names the requested method when another one was used.
	Fallback string `json:"fallback,omitempty"`
}

// Anomalies looks for unusual per-hour detection counts over the hours of
// day present in ds. threshold applies to zscore; zero means the default.
// isolation_forest is served by zscore with Fallback set.
func Anomalies(ds []types.Detection, method string, threshold float64) (AnomalyResult, error) {
	counts := hourCounts(ds)
	var hours []int
	var data []float64
	for h, n := range counts {
		if n > 0 {
			hours = append(hours, h)
			data = append(data, float64(n))
		}
	}
	if len(data) < 3 {
		return AnomalyResult{}, fmt.Errorf("%w: anomaly detection needs at least 3 active hours, have %d",
			ErrInsufficientData, len(data))
	}

	switch strings.ToLower(method) {
	case MethodIQR, MethodStatistical:
		return iqrAnomalies(hours, data), nil
	case MethodIsolationForest:
		r := zscoreAnomalies(hours, data, threshold)
		r.Fallback = MethodIsolationForest
		return r, nil
	case MethodZScore, "":
		return zscoreAnomalies(hours, data, threshold), nil
	default:
		return AnomalyResult{}, fmt.Errorf("%w anomaly method %q", ErrUnknown, method)
	}
}

func zscoreAnomalies(hours []int, data []float64, threshold float64) AnomalyResult {
	if threshold <= 0 {
		threshold = DefaultZThreshold
	}
	m, sd := mean(data), stdDev(data, 0)
	res := AnomalyResult{
		Status:       "success",
		Method:       MethodZScore,
		AnomalyHours: []AnomalyHour{},
		Threshold:    threshold,
		NormalRange:  &NormalRange{Mean: m, StdDev: sd},
	}
	for i, x := range data {
		z := math.Abs((x - m) / (sd + 1e-10))
		if z <= threshold {
			continue
		}
		sev := "medium"
		if z > HighZScore {
			sev = "high"
		}
		zz := types.Round2(z)
		res.AnomalyHours = append(res.AnomalyHours, AnomalyHour{
			Hour: hours[i], DetectionCount: int(x), ZScore: &zz, Severity: sev,
		})
	}
	res.AnomaliesDetected = len(res.AnomalyHours)
	return res
}

func iqrAnomalies(hours []int, data []float64) AnomalyResult {
	q1, q3 := percentile(data, 25), percentile(data, 75)
	iqr := q3 - q1
	lo, hi := q1-IQRFactor*iqr, q3+IQRFactor*iqr
	m := mean(data)
	res := AnomalyResult{
		Status:       "success",
		Method:       MethodIQR,
		AnomalyHours: []AnomalyHour{},
		Bounds:       &Bounds{Lower: lo, Upper: hi, Q1: q1, Q3: q3},
	}
	for i, x := range data {
		if x >= lo && x <= hi {
			continue
		}
		sev := "medium"
		if x > hi {
			sev = "high"
		}
		dev := types.Round2(math.Abs(x - m))
		res.AnomalyHours = append(res.AnomalyHours, AnomalyHour{
			Hour: hours[i], DetectionCount: int(x), Deviation: &dev, Severity: sev,
		})
	}
	res.AnomaliesDetected = len(res.AnomalyHours)
	return res
}

// ClassAnomaly is a class whose share departs from a uniform split.
type ClassAnomaly struct {
	Class               string  `json:"class"`
	Count               int     `json:"count"`
	Probability         float64 `json:"probability"`
	ExpectedProbability float64 `json:"expected_probability"`
	DeviationPercent    float64 `json:"deviation_percent"`
	AnomalyType         string  `json:"anomaly_type"`
}

// BehavioralResult reports over- and underrepresented classes.
type BehavioralResult struct {
	Status            string         `json:"status"`
	TotalClasses      int            `json:"total_classes"`
	AnomalousClasses  int            `json:"anomalous_classes"`
	Threshold         float64        `json:"threshold"`
	Anomalies         []ClassAnomaly `json:"anomalies"`
	ClassDistribution map[string]int `json:"class_distribution"`
}

// Behavioral flags classes whose relative deviation |p-e|/e from the uniform
// share e exceeds threshold (zero means the default).
func Behavioral(ds []types.Detection, threshold float64) (BehavioralResult, error) {
	if len(ds) == 0 {
		return BehavioralResult{}, fmt.Errorf("%w: no detections", ErrInsufficientData)
	}
	if threshold <= 0 {
		threshold = DefaultBehavioralThreshold
	}
	cc := countClasses(ds)
	expected := 1 / float64(len(cc))
	res := BehavioralResult{
		Status:            "success",
		TotalClasses:      len(cc),
		Threshold:         threshold,
		Anomalies:         []ClassAnomaly{},
		ClassDistribution: make(map[string]int, len(cc)),
	}
	for _, c := range cc {
		res.ClassDistribution[c.Class] = c.Count
		p := float64(c.Count) / float64(len(ds))
		dev := math.Abs(p-expected) / expected
		if dev <= threshold {
			continue
		}
		kind := "underrepresented"
		if p > expected {
			kind = "overrepresented"
		}
		res.Anomalies = append(res.Anomalies, ClassAnomaly{
			Class:               c.Class,
			Count:               c.Count,
			Probability:         types.Round2(p*100) / 100,
			ExpectedProbability: types.Round2(expected*100) / 100,
			DeviationPercent:    types.Round2(dev * 100),
			AnomalyType:         kind,
		})
	}
	sort.SliceStable(res.Anomalies, func(i, j int) bool { return res.Anomalies[i].Count > res.Anomalies[j].Count })
	res.AnomalousClasses = len(res.Anomalies)
	return res, nil
}
