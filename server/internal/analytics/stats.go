package analytics

import (
	"fmt"
	"math"

	"github.com/areawatch/areawatch/pkg/types"
)

// StrongCorrelation is the |r| above which a pair is reported as strong.
const StrongCorrelation = 0.3

// Pair is one Pearson correlation.
type Pair struct {
	Correlation float64 `json:"correlation"`
	Strong      bool    `json:"strong"`
}

// CorrelationResult lists pairwise correlations of hour of day, confidence
// and violation (as 0/1).
type CorrelationResult struct {
	Status                  string          `json:"status"`
	Correlations            map[string]Pair `json:"correlations"`
	Matrix                  map[string]Pair `json:"matrix"`
	StrongCorrelationsCount int             `json:"strong_correlations_count"`
}

// Correlation needs at least two rows. Pairs with no variance report 0.
func Correlation(ds []types.Detection) (CorrelationResult, error) {
	if len(ds) < 2 {
		return CorrelationResult{}, fmt.Errorf("%w: correlation needs at least 2 detections", ErrInsufficientData)
	}
	cols := map[string][]float64{"confidence": {}, "hour": {}, "violation": {}}
	for _, d := range ds {
		cols["confidence"] = append(cols["confidence"], d.Confidence)
		cols["hour"] = append(cols["hour"], float64(d.Timestamp.Hour()))
		v := 0.0
		if d.Violation {
			v = 1
		}
		cols["violation"] = append(cols["violation"], v)
	}

	res := CorrelationResult{
		Status:       "success",
		Correlations: map[string]Pair{},
		Matrix:       map[string]Pair{},
	}
	names := []string{"confidence", "hour", "violation"}
	for i, a := range names {
		for _, b := range names[i+1:] {
			r := types.Round2(pearson(cols[a], cols[b]))
			p := Pair{Correlation: r, Strong: math.Abs(r) > StrongCorrelation}
			key := a + "_vs_" + b
			res.Matrix[key] = p
			if p.Strong {
				res.Correlations[key] = p
			}
		}
	}
	res.StrongCorrelationsCount = len(res.Correlations)
	return res, nil
}

func pearson(x, y []float64) float64 {
	mx, my := mean(x), mean(y)
	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// PercentileLevels are the reported confidence percentiles.
var PercentileLevels = []int{10, 25, 50, 75, 90, 95, 99}

// PercentileResult holds confidence percentiles (0..1) and tail counts.
type PercentileResult struct {
	Status       string             `json:"status"`
	Percentiles  map[string]float64 `json:"percentiles"`
	OutliersLow  int                `json:"outliers_low"`
	OutliersHigh int                `json:"outliers_high"`
}

// Percentiles counts rows below p10 and above p90 as outliers.
func Percentiles(ds []types.Detection) (PercentileResult, error) {
	if len(ds) == 0 {
		return PercentileResult{}, fmt.Errorf("%w: no detections", ErrInsufficientData)
	}
	cs := confidences(ds)
	res := PercentileResult{Status: "success", Percentiles: map[string]float64{}}
	for _, p := range PercentileLevels {
		res.Percentiles[fmt.Sprintf("p%d", p)] = percentile(cs, float64(p))
	}
	p10, p90 := res.Percentiles["p10"], res.Percentiles["p90"]
	for _, c := range cs {
		if c < p10 {
			res.OutliersLow++
		}
		if c > p90 {
			res.OutliersHigh++
		}
	}
	return res, nil
}
