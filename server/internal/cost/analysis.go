package cost

import (
	"errors"
	"time"

	"github.com/areawatch/areawatch/pkg/types"
)

var (
	// ErrNoData is returned when there are no rows to analyse.
	ErrNoData = errors.New("cost: no data for specified period")
	// ErrInvalid is returned by Update for a config that fails validation.
	ErrInvalid = errors.New("cost: invalid config")
)

// Model constants.
const (
	LowConfidence  = 0.7
	HighConfidence = 0.8
	InsuranceRate  = 0.05
	SafetyValue    = 50.0
	LiabilityValue = 200.0
	DaysPerMonth   = 30.0
	HoursPerDay    = 24
)

// Breakdown itemizes operational cost.
type Breakdown struct {
	CameraCosts              float64 `json:"camera_costs"`
	DetectionProcessingCosts float64 `json:"detection_processing_costs"`
	MonitoringCosts          float64 `json:"monitoring_costs"`
	InfrastructureCosts      float64 `json:"infrastructure_costs"`
	IncidentResponseCosts    float64 `json:"incident_response_costs"`
	FalseAlarmCosts          float64 `json:"false_alarm_costs"`
}

// OperationalCosts is the cost of running the system over the rows' period.
type OperationalCosts struct {
	Period           string    `json:"period"`
	Days             int       `json:"days"`
	CostBreakdown    Breakdown `json:"cost_breakdown"`
	TotalCosts       float64   `json:"total_costs"`
	DailyAvgCost     float64   `json:"daily_avg_cost"`
	CostPerDetection float64   `json:"cost_per_detection"`
}

// period returns the first and last timestamp and the inclusive day count.
func period(ds []types.Detection) (time.Time, time.Time, int) {
	first, last := ds[0].Timestamp, ds[len(ds)-1].Timestamp
	return first, last, int(last.Sub(first).Hours()/24) + 1
}

func periodLabel(first, last time.Time) string {
	return first.Format("2006-01-02") + " to " + last.Format("2006-01-02")
}

// Operational computes cost for rows sorted oldest first. Monitoring is
// billed around the clock for every day of the period.
func Operational(ds []types.Detection, cfg Config) (OperationalCosts, error) {
	if len(ds) == 0 {
		return OperationalCosts{}, ErrNoData
	}
	first, last, days := period(ds)
	months := float64(days) / DaysPerMonth

	violations, falseAlarms := 0, 0
	for _, d := range ds {
		if d.Violation {
			violations++
		}
		if d.Confidence < LowConfidence {
			falseAlarms++
		}
	}

	b := Breakdown{
		CameraCosts:              cfg.CostPerCameraMonthly * float64(cfg.NumberOfCameras) * months,
		DetectionProcessingCosts: float64(len(ds)) * cfg.CostPerDetection,
		MonitoringCosts:          float64(days*HoursPerDay) * cfg.CostPerHourMonitoring,
		InfrastructureCosts:      cfg.InfrastructureCostMonthly * months,
		IncidentResponseCosts:    float64(violations) * cfg.PersonnelCostPerIncident,
		FalseAlarmCosts:          float64(falseAlarms) * cfg.FalseAlarmCost,
	}
	total := b.CameraCosts + b.DetectionProcessingCosts + b.MonitoringCosts +
		b.InfrastructureCosts + b.IncidentResponseCosts + b.FalseAlarmCosts

	return OperationalCosts{
		Period: periodLabel(first, last),
		Days:   days,
		CostBreakdown: Breakdown{
			CameraCosts:              types.Round2(b.CameraCosts),
			DetectionProcessingCosts: types.Round2(b.DetectionProcessingCosts),
			MonitoringCosts:          types.Round2(b.MonitoringCosts),
			InfrastructureCosts:      types.Round2(b.InfrastructureCosts),
			IncidentResponseCosts:    types.Round2(b.IncidentResponseCosts),
			FalseAlarmCosts:          types.Round2(b.FalseAlarmCosts),
		},
		TotalCosts:       types.Round2(total),
		DailyAvgCost:     types.Round2(total / float64(days)),
		CostPerDetection: types.Round2(total / float64(len(ds))),
	}, nil
}

// Benefits itemizes the estimated value of prevented incidents.
type Benefits struct {
	PreventedIncidentsValue float64 `json:"prevented_incidents_value"`
	InsuranceSavings        float64 `json:"insurance_savings"`
	SafetyCultureValue      float64 `json:"safety_culture_value"`
	LiabilityReduction      float64 `json:"liability_reduction"`
}

// ROIMetrics are the inputs behind the ROI figure.
type ROIMetrics struct {
	IncidentsPrevented int     `json:"incidents_prevented"`
	ValuePerIncident   float64 `json:"value_per_incident"`
	CostPerDetection   float64 `json:"cost_per_detection"`
}

// ROIResult compares benefits against operational cost.
type ROIResult struct {
	Period              string     `json:"period"`
	TotalCosts          float64    `json:"total_costs"`
	TotalBenefits       float64    `json:"total_benefits"`
	NetBenefit          float64    `json:"net_benefit"`
	ROIPercentage       float64    `json:"roi_percentage"`
	PaybackPeriodMonths float64    `json:"payback_period_months"`
	BenefitBreakdown    Benefits   `json:"benefit_breakdown"`
	Metrics             ROIMetrics `json:"metrics"`
}

// ROI assumes every violation was an incident prevented.
func ROI(ds []types.Detection, cfg Config) (ROIResult, error) {
	op, err := Operational(ds, cfg)
	if err != nil {
		return ROIResult{}, err
	}
	prevented := 0
	for _, d := range ds {
		if d.Violation {
			prevented++
		}
	}
	b := Benefits{
		PreventedIncidentsValue: float64(prevented) * cfg.PreventedIncidentValue,
		SafetyCultureValue:      float64(prevented) * SafetyValue,
		LiabilityReduction:      float64(prevented) * LiabilityValue,
	}
	b.InsuranceSavings = b.PreventedIncidentsValue * InsuranceRate
	total := b.PreventedIncidentsValue + b.InsuranceSavings + b.SafetyCultureValue + b.LiabilityReduction

	roi, payback := 0.0, 0.0
	if op.TotalCosts > 0 {
		roi = (total - op.TotalCosts) / op.TotalCosts * 100
	}
	if total > 0 {
		payback = op.TotalCosts / (total / float64(op.Days) * DaysPerMonth)
	}
	return ROIResult{
		Period:              op.Period,
		TotalCosts:          op.TotalCosts,
		TotalBenefits:       types.Round2(total),
		NetBenefit:          types.Round2(total - op.TotalCosts),
		ROIPercentage:       types.Round2(roi),
		PaybackPeriodMonths: types.Round2(payback),
		BenefitBreakdown: Benefits{
			PreventedIncidentsValue: types.Round2(b.PreventedIncidentsValue),
			InsuranceSavings:        types.Round2(b.InsuranceSavings),
			SafetyCultureValue:      types.Round2(b.SafetyCultureValue),
			LiabilityReduction:      types.Round2(b.LiabilityReduction),
		},
		Metrics: ROIMetrics{
			IncidentsPrevented: prevented,
			ValuePerIncident:   cfg.PreventedIncidentValue,
			CostPerDetection:   op.CostPerDetection,
		},
	}, nil
}

// Performance describes detection quality.
type Performance struct {
	AvgConfidence      float64 `json:"avg_confidence"`
	HighConfidenceRate float64 `json:"high_confidence_rate"`
	TotalDetections    int     `json:"total_detections"`
	DetectionsPerHour  float64 `json:"detections_per_hour"`
}

// Efficiency relates cost to output.
type Efficiency struct {
	CostPerDetection     float64 `json:"cost_per_detection"`
	CostPerViolation     float64 `json:"cost_per_violation"`
	DailyOperationalCost float64 `json:"daily_operational_cost"`
}

// Utilization summarizes how well the cameras are used.
type Utilization struct {
	Period                        string      `json:"period"`
	CameraUtilizationPercentage   float64     `json:"camera_utilization_percentage"`
	DetectionEfficiencyPercentage float64     `json:"detection_efficiency_percentage"`
	SystemPerformance             Performance `json:"system_performance"`
	CostEfficiency                Efficiency  `json:"cost_efficiency"`
	ResourceRecommendations       []string    `json:"resource_recommendations"`
}

// ResourceUtilization measures active hours against the period and derives
// recommendations.
func ResourceUtilization(ds []types.Detection, cfg Config) (Utilization, error) {
	op, err := Operational(ds, cfg)
	if err != nil {
		return Utilization{}, err
	}
	first, last, _ := period(ds)
	hours := last.Sub(first).Hours()

	slots := map[time.Time]bool{}
	violations, high := 0, 0
	confSum := 0.0
	for _, d := range ds {
		slots[d.Timestamp.Truncate(time.Hour)] = true
		if d.Violation {
			violations++
		}
		if d.Confidence >= HighConfidence {
			high++
		}
		confSum += d.Confidence
	}
	n := float64(len(ds))

	util, perHour, perViolation := 0.0, 0.0, 0.0
	if hours > 0 {
		util = float64(len(slots)) / hours * 100
		perHour = n / hours
	}
	if violations > 0 {
		perViolation = op.TotalCosts / float64(violations)
	}
	efficiency := float64(violations) / n * 100
	highRate := float64(high) / n * 100

	return Utilization{
		Period:                        op.Period,
		CameraUtilizationPercentage:   types.Round2(util),
		DetectionEfficiencyPercentage: types.Round2(efficiency),
		SystemPerformance: Performance{
			AvgConfidence:      types.Round2(confSum / n * 100),
			HighConfidenceRate: types.Round2(highRate),
			TotalDetections:    len(ds),
			DetectionsPerHour:  types.Round2(perHour),
		},
		CostEfficiency: Efficiency{
			CostPerDetection:     op.CostPerDetection,
			CostPerViolation:     types.Round2(perViolation),
			DailyOperationalCost: op.DailyAvgCost,
		},
		ResourceRecommendations: recommendations(util, efficiency, highRate),
	}, nil
}

func recommendations(util, efficiency, highRate float64) []string {
	out := []string{}
	switch {
	case util < 70:
		out = append(out, "Low camera utilization: consider optimizing coverage or reducing the number of cameras")
	case util > 95:
		out = append(out, "High camera utilization: system is well utilized")
	}
	switch {
	case efficiency < 10:
		out = append(out, "Low detection efficiency: review zone configurations")
	case efficiency > 30:
		out = append(out, "High violation rate: consider increasing security presence")
	}
	switch {
	case highRate < 70:
		out = append(out, "Low confidence scores: optimize camera angles and lighting")
	case highRate > 90:
		out = append(out, "Excellent detection quality")
	}
	return out
}

// Analysis bundles every cost view for one period.
type Analysis struct {
	GeneratedAt         time.Time         `json:"generated_at"`
	Period              string            `json:"period"`
	Config              Config            `json:"config"`
	OperationalCosts    *OperationalCosts `json:"operational_costs"`
	ROIAnalysis         *ROIResult        `json:"roi_analysis"`
	ResourceUtilization *Utilization      `json:"resource_utilization"`
	Error               string            `json:"error,omitempty"`
}

// Complete runs all analyses. With no rows the sections are null and Error
// explains why. label describes the requested period.
func Complete(ds []types.Detection, cfg Config, label string, now time.Time) Analysis {
	a := Analysis{GeneratedAt: now, Period: label, Config: cfg}
	op, err := Operational(ds, cfg)
	if err != nil {
		a.Error = err.Error()
		return a
	}
	roi, _ := ROI(ds, cfg)
	util, _ := ResourceUtilization(ds, cfg)
	a.OperationalCosts, a.ROIAnalysis, a.ResourceUtilization = &op, &roi, &util
	return a
}
