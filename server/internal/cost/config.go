package cost

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Config holds the cost model parameters.
type Config struct {
	CostPerCameraMonthly      float64 `json:"cost_per_camera_monthly"`
	CostPerDetection          float64 `json:"cost_per_detection"`
	CostPerHourMonitoring     float64 `json:"cost_per_hour_monitoring"`
	InfrastructureCostMonthly float64 `json:"infrastructure_cost_monthly"`
	PersonnelCostPerIncident  float64 `json:"personnel_cost_per_incident"`
	FalseAlarmCost            float64 `json:"false_alarm_cost"`
	PreventedIncidentValue    float64 `json:"prevented_incident_value"`
	NumberOfCameras           int     `json:"number_of_cameras"`
}

// Defaults returns the built-in cost parameters.
func Defaults() Config {
	return Config{
		CostPerCameraMonthly:      50,
		CostPerDetection:          0.01,
		CostPerHourMonitoring:     15,
		InfrastructureCostMonthly: 200,
		PersonnelCostPerIncident:  25,
		FalseAlarmCost:            10,
		PreventedIncidentValue:    1000,
		NumberOfCameras:           1,
	}
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	CostPerCameraMonthly      *float64 `json:"cost_per_camera_monthly,omitempty"`
	CostPerDetection          *float64 `json:"cost_per_detection,omitempty"`
	CostPerHourMonitoring     *float64 `json:"cost_per_hour_monitoring,omitempty"`
	InfrastructureCostMonthly *float64 `json:"infrastructure_cost_monthly,omitempty"`
	PersonnelCostPerIncident  *float64 `json:"personnel_cost_per_incident,omitempty"`
	FalseAlarmCost            *float64 `json:"false_alarm_cost,omitempty"`
	PreventedIncidentValue    *float64 `json:"prevented_incident_value,omitempty"`
	NumberOfCameras           *int     `json:"number_of_cameras,omitempty"`
}

func (p Patch) apply(c *Config) {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.CostPerCameraMonthly, p.CostPerCameraMonthly)
	set(&c.CostPerDetection, p.CostPerDetection)
	set(&c.CostPerHourMonitoring, p.CostPerHourMonitoring)
	set(&c.InfrastructureCostMonthly, p.InfrastructureCostMonthly)
	set(&c.PersonnelCostPerIncident, p.PersonnelCostPerIncident)
	set(&c.FalseAlarmCost, p.FalseAlarmCost)
	set(&c.PreventedIncidentValue, p.PreventedIncidentValue)
	if p.NumberOfCameras != nil {
		c.NumberOfCameras = *p.NumberOfCameras
	}
}

func (c Config) validate() error {
	for name, v := range map[string]float64{
		"cost_per_camera_monthly":     c.CostPerCameraMonthly,
		"cost_per_detection":          c.CostPerDetection,
		"cost_per_hour_monitoring":    c.CostPerHourMonitoring,
		"infrastructure_cost_monthly": c.InfrastructureCostMonthly,
		"personnel_cost_per_incident": c.PersonnelCostPerIncident,
		"false_alarm_cost":            c.FalseAlarmCost,
		"prevented_incident_value":    c.PreventedIncidentValue,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.NumberOfCameras < 0 {
		return errors.New("number_of_cameras must not be negative")
	}
	return nil
}

// Store persists Config as indented JSON. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// Open loads path, writing the defaults when the file does not exist.
// Fields missing from the file keep their defaults.
func Open(path string) (*Store, error) {
	s := &Store{path: path, cfg: Defaults()}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("cost: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.cfg); err != nil {
		return nil, fmt.Errorf("cost: parse %q: %w", path, err)
	}
	return s, nil
}

// Get returns the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update merges p into the configuration and persists it.
func (s *Store) Update(p Patch) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg
	p.apply(&next)
	if err := next.validate(); err != nil {
		return s.cfg, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	prev := s.cfg
	s.cfg = next
	if err := s.save(); err != nil {
		s.cfg = prev
		return prev, err
	}
	return next, nil
}

// save writes s.cfg atomically. Caller holds s.mu or owns s.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cost: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("cost: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cost: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("cost: replace %q: %w", s.path, err)
	}
	return nil
}
