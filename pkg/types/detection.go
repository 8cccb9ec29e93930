package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format used in the detection log.
const TimeLayout = "2006-01-02 15:04:05"

// Column names of the detection log, in order.
var LogHeader = []string{"Timestamp", "Class", "Confidence", "Restricted Area Violation"}

// CameraColumn trails LogHeader in logs created by this module. Older logs
// without it are still readable.
const CameraColumn = "Camera"

// Detection is one detected object reported by the external detector.
type Detection struct {
	Timestamp  time.Time `json:"timestamp"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"` // 0..1
	Violation  bool      `json:"violation"`
	CameraID   string    `json:"camera_id,omitempty"`
}

// Validate reports whether d can be appended to the log.
func (d Detection) Validate() error {
	if strings.TrimSpace(d.Class) == "" {
		return errors.New("class is required")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %.4f out of range [0, 1]", d.Confidence)
	}
	if d.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// In returns d with its timestamp converted to loc.
func (d Detection) In(loc *time.Location) Detection {
	if loc != nil {
		d.Timestamp = d.Timestamp.In(loc)
	}
	return d
}

// ConfidencePct returns the confidence as a percentage rounded to 2 decimals.
func (d Detection) ConfidencePct() float64 {
	return Round2(d.Confidence * 100)
}

// Record returns the CSV fields for d. withCamera appends the camera column.
func (d Detection) Record(withCamera bool) []string {
	rec := []string{
		d.Timestamp.Format(TimeLayout),
		d.Class,
		strconv.FormatFloat(d.Confidence, 'f', 4, 64),
		FormatViolation(d.Violation),
	}
	if withCamera {
		rec = append(rec, d.CameraID)
	}
	return rec
}

// ParseRecord builds a Detection from CSV fields in LogHeader order.
// Timestamps are interpreted in loc.
func ParseRecord(rec []string, loc *time.Location) (Detection, error) {
	if len(rec) < 4 {
		return Detection{}, fmt.Errorf("want at least 4 fields, got %d", len(rec))
	}
	ts, err := ParseTimestamp(strings.TrimSpace(rec[0]), loc)
	if err != nil {
		return Detection{}, err
	}
	conf, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return Detection{}, fmt.Errorf("confidence %q: %w", rec[2], err)
	}
	d := Detection{
		Timestamp:  ts,
		Class:      strings.TrimSpace(rec[1]),
		Confidence: conf,
		Violation:  ParseViolation(rec[3]),
	}
	if len(rec) > 4 {
		d.CameraID = strings.TrimSpace(rec[4])
	}
	return d, d.Validate()
}

// ParseTimestamp accepts the log layout plus the ISO forms the detector and
// older log files have used.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range []string{TimeLayout, "2006-01-02T15:04:05", "2006-01-02 15:04:05.999999"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognised format", s)
}

// ParseViolation maps the log's Yes/No column to a bool. Anything other than
// yes/true/1 (case-insensitive) is false.
func ParseViolation(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1", "y":
		return true
	}
	return false
}

// FormatViolation is the inverse of ParseViolation.
func FormatViolation(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
