package api

import (
	"time"

	"github.com/areawatch/areawatch/server/internal/alerts"
	"github.com/areawatch/areawatch/server/internal/analytics"
	"github.com/areawatch/areawatch/server/internal/cameras"
	"github.com/areawatch/areawatch/server/internal/snapshots"
)

// errorResponse is the envelope for every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// RecentDetectionsResponse is returned by GET /api/detections/recent.
type RecentDetectionsResponse struct {
	Data           []analytics.Record `json:"data"`
	TotalCount     int                `json:"total_count"`
	DisplayedCount int                `json:"displayed_count"`
}

// AppendResponse is returned by POST /api/detections.
type AppendResponse struct {
	Accepted int `json:"accepted"`
}

// ActiveAlertsResponse is returned by GET /api/alerts/active.
type ActiveAlertsResponse struct {
	Alerts []*alerts.Alert `json:"alerts"`
	Count  int             `json:"count"`
}

// ViolationEmailRequest is the body of POST /api/alerts/send-email.
// SnapshotPath names a file in the frames directory.
type ViolationEmailRequest struct {
	ClassName    string  `json:"class_name"`
	Confidence   float64 `json:"confidence"`
	Timestamp    string  `json:"timestamp,omitempty"`
	Location     string  `json:"location,omitempty"`
	CameraID     string  `json:"camera_id,omitempty"`
	SnapshotPath string  `json:"snapshot_path,omitempty"`
}

// AnomalyRequest is the optional body of POST /api/analytics/anomalies/detect.
type AnomalyRequest struct {
	Method    string  `json:"method"`
	Threshold float64 `json:"threshold"`
}

// EmailReportRequest is the body of POST /api/email/send-report.
type EmailReportRequest struct {
	ReportType     string `json:"report_type"`
	TemplateType   string `json:"template_type"`
	RecipientEmail string `json:"recipient_email"`
	IncludePDF     bool   `json:"include_pdf"`
}

// EmailScheduleRequest is the body of POST /api/email/schedule-report.
type EmailScheduleRequest struct {
	ReportType     string `json:"report_type"`
	TemplateType   string `json:"template_type"`
	RecipientEmail string `json:"recipient_email"`
	ScheduleType   string `json:"schedule_type"`
	DayOfWeek      int    `json:"day_of_week"`
	DayOfMonth     int    `json:"day_of_month"`
	Time           string `json:"time"`
}

// SnapshotView is one entry of GET /api/snapshots.
type SnapshotView struct {
	snapshots.Snapshot
	SizeHuman string `json:"size_human"`
	Age       string `json:"age"`
}

// ActivityFeedResponse is returned by the activity endpoints.
type ActivityFeedResponse struct {
	Events         any `json:"events"`
	TotalCount     int `json:"total_count"`
	DisplayedCount int `json:"displayed_count"`
}

// DetectionEvent is one entry of GET /api/activity/detections.
type DetectionEvent struct {
	ID          string  `json:"id"`
	Timestamp   string  `json:"timestamp"`
	Type        string  `json:"type"`
	Class       string  `json:"class"`
	Confidence  float64 `json:"confidence"`
	IsViolation bool    `json:"is_violation"`
	CameraID    string  `json:"camera_id,omitempty"`
}

// CameraHealthResponse is returned by GET /api/health/cameras.
type CameraHealthResponse struct {
	Cameras []CameraStatus `json:"cameras"`
	cameras.Health
}

// CameraStatus is the per-camera view of GET /api/health/cameras.
type CameraStatus struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Location    string           `json:"location"`
	Status      string           `json:"status"`
	Enabled     bool             `json:"enabled"`
	LastActive  *time.Time       `json:"last_active"`
	URL         string           `json:"url"`
	HealthScore float64          `json:"health_score,omitempty"`
	Hints       []DiagnosticHint `json:"hints"`
}

// LoginRequest is the body of POST /api/auth/login and /api/auth/signup.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// AuthResponse is returned by a successful login or signup.
type AuthResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token"`
	Username string `json:"username"`
	Message  string `json:"message"`
}
