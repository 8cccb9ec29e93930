package types

import "time"

// Camera status values shared by the agent heartbeat and the server camera store.
const (
	CameraOnline   = "online"
	CameraOffline  = "offline"
	CameraDegraded = "degraded"
)

// CameraStatus is the heartbeat an agent sends for the camera it watches.
type CameraStatus struct {
	CameraID   string    `json:"camera_id"`
	Status     string    `json:"status"`
	Score      float64   `json:"score"`
	State      string    `json:"state"` // detector health: healthy | degraded | critical | unknown
	FPS        float64   `json:"fps"`
	Detail     string    `json:"detail,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}
