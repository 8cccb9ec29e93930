package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/cameras"
)

// staleAfter is how long an online camera may go without a heartbeat.
const staleAfter = 5 * time.Minute

// Score bands shared with the agent's health computation.
const (
	healthyScore  = 85.0
	degradedScore = 60.0
)

// DiagnosticHint is one human-readable insight about a camera.
// The UI shows Title on a chip and Detail on click.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Value is an optional number behind the hint (score, minutes).
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// cameraHints derives hints from a camera's stored state, critical first.
func cameraHints(c cameras.Camera, now time.Time) []DiagnosticHint {
	if !c.Enabled {
		return []DiagnosticHint{{
			Key:    "disabled",
			Level:  "info",
			Title:  "Disabled",
			Detail: "This camera is disabled. Its detections are still accepted but it is not expected to report.",
		}}
	}

	var hints []DiagnosticHint

	if c.LastActive == nil {
		hints = append(hints, DiagnosticHint{
			Key:   "no_heartbeat",
			Level: "warning",
			Title: "Never reported",
			Detail: "No agent has sent a heartbeat for this camera yet. " +
				"Check that an agent is running with camera_id " + c.ID + " and can reach the server.",
		})
	}

	switch c.Status {
	case types.CameraOffline:
		if c.LastActive != nil {
			mins := now.Sub(*c.LastActive).Minutes()
			hints = append(hints, DiagnosticHint{
				Key:   "offline",
				Level: "critical",
				Title: "Offline",
				Detail: fmt.Sprintf("The camera was last seen %s. %s",
					humanize.RelTime(*c.LastActive, now, "ago", "from now"), agentDetail(c)),
				Value: &mins,
			})
		}
	case types.CameraDegraded:
		score := c.HealthScore
		hints = append(hints, DiagnosticHint{
			Key:    "degraded",
			Level:  "warning",
			Title:  fmt.Sprintf("Degraded (%.0f/100)", score),
			Detail: "The detector is running but dropping frames or slowing down. " + agentDetail(c),
			Value:  &score,
		})
	case types.CameraOnline:
		if c.LastActive != nil && now.Sub(*c.LastActive) > staleAfter {
			mins := now.Sub(*c.LastActive).Minutes()
			hints = append(hints, DiagnosticHint{
				Key:   "stale",
				Level: "warning",
				Title: "Heartbeat stale",
				Detail: fmt.Sprintf("The camera reported online but its last heartbeat arrived %s. "+
					"The agent may have stopped.", humanize.RelTime(*c.LastActive, now, "ago", "from now")),
				Value: &mins,
			})
		}
	}

	if c.Status == types.CameraOnline && c.HealthScore > 0 && c.HealthScore < healthyScore {
		score := c.HealthScore
		level := "info"
		if score < degradedScore {
			level = "warning"
		}
		hints = append(hints, DiagnosticHint{
			Key:    "low_score",
			Level:  level,
			Title:  fmt.Sprintf("Score %.0f/100", score),
			Detail: "The detector health score is below the healthy band of 85.",
			Value:  &score,
		})
	}

	if len(hints) == 0 {
		score := c.HealthScore
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: "The camera is online and reporting on time.",
			Value:  &score,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool { return levelRank[hints[i].Level] < levelRank[hints[j].Level] })
	return hints
}

func agentDetail(c cameras.Camera) string {
	if c.Detail == "" {
		return "The agent sent no further detail."
	}
	return "Agent reported: " + c.Detail
}
