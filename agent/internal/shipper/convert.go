package shipper

import (
	"time"

	"github.com/areawatch/areawatch/agent/internal/compute"
	"github.com/areawatch/areawatch/pkg/types"
)

// StatusFrom builds the camera heartbeat for a compute.Result. A nil result
// (no scrape yet, or scraping disabled) reports the camera online with an
// unknown detector state.
func StatusFrom(r *compute.Result, cameraID, detail string, now time.Time) types.CameraStatus {
	cs := types.CameraStatus{
		CameraID:   cameraID,
		Detail:     detail,
		ReportedAt: now,
	}
	if r == nil {
		cs.Status = types.CameraOnline
		cs.State = compute.StateUnknown
		return cs
	}
	cs.Status = r.Status()
	cs.State = r.State
	cs.Score = r.Score
	cs.FPS = r.FPS
	if r.ErrorMessage != "" {
		if cs.Detail != "" {
			cs.Detail = r.ErrorMessage + "; " + cs.Detail
		} else {
			cs.Detail = r.ErrorMessage
		}
	}
	return cs
}
