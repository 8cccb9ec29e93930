package ingest

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/areawatch/areawatch/pkg/types"
)

// EncodeDetections packs a batch into the RecordDetections request message.
func EncodeDetections(ds []types.Detection) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(ds))
	for _, d := range ds {
		list = append(list, map[string]interface{}{
			"ts":         d.Timestamp.Format(time.RFC3339Nano),
			"class":      d.Class,
			"confidence": d.Confidence,
			"violation":  d.Violation,
			"camera_id":  d.CameraID,
		})
	}
	s, err := structpb.NewStruct(map[string]interface{}{"detections": list})
	if err != nil {
		return nil, fmt.Errorf("ingest: encode detections: %w", err)
	}
	return s, nil
}

// DecodeDetections unpacks a RecordDetections request. Entries are not
// validated here; callers decide whether to reject the batch.
func DecodeDetections(s *structpb.Struct) ([]types.Detection, error) {
	v, ok := s.GetFields()["detections"]
	if !ok {
		return nil, fmt.Errorf("ingest: missing detections field")
	}
	values := v.GetListValue().GetValues()
	out := make([]types.Detection, 0, len(values))
	for i, item := range values {
		f := item.GetStructValue().GetFields()
		if f == nil {
			return nil, fmt.Errorf("ingest: detections[%d] is not an object", i)
		}
		ts, err := time.Parse(time.RFC3339Nano, f["ts"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("ingest: detections[%d].ts: %w", i, err)
		}
		out = append(out, types.Detection{
			Timestamp:  ts,
			Class:      f["class"].GetStringValue(),
			Confidence: f["confidence"].GetNumberValue(),
			Violation:  f["violation"].GetBoolValue(),
			CameraID:   f["camera_id"].GetStringValue(),
		})
	}
	return out, nil
}

// AcceptedResponse builds the RecordDetections response.
func AcceptedResponse(n int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"accepted": structpb.NewNumberValue(float64(n)),
	}}
}

// Accepted reads the count from a RecordDetections response.
func Accepted(s *structpb.Struct) int {
	return int(s.GetFields()["accepted"].GetNumberValue())
}

// EncodeCameraStatus packs a heartbeat into the ReportCamera request message.
func EncodeCameraStatus(cs types.CameraStatus) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"camera_id":   cs.CameraID,
		"status":      cs.Status,
		"score":       cs.Score,
		"state":       cs.State,
		"fps":         cs.FPS,
		"detail":      cs.Detail,
		"reported_at": cs.ReportedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: encode camera status: %w", err)
	}
	return s, nil
}

// DecodeCameraStatus unpacks a ReportCamera request. A missing or malformed
// reported_at is left zero.
func DecodeCameraStatus(s *structpb.Struct) types.CameraStatus {
	f := s.GetFields()
	cs := types.CameraStatus{
		CameraID: f["camera_id"].GetStringValue(),
		Status:   f["status"].GetStringValue(),
		Score:    f["score"].GetNumberValue(),
		State:    f["state"].GetStringValue(),
		FPS:      f["fps"].GetNumberValue(),
		Detail:   f["detail"].GetStringValue(),
	}
	if ts, err := time.Parse(time.RFC3339Nano, f["reported_at"].GetStringValue()); err == nil {
		cs.ReportedAt = ts
	}
	return cs
}
