package receiver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/areawatch/areawatch/pkg/ingest"
	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/cameras"
)

// Sink persists accepted detections. *store.Store satisfies it.
type Sink interface {
	Append(ds ...types.Detection) error
}

// CameraRegistry applies heartbeats. *cameras.Store satisfies it.
type CameraRegistry interface {
	ReportStatus(cs types.CameraStatus) (cameras.Camera, error)
}

// Receiver implements ingest.Server.
type Receiver struct {
	sink    Sink
	cameras CameraRegistry

	// OnAccepted, when set, observes every accepted batch.
	OnAccepted func(ds []types.Detection)
}

var _ ingest.Server = (*Receiver)(nil)

// New creates a Receiver writing detections to sink and heartbeats to cams.
func New(sink Sink, cams CameraRegistry) *Receiver {
	return &Receiver{sink: sink, cameras: cams}
}

// RecordDetections validates and appends one batch.
func (r *Receiver) RecordDetections(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ds, err := ingest.DecodeDetections(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(ds) == 0 {
		return nil, status.Error(codes.InvalidArgument, "detections must not be empty")
	}
	for i, d := range ds {
		if err := d.Validate(); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "detections[%d]: %v", i, err)
		}
	}

	if err := r.sink.Append(ds...); err != nil {
		slog.Error("receiver: append failed", "count", len(ds), "err", err)
		return nil, status.Error(codes.Internal, "append detections")
	}
	if r.OnAccepted != nil {
		r.OnAccepted(ds)
	}

	slog.Debug("receiver: detections stored", "count", len(ds), "camera_id", ds[0].CameraID)
	return ingest.AcceptedResponse(len(ds)), nil
}

// ReportCamera applies a heartbeat to a registered camera.
func (r *Receiver) ReportCamera(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	cs := ingest.DecodeCameraStatus(req)
	if cs.CameraID == "" {
		return nil, status.Error(codes.InvalidArgument, "camera_id is required")
	}
	switch cs.Status {
	case "", types.CameraOnline, types.CameraOffline, types.CameraDegraded:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", cs.Status)
	}

	c, err := r.cameras.ReportStatus(cs)
	if errors.Is(err, cameras.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "camera %q is not registered", cs.CameraID)
	}
	if err != nil {
		slog.Error("receiver: camera status", "camera_id", cs.CameraID, "err", err)
		return nil, status.Error(codes.Internal, "update camera")
	}

	slog.Debug("receiver: camera heartbeat",
		"camera_id", c.ID,
		"status", c.Status,
		"state", c.HealthState,
		"score", c.HealthScore,
	)
	return &emptypb.Empty{}, nil
}
