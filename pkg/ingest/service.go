package ingest

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "areawatch.v1.Ingest"

const (
	recordDetectionsMethod = "/" + ServiceName + "/RecordDetections"
	reportCameraMethod     = "/" + ServiceName + "/ReportCamera"
)

// Server is implemented by the areawatch-server receiver.
type Server interface {
	RecordDetections(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReportCamera(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// Register attaches srv to the gRPC server s.
func Register(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the Ingest service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordDetections", Handler: recordDetectionsHandler},
		{MethodName: "ReportCamera", Handler: reportCameraHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "areawatch/v1/ingest",
}

func recordDetectionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).RecordDetections(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: recordDetectionsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).RecordDetections(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func reportCameraHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).ReportCamera(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: reportCameraMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).ReportCamera(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the Ingest service over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// RecordDetections sends one batch and returns the server's response.
func (c *Client) RecordDetections(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, recordDetectionsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportCamera sends one camera heartbeat.
func (c *Client) ReportCamera(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, reportCameraMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
