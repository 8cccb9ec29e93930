// Package ingest defines the gRPC service that agents use to push detections
// and camera heartbeats to areawatch-server.
//
// The service is declared directly as a grpc.ServiceDesc whose request and
// response messages are protobuf well-known types (structpb.Struct and
// emptypb.Empty), so no generated code is required on either side:
//
//	/areawatch.v1.Ingest/RecordDetections  Struct{"detections": [...]} -> Struct{"accepted": n}
//	/areawatch.v1.Ingest/ReportCamera      Struct{camera status}       -> Empty
package ingest
