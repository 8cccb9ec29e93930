// Package receiver implements ingest.Server, the gRPC endpoint that agents
// use to submit detection batches and camera heartbeats.
//
// RecordDetections is all-or-nothing: one invalid detection rejects the batch
// with codes.InvalidArgument. ReportCamera requires a known camera_id.
// Authentication is enforced upstream by the gRPC server interceptor (see
// package auth), so the receiver only performs structural validation.
package receiver
