// Package shipper sends detections and camera heartbeats to areawatch-server
// over the ingest gRPC service (RecordDetections, ReportCamera).
//
// Ship never blocks: detections go into an in-memory buffer and, when it is
// full, the oldest are evicted. Batches of up to batch_size are sent as soon
// as they fill and partial batches every flush interval. Heartbeat keeps only
// the newest unsent status.
//
// Run reconnects with truncated exponential backoff (1s to 60s, ±25% jitter).
// A batch that failed with a transient error goes back to the front of the
// buffer. Permanent errors (InvalidArgument, Unauthenticated,
// PermissionDenied, NotFound) discard it.
//
// Auth: mTLS via credentials.NewTLS, API key via gRPC metadata, or plaintext
// for local setups.
package shipper
