// Package types defines shared Go types used by both the agent and server.
// Detection is the canonical in-memory form of one row of the detection log,
// separate from the CSV layout on disk and the structpb form on the wire.
package types
