// Package detections owns the flat CSV detection log.
//
// The log is append-only: Append validates a whole batch, then writes it with a
// single write and fsync. ReadAll never fails on bad rows; it skips and counts
// them so a partially written or hand-edited log stays usable.
package detections
