// Package snapshots manages the detector's frames directory: listing,
// serving, thumbnailing and retention of saved frames.
package snapshots
