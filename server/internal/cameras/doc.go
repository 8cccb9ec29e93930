// Package cameras persists the configured cameras in <data>/cameras.json and
// folds agent heartbeats into their status.
//
// The file has the shape {"cameras": [...]} so it stays readable by tools that
// edit it by hand. Every mutation rewrites the file atomically (tmp + rename).
package cameras
