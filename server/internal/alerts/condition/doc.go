// Package condition parses and evaluates alert rule conditions, the
// "field op value" clauses joined by "&&" that config validates on load and
// the alert engine matches against detections.
package condition
