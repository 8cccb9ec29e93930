// Package analytics computes dashboard statistics over detection rows.
//
// Every function is pure: callers pass the rows (oldest first, as the store
// returns them) and, where the result depends on the current time, an explicit
// now. Percentages are rounded to two decimals. Confidence is kept as 0..1 in
// the inputs and reported as a percentage wherever the dashboard shows one.
package analytics
