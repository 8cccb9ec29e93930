// Package activity keeps the in-memory activity feed shown on the dashboard:
// detection events, user actions, and system events such as camera changes.
package activity
