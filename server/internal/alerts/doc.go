// Package alerts matches incoming detections against configured rules and
// delivers notifications when an alert fires or resolves. Delivery targets are
// Slack, Teams and generic HTTP webhooks, plus an optional violation email.
package alerts
