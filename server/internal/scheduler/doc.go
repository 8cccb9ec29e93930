// Package scheduler runs recurring report deliveries on cron triggers.
//
// Schedules persist to a JSON file. Each active schedule owns one cron entry;
// the job hands a reports.Request to the Runner and records the outcome on the
// schedule.
package scheduler
