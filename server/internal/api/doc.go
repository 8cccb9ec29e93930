// Package api implements the HTTP REST API for areawatch-server.
//
// New(deps) returns a Handler whose gorilla/mux router serves every /api
// route. Route groups:
//
//	/api/detections   summary, recent, today, CSV download, append
//	/api/alerts       violation lists and stats, active rule alerts, alert email
//	/api/analytics    KPIs, trends, forecasts, anomalies, chart data and PNGs
//	/api/reports      daily, weekly, monthly, compliance, email delivery
//	/api/schedules    recurring report schedules
//	/api/cost         cost model and cost analyses
//	/api/email        SMTP test, config, one-off and scheduled reports
//	/api/snapshots    frame listing, download, thumbnails, delete
//	/api/activity     activity feed
//	/api/health       service map, host metrics, camera status, uptime
//	/api/cameras      camera CRUD
//	/api/users        user activity log, stats, sessions
//	/api/auth         login, logout, signup
//
// Conventions:
//   - JSON responses, except file downloads and images
//   - errors use the {"error": "..."} envelope with a status mapped from the
//     package sentinel errors
//   - a known path with the wrong method answers 405
//   - start_date/end_date filter accepts YYYY-MM-DD or RFC3339
package api
