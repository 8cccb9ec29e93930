// Package config loads and watches the agent configuration file.
//
// AgentConfig names the server to ship to (server_endpoint, camera_id,
// server_auth), the detector whose output is followed and scraped
// (detector.output, detector.metrics_endpoint, restricted_classes,
// min_confidence) and the camera endpoints to probe.
//
// Load(path) applies defaults (15s scrape, 30s heartbeat, 5000 buffer,
// batches of 100) and validates required fields and enums.
//
// Watch(ctx, path, onChange) reloads on write/create so restricted classes
// and the confidence floor can change without a restart. A broken file keeps
// the previous config.
package config
