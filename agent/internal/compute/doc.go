// Package compute derives detector health from raw scraper output.
//
// score.go holds the pure Compute(Input) function: frame drops (40%),
// inference latency against a baseline (30%), achieved fps against the
// target (20%) and scrape uptime (10%). Healthy is 85 and above, degraded
// 60 to 85, critical below. CameraStatus maps the state onto the camera
// status the server stores.
//
// engine.go holds the stateful Engine, which keeps the previous counters
// and derives fps, drop percentage and detections per minute from deltas.
// Engine.Process takes the clock as an argument so tests are deterministic.
package compute
