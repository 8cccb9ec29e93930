// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Sections:
//   - grpc_port / http_port: ingest and REST listeners (defaults 50051, 8000)
//   - auth: "apikey" or "none", key read from the env var named by key_env
//   - data: detection log, frames, reports and state file locations
//   - live: WebSocket push cadence and the log poll fallback
//   - alerts: detection rules, webhooks and optional alert email
//   - email: SMTP settings; the password is read from password_env
//   - snapshots: frame retention and thumbnail width
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change.
package config
