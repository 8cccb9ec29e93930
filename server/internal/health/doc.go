// Package health reports host, process and camera health for the
// /api/health endpoints. Host figures come from gopsutil.
package health
