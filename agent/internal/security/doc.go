// Package security probes camera stream endpoints: certificate expiry for
// TLS URLs and TCP reachability for the rest.
package security
