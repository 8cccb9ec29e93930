// Package scraper polls the detector's Prometheus metrics endpoint and
// returns raw counter totals (frames processed and dropped, detections) plus
// the current inference latency. The compute engine derives rates and the
// health score from consecutive results.
//
// Authentication (mTLS, API key, bearer, basic) is handled by the
// authRoundTripper in base.go.
package scraper
