// Package metrics exposes server instruments on a dedicated Prometheus
// registry, served at /metrics.
//
// Components do not import this package. main wires the hooks they expose
// (store listeners, OnResult, OnGenerated, OnTransition, OnPrune, OnClients)
// to the recording methods here.
package metrics
