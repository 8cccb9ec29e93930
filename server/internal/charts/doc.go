// Package charts renders the analytics datasets as PNG images with go-chart.
//
// The images are attached to report emails and served from
// /api/analytics/charts/{name}.png.
package charts
