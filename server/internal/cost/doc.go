// Package cost models the operating cost and return on investment of the
// monitoring system. The cost parameters persist to a JSON file; the
// analyses are pure functions over detection rows.
package cost
