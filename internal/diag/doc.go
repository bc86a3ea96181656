// Package diag owns the diagnostics HTTP surface of weakrefctl.
//
// Ownership boundary:
// - health/readiness probes
// - registry stats, snapshot and invariant check endpoints
// - forced collection trigger
// - prometheus scrape endpoint
package diag
