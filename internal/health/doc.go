// Package health implements the single-shot health probe.
//
// One Check is one HTTP request classified as:
//   - unreachable: network-level failure or timeout
//   - degraded: backend reachable but reporting non-healthy, or responding
//     above the configured latency threshold
//   - healthy: everything else
//
// The probe never retries on its own.
package health
