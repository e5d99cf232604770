// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Streaming connection state, frame rates, malformed frames and
//     protocol violations
//   - Rate limiter waits and retry outcomes per request category
//   - Order journal batch sizes and failures
//   - Snapshot publisher throughput
//
// A nil *Metrics is valid and records nothing.
package metrics
