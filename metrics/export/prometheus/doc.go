// Package prometheus exports goSession metrics through client_golang.
//
// [Collector] implements prometheus.Collector. Register it with any registry,
// or mount [Collector.Handler] for a standalone /metrics endpoint. Counter
// names are gosession_*_total; the single histogram is
// gosession_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry.
//   - Mutate engine state.
package prometheus
