// Package prometheus publishes deskgate engine metrics through
// client_golang.
//
// [NewPrometheusExporter] wraps an [deskgate.Engine] in a
// [prometheus.Collector] that reads [deskgate.Engine.MetricsSnapshot] on
// every scrape, and exposes a promhttp handler over a private registry.
// Counter names are prefixed deskgate_*_total; latency histograms are
// deskgate_*_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry; callers mount the
//     Handler or register the Collector themselves.
//   - Mutate engine state.
package prometheus
