// Package prometheus exposes goAuthCore counters through client_golang.
//
// [PrometheusExporter] implements prometheus.Collector, so it can be registered
// on any registry, and [PrometheusExporter.Handler] serves it from a private one.
// Counter names are goauthcore_*_total; the login round trip is the
// goauthcore_login_latency_seconds histogram.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
