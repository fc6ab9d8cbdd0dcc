// Package otel binds goAuthCore counters to OpenTelemetry metric instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter, a bucket
// gauge keyed by an "le" attribute plus a count gauge per latency histogram,
// and, for an Engine, gauges for the signed-in and impersonating state. One
// callback reads the Engine on each collection cycle.
//
// The caller owns the MeterProvider; the exporter only registers instruments.
package otel
