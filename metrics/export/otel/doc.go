// Package otel publishes authbroker engine metrics as OpenTelemetry
// observable instruments.
//
// Counters become Int64ObservableCounters with the same names as the
// Prometheus exporter. The login latency histogram is published as one
// cumulative gauge per bucket plus a count gauge, because observable
// instruments cannot carry explicit-bucket histograms.
package otel
