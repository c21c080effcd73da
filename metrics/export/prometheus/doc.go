// Package prometheus renders authbroker engine metrics in the Prometheus text
// exposition format.
//
// Counters are named authbroker_*_total and the login latency histogram is
// authbroker_login_latency_seconds. Nothing is registered globally; callers
// mount [Exporter.Handler] where they want it.
package prometheus
