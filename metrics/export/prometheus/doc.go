// Package prometheus renders engine counters in the Prometheus text
// exposition format.
//
// Counters are named authgate_*_total; the login latency histogram is
// authgate_login_latency_seconds. Nothing is registered globally: callers
// mount [Exporter.Handler] on their own router.
package prometheus
