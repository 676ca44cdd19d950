// Package prometheus renders taskauth engine counters in the Prometheus text
// exposition format.
//
// Counter names are taskauth_*_total. The one histogram is
// taskauth_validate_latency_seconds, present only when latency histograms are
// enabled. Nothing is registered globally; callers mount [Exporter.Handler].
package prometheus
