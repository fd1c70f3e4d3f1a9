// Package prometheus serves authcore counters and latency histograms in the
// Prometheus text exposition format.
//
// Counters are named authcore_*_total and histograms authcore_*_seconds.
// Nothing is registered globally; callers mount [Exporter.Handler].
package prometheus
