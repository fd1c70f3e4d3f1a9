// Package otel binds authcore metrics to an OpenTelemetry meter.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge. The caller owns the MeterProvider.
package otel
