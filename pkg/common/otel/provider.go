package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// GetMeterProvider returns the globally registered meter provider.
// InitTelemetry must have been called first for meaningful metrics.
func GetMeterProvider() metric.MeterProvider { return otel.GetMeterProvider() }
