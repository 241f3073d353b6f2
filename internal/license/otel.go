package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "xtcli/license"

// Metrics holds the license-specific OpenTelemetry instruments
type Metrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter

	ConnectivityProbes   metric.Int64Counter
	ConnectivityFailures metric.Int64Counter

	FingerprintDuration metric.Float64Histogram
	RateLimitHits       metric.Int64Counter
}

// NewMetrics registers the license instruments on the global meter
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.ValidationAttempts, err = meter.Int64Counter("license_validation_attempts_total",
		metric.WithDescription("Total license validation attempts")); err != nil {
		return nil, err
	}
	if m.ValidationSuccess, err = meter.Int64Counter("license_validation_success_total",
		metric.WithDescription("Successful license validations")); err != nil {
		return nil, err
	}
	if m.ValidationFailures, err = meter.Int64Counter("license_validation_failures_total",
		metric.WithDescription("Failed license validations")); err != nil {
		return nil, err
	}
	if m.ValidationDuration, err = meter.Float64Histogram("license_validation_duration_seconds",
		metric.WithDescription("License validation round-trip duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.ActivationAttempts, err = meter.Int64Counter("license_activation_attempts_total",
		metric.WithDescription("Total license activation attempts")); err != nil {
		return nil, err
	}
	if m.ActivationSuccess, err = meter.Int64Counter("license_activation_success_total",
		metric.WithDescription("Successful license activations")); err != nil {
		return nil, err
	}
	if m.ActivationFailures, err = meter.Int64Counter("license_activation_failures_total",
		metric.WithDescription("Failed license activations")); err != nil {
		return nil, err
	}
	if m.ConnectivityProbes, err = meter.Int64Counter("license_connectivity_probes_total",
		metric.WithDescription("License server health probes")); err != nil {
		return nil, err
	}
	if m.ConnectivityFailures, err = meter.Int64Counter("license_connectivity_failures_total",
		metric.WithDescription("Failed license server health probes")); err != nil {
		return nil, err
	}
	if m.FingerprintDuration, err = meter.Float64Histogram("license_fingerprint_duration_seconds",
		metric.WithDescription("Device fingerprint generation duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.RateLimitHits, err = meter.Int64Counter("license_rate_limit_hits_total",
		metric.WithDescription("Activation attempts rejected by rate limiting")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordValidation records a validation outcome with its duration
func (m *Metrics) RecordValidation(ctx context.Context, start time.Time, outcome string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ValidationAttempts.Add(ctx, 1, attrs)
	m.ValidationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	switch outcome {
	case "valid":
		m.ValidationSuccess.Add(ctx, 1)
	default:
		m.ValidationFailures.Add(ctx, 1, attrs)
	}
}

// RecordActivation records an activation attempt outcome
func (m *Metrics) RecordActivation(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	if success {
		m.ActivationSuccess.Add(ctx, 1)
	} else {
		m.ActivationFailures.Add(ctx, 1)
	}
}

// RecordConnectivity records a health probe result
func (m *Metrics) RecordConnectivity(ctx context.Context, connected bool) {
	if m == nil {
		return
	}
	m.ConnectivityProbes.Add(ctx, 1)
	if !connected {
		m.ConnectivityFailures.Add(ctx, 1)
	}
}
