package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments for batch jobs. Jobs have no
// scrape endpoint, so they push over OTLP instead of exposing Prometheus.
type OTelMetrics struct {
	sweepRuns     metric.Int64Counter
	sweepExpired  metric.Int64Counter
	sweepDuration metric.Float64Histogram
	lastSweep     metric.Int64Gauge
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/backoffice"))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.sweepRuns, err = meter.Int64Counter(
		"backoffice.invitations.sweep.runs",
		metric.WithDescription("Invitation expiry sweeps by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep runs counter: %w", err)
	}

	m.sweepExpired, err = meter.Int64Counter(
		"backoffice.invitations.expired",
		metric.WithDescription("Invitations moved to expired by the sweeper"),
		metric.WithUnit("{invitation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expired counter: %w", err)
	}

	m.sweepDuration, err = meter.Float64Histogram(
		"backoffice.invitations.sweep.duration",
		metric.WithDescription("Invitation expiry sweep duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep duration histogram: %w", err)
	}

	m.lastSweep, err = meter.Int64Gauge(
		"backoffice.invitations.sweep.last_success",
		metric.WithDescription("Unix time of the last successful sweep"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create last sweep gauge: %w", err)
	}

	return m, nil
}

// RecordSweep records one sweep run
func (m *OTelMetrics) RecordSweep(ctx context.Context, expired int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	m.sweepRuns.Add(ctx, 1, attrs)
	m.sweepDuration.Record(ctx, duration.Seconds(), attrs)
	if err == nil {
		m.sweepExpired.Add(ctx, int64(expired))
		m.lastSweep.Record(ctx, time.Now().Unix())
	}
}
