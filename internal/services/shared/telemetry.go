// Package shared provides shared instrumentation for application services.
package shared

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// Compile-time assertion that AppTelemetry implements MetricsRecorder.
var _ outbound.MetricsRecorder = (*AppTelemetry)(nil)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/beaconops/oracle-updater/internal/services"
)

// AppTelemetry provides OpenTelemetry metrics for reconciliation-level
// domain events: cycle outcomes, confirmed submissions and the gap between
// the oracle's checkpoint and the chain head.
type AppTelemetry struct {
	meter metric.Meter

	cyclesTotal      metric.Int64Counter
	submissionsTotal metric.Int64Counter
	checkpointGap    metric.Int64Gauge
}

// NewAppTelemetry creates a new AppTelemetry instance with OpenTelemetry
// instrumentation. Uses the global meter provider by default.
func NewAppTelemetry() (*AppTelemetry, error) {
	return NewAppTelemetryWithProvider(otel.GetMeterProvider())
}

// NewAppTelemetryWithProvider creates a new AppTelemetry instance with a
// custom meter provider.
func NewAppTelemetryWithProvider(mp metric.MeterProvider) (*AppTelemetry, error) {
	meter := mp.Meter(instrumentationName)

	t := &AppTelemetry{
		meter: meter,
	}

	var err error

	t.cyclesTotal, err = meter.Int64Counter(
		"oracle.cycles.total",
		metric.WithDescription("Total number of reconciliation cycles by outcome"),
	)
	if err != nil {
		return nil, err
	}

	t.submissionsTotal, err = meter.Int64Counter(
		"oracle.submissions.total",
		metric.WithDescription("Total number of confirmed checkpoint submissions"),
	)
	if err != nil {
		return nil, err
	}

	t.checkpointGap, err = meter.Int64Gauge(
		"oracle.checkpoint.gap",
		metric.WithDescription("Blocks between the oracle checkpoint and the chain head"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordCycle records the completion of one reconciliation cycle.
func (t *AppTelemetry) RecordCycle(ctx context.Context, outcome string) {
	t.cyclesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cycle.outcome", outcome),
	))
}

// RecordCheckpointGap records the checkpoint's lag behind the chain head.
func (t *AppTelemetry) RecordCheckpointGap(ctx context.Context, gap int64) {
	t.checkpointGap.Record(ctx, gap)
}

// RecordSubmission records a confirmed update transaction.
func (t *AppTelemetry) RecordSubmission(ctx context.Context, blockNumber uint64) {
	t.submissionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("checkpoint.block", int64(blockNumber)),
	))
}
