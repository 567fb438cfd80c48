package outbound

import "context"

// MetricsRecorder provides an interface for recording application metrics.
// This allows services to record metrics without depending on a specific
// telemetry implementation.
type MetricsRecorder interface {
	// RecordCycle records the completion of one reconciliation cycle with
	// its outcome label ("submitted", "skipped:not_due", "failed", ...).
	RecordCycle(ctx context.Context, outcome string)

	// RecordCheckpointGap records how many blocks the oracle's checkpoint
	// lags behind the observed chain head.
	RecordCheckpointGap(ctx context.Context, gap int64)

	// RecordSubmission records a confirmed update transaction for the
	// given candidate block.
	RecordSubmission(ctx context.Context, blockNumber uint64)
}

// NopMetricsRecorder discards all recordings.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) RecordCycle(context.Context, string)        {}
func (NopMetricsRecorder) RecordCheckpointGap(context.Context, int64) {}
func (NopMetricsRecorder) RecordSubmission(context.Context, uint64)   {}
