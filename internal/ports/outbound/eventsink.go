package outbound

import (
	"context"
	"time"
)

// CheckpointEvent is published after an update transaction is confirmed,
// so downstream consumers can observe checkpoint progression without
// watching the chain themselves.
type CheckpointEvent struct {
	// ChainID identifies which chain the checkpoint was recorded on.
	ChainID uint64 `json:"chainId"`

	// BlockNumber is the candidate block whose timestamp was recorded.
	BlockNumber uint64 `json:"blockNumber"`

	// BlockTimestamp is the recorded timestamp (unix seconds).
	BlockTimestamp uint64 `json:"blockTimestamp"`

	// TxHash is the hash of the confirmed update transaction.
	TxHash string `json:"txHash"`

	// SubmittedAt is when the confirmation was observed.
	SubmittedAt time.Time `json:"submittedAt"`
}

// EventSink defines the interface for publishing checkpoint events.
type EventSink interface {
	// Publish publishes a checkpoint event.
	Publish(ctx context.Context, event CheckpointEvent) error

	// Close closes the sink and releases any resources.
	Close() error
}
