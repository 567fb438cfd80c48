package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OutcomeKind classifies the result of a reconciliation cycle.
type OutcomeKind int

const (
	// OutcomeSkipped means the cycle decided no transaction was needed.
	OutcomeSkipped OutcomeKind = iota

	// OutcomeSubmitted means an update transaction was submitted and confirmed.
	OutcomeSubmitted
)

// SkipReason explains why a reconciliation cycle was skipped.
type SkipReason string

const (
	// SkipNotDue means the candidate block is not yet safely behind the head.
	SkipNotDue SkipReason = "not_due"

	// SkipAlreadyRecorded means the candidate timestamp is already in the
	// contract, so submitting again would be a duplicate write.
	SkipAlreadyRecorded SkipReason = "already_recorded"
)

// Outcome is the result of one reconciliation cycle. A failed cycle is
// expressed as an error return alongside a zero Outcome, not as a kind.
type Outcome struct {
	Kind      OutcomeKind
	Reason    SkipReason
	Candidate uint64
	Timestamp *big.Int
	TxHash    common.Hash
}

// SkippedOutcome returns an Outcome for a cycle that decided not to submit.
func SkippedOutcome(reason SkipReason, candidate uint64) Outcome {
	return Outcome{
		Kind:      OutcomeSkipped,
		Reason:    reason,
		Candidate: candidate,
	}
}

// SubmittedOutcome returns an Outcome for a confirmed update transaction.
func SubmittedOutcome(candidate uint64, timestamp *big.Int, txHash common.Hash) Outcome {
	return Outcome{
		Kind:      OutcomeSubmitted,
		Candidate: candidate,
		Timestamp: timestamp,
		TxHash:    txHash,
	}
}

// String returns a short label for status lines and metrics attributes.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeSkipped:
		if o.Reason != "" {
			return fmt.Sprintf("skipped:%s", o.Reason)
		}
		return "skipped"
	default:
		return "unknown"
	}
}
