package entity

import (
	"errors"
	"fmt"
)

// ErrCheckpointNotFound is returned by the checkpoint locator when no oracle
// update event exists within the backward search horizon. Fatal for the
// current cycle only; the contract is expected to be seeded out-of-band.
var ErrCheckpointNotFound = errors.New("no oracle update event within the search horizon")

// ConfigError wraps startup configuration failures. It is the only error
// class that terminates the process.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProviderError wraps a failed RPC call. Transient: the cycle aborts and the
// next scheduled cycle re-evaluates from live chain state.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// BlockFetchError means a block this cycle needed was not available from the
// provider. Transient, like ProviderError, but kept distinct so callers can
// tell "the candidate block does not exist yet" from a failing endpoint.
type BlockFetchError struct {
	Block uint64
	Err   error
}

func (e *BlockFetchError) Error() string {
	return fmt.Sprintf("block %d unavailable: %v", e.Block, e.Err)
}

func (e *BlockFetchError) Unwrap() error { return e.Err }

// SubmissionError wraps a failure while preparing, signing, broadcasting or
// confirming the update transaction. Transient: no retry within the cycle,
// the contract's own duplicate guard makes the next attempt safe.
type SubmissionError struct {
	Stage string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission: %s: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a per-cycle recoverable failure. The
// scheduler logs these and continues; everything transient is re-evaluated
// from scratch on the next cycle.
func IsTransient(err error) bool {
	var (
		pe *ProviderError
		bf *BlockFetchError
		se *SubmissionError
	)
	return errors.As(err, &pe) || errors.As(err, &bf) || errors.As(err, &se)
}
