// Package reconciler decides whether the oracle needs a new checkpoint and,
// when it does, submits the update transaction.
//
// Given the block of the latest recorded checkpoint and the current head, the
// engine computes the candidate block one interval ahead, verifies it is
// safely behind the head, checks the contract has not already recorded the
// candidate's timestamp, and only then builds, signs and broadcasts a single
// addTimestamp transaction. The contract read makes the cycle idempotent:
// re-running after a successful submission is a skip, never a duplicate
// write.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/beaconops/oracle-updater/internal/domain/entity"
	"github.com/beaconops/oracle-updater/internal/pkg/blockchain"
	"github.com/beaconops/oracle-updater/internal/pkg/blockchain/abis"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// Config holds configuration for the reconciliation engine.
type Config struct {
	// BlockInterval is the spacing between checkpoints, in blocks.
	BlockInterval uint64

	// SafetyMargin is how many blocks the candidate must trail the head
	// before it is considered final enough to record.
	SafetyMargin uint64

	// ChainID identifies the chain for transaction signing.
	ChainID *big.Int

	// ReceiptPollInterval is how often to poll for the receipt of a
	// broadcast transaction.
	ReceiptPollInterval time.Duration

	// ReceiptTimeout bounds the wait for a receipt.
	ReceiptTimeout time.Duration

	// Logger is the structured logger for the engine.
	Logger *slog.Logger
}

// ConfigDefaults returns a Config with default values. BlockInterval and
// ChainID have no defaults and must be set.
func ConfigDefaults() Config {
	return Config{
		SafetyMargin:        5,
		ReceiptPollInterval: 2 * time.Second,
		ReceiptTimeout:      90 * time.Second,
	}
}

// Service reconciles the oracle contract's checkpoint record with the chain.
type Service struct {
	chain     outbound.ChainClient
	signer    outbound.TransactionSigner
	oracle    common.Address
	oracleABI *abi.ABI
	sink      outbound.EventSink
	metrics   outbound.MetricsRecorder
	config    Config
	logger    *slog.Logger
}

// NewService creates a new reconciliation engine. The sink may be nil when no
// event publishing is configured.
func NewService(
	chain outbound.ChainClient,
	signer outbound.TransactionSigner,
	oracle common.Address,
	sink outbound.EventSink,
	metrics outbound.MetricsRecorder,
	config Config,
) (*Service, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("transaction signer is required")
	}
	if config.BlockInterval == 0 {
		return nil, fmt.Errorf("block interval must be positive")
	}
	if config.ChainID == nil || config.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain ID must be positive")
	}

	defaults := ConfigDefaults()
	if config.SafetyMargin == 0 {
		config.SafetyMargin = defaults.SafetyMargin
	}
	if config.ReceiptPollInterval == 0 {
		config.ReceiptPollInterval = defaults.ReceiptPollInterval
	}
	if config.ReceiptTimeout == 0 {
		config.ReceiptTimeout = defaults.ReceiptTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if metrics == nil {
		metrics = outbound.NopMetricsRecorder{}
	}

	oracleABI, err := abis.GetBeaconOracleABI()
	if err != nil {
		return nil, fmt.Errorf("loading oracle ABI: %w", err)
	}

	return &Service{
		chain:     chain,
		signer:    signer,
		oracle:    oracle,
		oracleABI: oracleABI,
		sink:      sink,
		metrics:   metrics,
		config:    config,
		logger:    config.Logger.With("component", "reconciler"),
	}, nil
}

// Reconcile runs one decision cycle against the given checkpoint block and
// chain head. It submits at most one transaction, and only after confirming
// the candidate timestamp is absent from the contract.
func (s *Service) Reconcile(ctx context.Context, checkpoint, head uint64) (entity.Outcome, error) {
	candidate := checkpoint + s.config.BlockInterval

	// The candidate must be strictly more than SafetyMargin blocks behind
	// the head before its timestamp is treated as settled.
	if candidate+s.config.SafetyMargin >= head {
		s.logger.Debug("candidate not yet due",
			"checkpoint", checkpoint,
			"candidate", candidate,
			"head", head)
		return entity.SkippedOutcome(entity.SkipNotDue, candidate), nil
	}

	timestamp, err := s.chain.BlockTimestamp(ctx, candidate)
	if err != nil {
		return entity.Outcome{}, fmt.Errorf("fetching candidate block %d: %w", candidate, err)
	}

	root, err := blockchain.FetchBeaconRoot(ctx, s.chain, s.oracleABI, s.oracle, timestamp)
	if err != nil {
		return entity.Outcome{}, &entity.SubmissionError{Stage: "duplicate-check", Err: err}
	}
	if root != blockchain.ZeroRoot {
		s.logger.Info("candidate timestamp already recorded",
			"candidate", candidate,
			"timestamp", timestamp)
		return entity.SkippedOutcome(entity.SkipAlreadyRecorded, candidate), nil
	}

	txHash, err := s.submit(ctx, timestamp)
	if err != nil {
		return entity.Outcome{}, err
	}

	s.logger.Info("checkpoint submitted",
		"candidate", candidate,
		"timestamp", timestamp,
		"txHash", txHash.Hex())
	s.metrics.RecordSubmission(ctx, candidate)
	s.publishEvent(ctx, candidate, timestamp, txHash)

	return entity.SubmittedOutcome(candidate, timestamp, txHash), nil
}

// submit builds, signs, broadcasts and confirms one addTimestamp transaction.
func (s *Service) submit(ctx context.Context, timestamp *big.Int) (common.Hash, error) {
	from := s.signer.Address()

	data, err := blockchain.PackAddTimestamp(s.oracleABI, timestamp)
	if err != nil {
		return common.Hash{}, &entity.SubmissionError{Stage: "build", Err: err}
	}

	nonce, err := s.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, &entity.SubmissionError{Stage: "build", Err: err}
	}

	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, &entity.SubmissionError{Stage: "build", Err: err}
	}

	gasLimit, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &s.oracle,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, &entity.SubmissionError{Stage: "build", Err: err}
	}

	tx := types.NewTransaction(nonce, s.oracle, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := s.signer.SignTransaction(ctx, s.config.ChainID, tx)
	if err != nil {
		return common.Hash{}, &entity.SubmissionError{Stage: "sign", Err: err}
	}

	if err := s.chain.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, &entity.SubmissionError{Stage: "broadcast", Err: err}
	}

	txHash := signedTx.Hash()
	s.logger.Debug("transaction broadcast",
		"txHash", txHash.Hex(),
		"nonce", nonce,
		"gasLimit", gasLimit)

	if err := s.awaitReceipt(ctx, txHash); err != nil {
		return common.Hash{}, err
	}
	return txHash, nil
}

// awaitReceipt polls until the transaction is mined with a successful status.
func (s *Service) awaitReceipt(ctx context.Context, txHash common.Hash) error {
	deadline := time.NewTimer(s.config.ReceiptTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.config.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.chain.TransactionReceipt(ctx, txHash)
		switch {
		case errors.Is(err, ethereum.NotFound):
			// Still pending.
		case err != nil:
			return &entity.SubmissionError{Stage: "confirm", Err: err}
		case receipt.Status != types.ReceiptStatusSuccessful:
			return &entity.SubmissionError{
				Stage: "confirm",
				Err:   fmt.Errorf("transaction %s reverted", txHash.Hex()),
			}
		default:
			return nil
		}

		select {
		case <-ctx.Done():
			return &entity.SubmissionError{Stage: "confirm", Err: ctx.Err()}
		case <-deadline.C:
			return &entity.SubmissionError{
				Stage: "confirm",
				Err:   fmt.Errorf("no receipt for %s within %s", txHash.Hex(), s.config.ReceiptTimeout),
			}
		case <-ticker.C:
		}
	}
}

// publishEvent notifies the configured sink of a confirmed submission.
// Publishing is best effort; a sink failure never fails the cycle.
func (s *Service) publishEvent(ctx context.Context, candidate uint64, timestamp *big.Int, txHash common.Hash) {
	if s.sink == nil {
		return
	}

	event := outbound.CheckpointEvent{
		ChainID:        s.config.ChainID.Uint64(),
		BlockNumber:    candidate,
		BlockTimestamp: timestamp.Uint64(),
		TxHash:         txHash.Hex(),
		SubmittedAt:    time.Now().UTC(),
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish checkpoint event",
			"block", candidate,
			"error", err)
	}
}
