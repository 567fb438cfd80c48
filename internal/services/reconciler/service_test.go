package reconciler

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/beaconops/oracle-updater/internal/adapters/outbound/memory"
	"github.com/beaconops/oracle-updater/internal/domain/entity"
	"github.com/beaconops/oracle-updater/internal/pkg/blockchain"
	"github.com/beaconops/oracle-updater/internal/pkg/blockchain/abis"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
	"github.com/beaconops/oracle-updater/internal/testutil"
)

var testOracle = common.HexToAddress("0x3333333333333333333333333333333333333333")

func testConfig() Config {
	return Config{
		BlockInterval:       500,
		ChainID:             big.NewInt(1),
		ReceiptPollInterval: time.Millisecond,
		ReceiptTimeout:      100 * time.Millisecond,
		Logger:              testutil.DiscardLogger(),
	}
}

func newTestService(t *testing.T, chain *testutil.MockChainClient, sink *memory.EventSink) *Service {
	t.Helper()
	signer, err := testutil.NewLocalSigner()
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	return newTestServiceWithSigner(t, chain, signer, sink)
}

func newTestServiceWithSigner(t *testing.T, chain *testutil.MockChainClient, signer *testutil.LocalSigner, sink *memory.EventSink) *Service {
	t.Helper()
	var s *Service
	var err error
	if sink == nil {
		s, err = NewService(chain, signer, testOracle, nil, nil, testConfig())
	} else {
		s, err = NewService(chain, signer, testOracle, sink, nil, testConfig())
	}
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	return s
}

// nonZeroRoot returns a 32-byte call result with a recorded beacon root.
func nonZeroRoot() []byte {
	root := make([]byte, 32)
	root[31] = 0x7f
	return root
}

func TestNewService_Validation(t *testing.T) {
	chain := testutil.NewMockChainClient()
	signer, err := testutil.NewLocalSigner()
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}

	if _, err := NewService(nil, signer, testOracle, nil, nil, testConfig()); err == nil {
		t.Error("expected error for nil chain client")
	}
	if _, err := NewService(chain, nil, testOracle, nil, nil, testConfig()); err == nil {
		t.Error("expected error for nil signer")
	}
	if _, err := NewService(chain, signer, testOracle, nil, nil, Config{ChainID: big.NewInt(1)}); err == nil {
		t.Error("expected error for zero block interval")
	}
	if _, err := NewService(chain, signer, testOracle, nil, nil, Config{BlockInterval: 500}); err == nil {
		t.Error("expected error for missing chain ID")
	}
}

func TestReconcile_EligibilityBoundary(t *testing.T) {
	// checkpoint 1000 + interval 500 = candidate 1500; with margin 5 the
	// head must exceed 1505 before the candidate is due.
	tests := []struct {
		name      string
		head      uint64
		wantKind  entity.OutcomeKind
		wantTxs   int
	}{
		{name: "head at margin boundary", head: 1505, wantKind: entity.OutcomeSkipped, wantTxs: 0},
		{name: "head one past boundary", head: 1506, wantKind: entity.OutcomeSubmitted, wantTxs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := testutil.NewMockChainClient()
			chain.SetTimestamp(1500, 1_700_018_000)

			service := newTestService(t, chain, nil)
			outcome, err := service.Reconcile(context.Background(), 1000, tt.head)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome.Kind != tt.wantKind {
				t.Errorf("outcome %s, want kind %v", outcome, tt.wantKind)
			}
			if outcome.Kind == entity.OutcomeSkipped && outcome.Reason != entity.SkipNotDue {
				t.Errorf("skip reason %s, want %s", outcome.Reason, entity.SkipNotDue)
			}
			if len(chain.SentTxs) != tt.wantTxs {
				t.Errorf("sent %d transactions, want %d", len(chain.SentTxs), tt.wantTxs)
			}
		})
	}
}

func TestReconcile_SubmitsDueCheckpoint(t *testing.T) {
	// The steady-state scenario: checkpoint at 100000, interval 500, head
	// 100506. Candidate 100500 trails the head by 6 > 5, its timestamp is
	// unrecorded, so exactly one addTimestamp goes out.
	const candidateTimestamp = 1_700_042_000

	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, candidateTimestamp)
	sink := memory.NewEventSink()

	service := newTestService(t, chain, sink)
	outcome, err := service.Reconcile(context.Background(), 100000, 100506)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Kind != entity.OutcomeSubmitted {
		t.Fatalf("outcome %s, want submitted", outcome)
	}
	if outcome.Candidate != 100500 {
		t.Errorf("candidate %d, want 100500", outcome.Candidate)
	}
	if outcome.Timestamp.Uint64() != candidateTimestamp {
		t.Errorf("timestamp %s, want %d", outcome.Timestamp, candidateTimestamp)
	}

	if len(chain.SentTxs) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(chain.SentTxs))
	}
	tx := chain.SentTxs[0]
	if *tx.To() != testOracle {
		t.Errorf("transaction to %s, want %s", tx.To(), testOracle)
	}
	if tx.Value().Sign() != 0 {
		t.Errorf("transaction value %s, want 0", tx.Value())
	}

	oracleABI, err := abis.GetBeaconOracleABI()
	if err != nil {
		t.Fatalf("loading ABI: %v", err)
	}
	wantData, err := blockchain.PackAddTimestamp(oracleABI, big.NewInt(candidateTimestamp))
	if err != nil {
		t.Fatalf("packing call data: %v", err)
	}
	if !bytes.Equal(tx.Data(), wantData) {
		t.Error("transaction data does not encode addTimestamp(timestamp)")
	}

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].BlockNumber != 100500 {
		t.Errorf("event block %d, want 100500", events[0].BlockNumber)
	}
	if events[0].TxHash != outcome.TxHash.Hex() {
		t.Errorf("event tx hash %s, want %s", events[0].TxHash, outcome.TxHash.Hex())
	}
}

func TestReconcile_SkipsAlreadyRecorded(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, 1_700_042_000)
	chain.CallFunc = func(msg ethereum.CallMsg) ([]byte, error) {
		return nonZeroRoot(), nil
	}

	service := newTestService(t, chain, nil)
	outcome, err := service.Reconcile(context.Background(), 100000, 100506)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.Kind != entity.OutcomeSkipped || outcome.Reason != entity.SkipAlreadyRecorded {
		t.Errorf("outcome %s, want skipped:already_recorded", outcome)
	}
	if len(chain.SentTxs) != 0 {
		t.Errorf("sent %d transactions, want none", len(chain.SentTxs))
	}
	if len(chain.Calls) != 1 {
		t.Errorf("made %d contract reads, want 1", len(chain.Calls))
	}
}

func TestReconcile_IdempotentAcrossCycles(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, 1_700_042_000)

	service := newTestService(t, chain, nil)

	outcome, err := service.Reconcile(context.Background(), 100000, 100506)
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if outcome.Kind != entity.OutcomeSubmitted {
		t.Fatalf("first cycle outcome %s, want submitted", outcome)
	}

	// The contract now reports the timestamp as recorded; a rerun of the
	// same cycle must not submit again.
	chain.CallFunc = func(msg ethereum.CallMsg) ([]byte, error) {
		return nonZeroRoot(), nil
	}

	outcome, err = service.Reconcile(context.Background(), 100000, 100506)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if outcome.Kind != entity.OutcomeSkipped || outcome.Reason != entity.SkipAlreadyRecorded {
		t.Errorf("second cycle outcome %s, want skipped:already_recorded", outcome)
	}
	if len(chain.SentTxs) != 1 {
		t.Errorf("sent %d transactions across both cycles, want 1", len(chain.SentTxs))
	}
}

func TestReconcile_MissingCandidateBlock(t *testing.T) {
	chain := testutil.NewMockChainClient()
	// No timestamp registered for block 100500.

	service := newTestService(t, chain, nil)
	_, err := service.Reconcile(context.Background(), 100000, 100506)
	if err == nil {
		t.Fatal("expected error")
	}

	var blockErr *entity.BlockFetchError
	if !errors.As(err, &blockErr) {
		t.Fatalf("expected BlockFetchError, got %v", err)
	}
	if blockErr.Block != 100500 {
		t.Errorf("error names block %d, want 100500", blockErr.Block)
	}
	if !entity.IsTransient(err) {
		t.Error("missing block must classify as transient")
	}
}

func TestReconcile_DuplicateCheckFailure(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, 1_700_042_000)
	chain.CallErr = errors.New("execution aborted")

	service := newTestService(t, chain, nil)
	_, err := service.Reconcile(context.Background(), 100000, 100506)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(chain.SentTxs) != 0 {
		t.Error("no transaction may be sent when the duplicate check fails")
	}
}

func TestReconcile_SignFailure(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, 1_700_042_000)

	signer, err := testutil.NewLocalSigner()
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	signer.Err = errors.New("kms unavailable")

	service := newTestServiceWithSigner(t, chain, signer, nil)
	_, err = service.Reconcile(context.Background(), 100000, 100506)

	var subErr *entity.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Stage != "sign" {
		t.Errorf("stage %q, want sign", subErr.Stage)
	}
	if len(chain.SentTxs) != 0 {
		t.Error("failed signing must not broadcast")
	}
}

func TestReconcile_BroadcastFailure(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, 1_700_042_000)
	chain.SendErr = errors.New("nonce too low")

	service := newTestService(t, chain, nil)
	_, err := service.Reconcile(context.Background(), 100000, 100506)

	var subErr *entity.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Stage != "broadcast" {
		t.Errorf("stage %q, want broadcast", subErr.Stage)
	}
	if !entity.IsTransient(err) {
		t.Error("broadcast failure must classify as transient")
	}
}

func TestReconcile_RevertedTransaction(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, 1_700_042_000)
	chain.ConfirmStatus = types.ReceiptStatusFailed

	service := newTestService(t, chain, nil)
	_, err := service.Reconcile(context.Background(), 100000, 100506)

	var subErr *entity.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Stage != "confirm" {
		t.Errorf("stage %q, want confirm", subErr.Stage)
	}
}

func TestReconcile_ReceiptTimeout(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, 1_700_042_000)
	// Keep the transaction pending forever by pre-scripting no receipts
	// and suppressing auto-confirm.
	chain.ReceiptErr = ethereum.NotFound

	service := newTestService(t, chain, nil)
	_, err := service.Reconcile(context.Background(), 100000, 100506)

	var subErr *entity.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if subErr.Stage != "confirm" {
		t.Errorf("stage %q, want confirm", subErr.Stage)
	}
}

func TestReconcile_SinkFailureDoesNotFailCycle(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.SetTimestamp(100500, 1_700_042_000)

	signer, err := testutil.NewLocalSigner()
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	service, err := NewService(chain, signer, testOracle, failingSink{}, nil, testConfig())
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}

	outcome, err := service.Reconcile(context.Background(), 100000, 100506)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != entity.OutcomeSubmitted {
		t.Errorf("outcome %s, want submitted", outcome)
	}
}

type failingSink struct{}

func (failingSink) Publish(ctx context.Context, event outbound.CheckpointEvent) error {
	return errors.New("sink down")
}

func (failingSink) Close() error { return nil }
