package application

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/beaconops/oracle-updater/internal/adapters/outbound/memory"
	"github.com/beaconops/oracle-updater/internal/pkg/blockchain"
	"github.com/beaconops/oracle-updater/internal/pkg/blockchain/abis"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
	"github.com/beaconops/oracle-updater/internal/testutil"
)

var testOracle = common.HexToAddress("0x4444444444444444444444444444444444444444")

// recordingMetrics captures metric calls for assertions.
type recordingMetrics struct {
	mu      sync.Mutex
	cycles  []string
	gaps    []int64
	submits []uint64
}

func (m *recordingMetrics) RecordCycle(ctx context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, outcome)
}

func (m *recordingMetrics) RecordCheckpointGap(ctx context.Context, gap int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps = append(m.gaps, gap)
}

func (m *recordingMetrics) RecordSubmission(ctx context.Context, blockNumber uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits = append(m.submits, blockNumber)
}

func testUpdaterConfig() UpdaterConfig {
	config := UpdaterConfigDefaults()
	config.OracleAddress = testOracle
	config.Reconciler.BlockInterval = 500
	config.Reconciler.ChainID = big.NewInt(1)
	config.Reconciler.ReceiptPollInterval = time.Millisecond
	config.Reconciler.ReceiptTimeout = 100 * time.Millisecond
	config.Logger = testutil.DiscardLogger()
	return config
}

func updateTopic(t *testing.T) common.Hash {
	t.Helper()
	oracleABI, err := abis.GetBeaconOracleABI()
	if err != nil {
		t.Fatalf("loading ABI: %v", err)
	}
	topic, err := blockchain.UpdateEventTopic(oracleABI)
	if err != nil {
		t.Fatalf("event topic: %v", err)
	}
	return topic
}

func factories(t *testing.T, chain *testutil.MockChainClient) (ChainClientFactory, SignerFactory) {
	t.Helper()
	signer, err := testutil.NewLocalSigner()
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	newChain := func(ctx context.Context) (outbound.ChainClient, error) {
		return chain, nil
	}
	newSigner := func(ctx context.Context) (outbound.TransactionSigner, error) {
		return signer, nil
	}
	return newChain, newSigner
}

func TestNewUpdaterService_Validation(t *testing.T) {
	chain := testutil.NewMockChainClient()
	newChain, newSigner := factories(t, chain)

	if _, err := NewUpdaterService(nil, newSigner, nil, nil, testUpdaterConfig()); err == nil {
		t.Error("expected error for nil chain factory")
	}
	if _, err := NewUpdaterService(newChain, nil, nil, nil, testUpdaterConfig()); err == nil {
		t.Error("expected error for nil signer factory")
	}

	config := testUpdaterConfig()
	config.Reconciler.BlockInterval = 0
	if _, err := NewUpdaterService(newChain, newSigner, nil, nil, config); err == nil {
		t.Error("expected error for zero block interval")
	}

	config = testUpdaterConfig()
	config.Reconciler.ChainID = nil
	if _, err := NewUpdaterService(newChain, newSigner, nil, nil, config); err == nil {
		t.Error("expected error for missing chain ID")
	}
}

func TestRunCycle_SubmitsWhenDue(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.Head = 100506
	chain.AddLog(100000, testOracle, updateTopic(t))
	chain.SetTimestamp(100500, 1_700_042_000)

	newChain, newSigner := factories(t, chain)
	sink := memory.NewEventSink()
	metrics := &recordingMetrics{}

	service, err := NewUpdaterService(newChain, newSigner, sink, metrics, testUpdaterConfig())
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if len(chain.SentTxs) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(chain.SentTxs))
	}
	if events := sink.Events(); len(events) != 1 || events[0].BlockNumber != 100500 {
		t.Errorf("unexpected published events: %+v", events)
	}
	if len(metrics.cycles) != 1 || metrics.cycles[0] != "submitted" {
		t.Errorf("recorded cycles %v, want [submitted]", metrics.cycles)
	}
	if len(metrics.gaps) != 1 || metrics.gaps[0] != 506 {
		t.Errorf("recorded gaps %v, want [506]", metrics.gaps)
	}
	if len(metrics.submits) != 1 || metrics.submits[0] != 100500 {
		t.Errorf("recorded submissions %v, want [100500]", metrics.submits)
	}
	if !chain.Closed {
		t.Error("chain client must be closed after the cycle")
	}
}

func TestRunCycle_SkipsWhenNotDue(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.Head = 100503
	chain.AddLog(100000, testOracle, updateTopic(t))

	newChain, newSigner := factories(t, chain)
	metrics := &recordingMetrics{}

	service, err := NewUpdaterService(newChain, newSigner, nil, metrics, testUpdaterConfig())
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(chain.SentTxs) != 0 {
		t.Errorf("sent %d transactions, want none", len(chain.SentTxs))
	}
	if len(metrics.cycles) != 1 || metrics.cycles[0] != "skipped:not_due" {
		t.Errorf("recorded cycles %v, want [skipped:not_due]", metrics.cycles)
	}
}

func TestRunCycle_NoCheckpointFound(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.Head = 100506

	newChain, newSigner := factories(t, chain)
	service, err := NewUpdaterService(newChain, newSigner, nil, nil, testUpdaterConfig())
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}

	if err := service.runCycle(context.Background()); err == nil {
		t.Error("expected error when no checkpoint exists")
	}
	if len(chain.SentTxs) != 0 {
		t.Error("no transaction may be sent without a located checkpoint")
	}
}

func TestRunCycle_DialFailure(t *testing.T) {
	newChain := func(ctx context.Context) (outbound.ChainClient, error) {
		return nil, errors.New("connection refused")
	}
	_, newSigner := factories(t, testutil.NewMockChainClient())

	service, err := NewUpdaterService(newChain, newSigner, nil, nil, testUpdaterConfig())
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}
	if err := service.runCycle(context.Background()); err == nil {
		t.Error("expected error when dialing fails")
	}
}

func TestStartStop(t *testing.T) {
	chain := testutil.NewMockChainClient()
	chain.Head = 100506
	chain.AddLog(100000, testOracle, updateTopic(t))
	chain.SetTimestamp(100500, 1_700_042_000)

	newChain, newSigner := factories(t, chain)
	metrics := &recordingMetrics{}

	config := testUpdaterConfig()
	config.CycleInterval = time.Hour // only the immediate first cycle runs

	service, err := NewUpdaterService(newChain, newSigner, nil, metrics, config)
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}

	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("starting service: %v", err)
	}
	if err := service.Start(context.Background()); err == nil {
		t.Error("expected error on double start")
	}

	deadline := time.After(5 * time.Second)
	for {
		metrics.mu.Lock()
		ran := len(metrics.cycles) > 0
		metrics.mu.Unlock()
		if ran {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle did not run")
		case <-time.After(time.Millisecond):
		}
	}

	service.Stop()

	if len(chain.SentTxs) != 1 {
		t.Errorf("sent %d transactions, want 1", len(chain.SentTxs))
	}
}

func TestCycleErrorDoesNotStopLoop(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	newChain := func(ctx context.Context) (outbound.ChainClient, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		return nil, errors.New("connection refused")
	}
	_, newSigner := factories(t, testutil.NewMockChainClient())

	config := testUpdaterConfig()
	config.CycleInterval = 5 * time.Millisecond

	service, err := NewUpdaterService(newChain, newSigner, nil, nil, config)
	if err != nil {
		t.Fatalf("creating service: %v", err)
	}

	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("starting service: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := dials
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("loop stalled after %d failed cycles", n)
		case <-time.After(time.Millisecond):
		}
	}

	service.Stop()
}
