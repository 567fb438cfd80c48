// Package application wires the checkpoint locator and reconciliation engine
// into the long-running updater service.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/beaconops/oracle-updater/internal/domain/entity"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
	"github.com/beaconops/oracle-updater/internal/services/checkpoint"
	"github.com/beaconops/oracle-updater/internal/services/reconciler"
)

// ChainClientFactory dials a fresh chain client. The service calls it at the
// start of every cycle so no RPC binding survives the sleep boundary.
type ChainClientFactory func(ctx context.Context) (outbound.ChainClient, error)

// SignerFactory constructs a fresh transaction signer for one cycle.
type SignerFactory func(ctx context.Context) (outbound.TransactionSigner, error)

// UpdaterConfig holds configuration for the updater service.
type UpdaterConfig struct {
	// OracleAddress is the beacon oracle contract address.
	OracleAddress common.Address

	// CycleInterval is the pause between reconciliation cycles.
	CycleInterval time.Duration

	// Locator configures the checkpoint search.
	Locator checkpoint.Config

	// Reconciler configures the reconciliation engine.
	Reconciler reconciler.Config

	// Logger is the structured logger for the service.
	Logger *slog.Logger
}

// UpdaterConfigDefaults returns an UpdaterConfig with default values.
func UpdaterConfigDefaults() UpdaterConfig {
	return UpdaterConfig{
		CycleInterval: 60 * time.Second,
		Locator:       checkpoint.ConfigDefaults(),
		Reconciler:    reconciler.ConfigDefaults(),
	}
}

// UpdaterService periodically reconciles the oracle contract with the chain.
// Each cycle is independent: fresh clients, fresh head, fresh checkpoint
// search. Cycle failures are logged and never stop the loop.
type UpdaterService struct {
	newChain  ChainClientFactory
	newSigner SignerFactory
	sink      outbound.EventSink
	metrics   outbound.MetricsRecorder
	config    UpdaterConfig
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewUpdaterService creates a new updater service. The sink may be nil.
func NewUpdaterService(
	newChain ChainClientFactory,
	newSigner SignerFactory,
	sink outbound.EventSink,
	metrics outbound.MetricsRecorder,
	config UpdaterConfig,
) (*UpdaterService, error) {
	if newChain == nil {
		return nil, fmt.Errorf("chain client factory is required")
	}
	if newSigner == nil {
		return nil, fmt.Errorf("signer factory is required")
	}
	if config.Reconciler.BlockInterval == 0 {
		return nil, fmt.Errorf("block interval must be positive")
	}
	if config.Reconciler.ChainID == nil || config.Reconciler.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain ID must be positive")
	}
	if config.CycleInterval == 0 {
		config.CycleInterval = UpdaterConfigDefaults().CycleInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if metrics == nil {
		metrics = outbound.NopMetricsRecorder{}
	}

	return &UpdaterService{
		newChain:  newChain,
		newSigner: newSigner,
		sink:      sink,
		metrics:   metrics,
		config:    config,
		logger:    config.Logger.With("component", "updater"),
	}, nil
}

// Start begins the cycle loop. The first cycle runs immediately.
func (s *UpdaterService) Start(ctx context.Context) error {
	if s.done != nil {
		return fmt.Errorf("updater already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info("starting updater",
		"oracle", s.config.OracleAddress.Hex(),
		"cycleInterval", s.config.CycleInterval,
		"blockInterval", s.config.Reconciler.BlockInterval)

	go s.runLoop(ctx)
	return nil
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (s *UpdaterService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("updater stopped")
}

func (s *UpdaterService) runLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.CycleInterval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs one reconciliation pass and contains its failures.
func (s *UpdaterService) cycle(ctx context.Context) {
	if err := s.runCycle(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.RecordCycle(ctx, "error")
		s.logger.Error("cycle failed",
			"transient", entity.IsTransient(err),
			"error", err)
	}
}

// runCycle dials fresh clients, locates the checkpoint and reconciles once.
func (s *UpdaterService) runCycle(ctx context.Context) error {
	chain, err := s.newChain(ctx)
	if err != nil {
		return fmt.Errorf("dialing chain client: %w", err)
	}
	defer chain.Close()

	signer, err := s.newSigner(ctx)
	if err != nil {
		return fmt.Errorf("constructing signer: %w", err)
	}

	head, err := chain.HeadBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetching head block: %w", err)
	}

	locator, err := checkpoint.NewLocator(chain, s.config.OracleAddress, s.config.Locator)
	if err != nil {
		return fmt.Errorf("constructing locator: %w", err)
	}
	cp, err := locator.Locate(ctx, head)
	if err != nil {
		return fmt.Errorf("locating checkpoint at head %d: %w", head, err)
	}

	engine, err := reconciler.NewService(chain, signer, s.config.OracleAddress, s.sink, s.metrics, s.config.Reconciler)
	if err != nil {
		return fmt.Errorf("constructing reconciler: %w", err)
	}
	outcome, err := engine.Reconcile(ctx, cp, head)
	if err != nil {
		return fmt.Errorf("reconciling checkpoint %d against head %d: %w", cp, head, err)
	}

	gap := head - cp
	s.logger.Info("cycle complete",
		"checkpoint", cp,
		"head", head,
		"gap", gap,
		"outcome", outcome.String())
	s.metrics.RecordCycle(ctx, outcome.String())
	s.metrics.RecordCheckpointGap(ctx, int64(gap))
	return nil
}
