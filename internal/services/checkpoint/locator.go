// Package checkpoint locates the oracle's most recent checkpoint on chain.
//
// The oracle contract emits an OracleUpdate event each time a timestamp is
// recorded. The Locator scans backward from the chain head in fixed-size
// block windows until it finds the most recent such event, bounded by a
// maximum search distance.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/beaconops/oracle-updater/internal/domain/entity"
	"github.com/beaconops/oracle-updater/internal/pkg/blockchain"
	"github.com/beaconops/oracle-updater/internal/pkg/blockchain/abis"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// Config holds configuration for the checkpoint locator.
type Config struct {
	// WindowSize is the number of blocks covered by one log query.
	WindowSize uint64

	// MaxDistance is how far back from the head the search may go,
	// in blocks.
	MaxDistance uint64

	// Logger is the structured logger for the locator.
	Logger *slog.Logger
}

// ConfigDefaults returns a Config with default values. The defaults cover
// roughly one day of mainnet blocks in 500-block queries.
func ConfigDefaults() Config {
	return Config{
		WindowSize:  500,
		MaxDistance: 7200,
	}
}

// Locator finds the block of the most recent oracle update event.
type Locator struct {
	chain      outbound.ChainClient
	oracle     common.Address
	eventTopic common.Hash
	config     Config
	logger     *slog.Logger
}

// NewLocator creates a new checkpoint locator for the given oracle address.
func NewLocator(chain outbound.ChainClient, oracle common.Address, config Config) (*Locator, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain client is required")
	}

	defaults := ConfigDefaults()
	if config.WindowSize == 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.MaxDistance == 0 {
		config.MaxDistance = defaults.MaxDistance
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	oracleABI, err := abis.GetBeaconOracleABI()
	if err != nil {
		return nil, fmt.Errorf("loading oracle ABI: %w", err)
	}
	topic, err := blockchain.UpdateEventTopic(oracleABI)
	if err != nil {
		return nil, err
	}

	return &Locator{
		chain:      chain,
		oracle:     oracle,
		eventTopic: topic,
		config:     config,
		logger:     config.Logger.With("component", "checkpoint-locator"),
	}, nil
}

// Locate scans backward from head for the most recent oracle update event
// and returns its block number. The search walks disjoint windows of
// WindowSize blocks, newest first, down to head-MaxDistance (clamped to
// genesis). If no event exists in that range it returns
// entity.ErrCheckpointNotFound.
func (l *Locator) Locate(ctx context.Context, head uint64) (uint64, error) {
	horizon := uint64(0)
	if head > l.config.MaxDistance {
		horizon = head - l.config.MaxDistance
	}

	to := head
	for {
		from := horizon
		if to >= horizon+l.config.WindowSize {
			from = to - l.config.WindowSize + 1
		}

		logs, err := l.chain.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{l.oracle},
			Topics:    [][]common.Hash{{l.eventTopic}},
		})
		if err != nil {
			return 0, fmt.Errorf("scanning blocks %d-%d for oracle updates: %w", from, to, err)
		}

		if len(logs) > 0 {
			// Logs arrive in ascending block order; the last one is
			// the most recent checkpoint.
			found := logs[len(logs)-1].BlockNumber
			l.logger.Debug("located checkpoint",
				"block", found,
				"window_from", from,
				"window_to", to)
			return found, nil
		}

		if from <= horizon {
			break
		}
		to = from - 1
	}

	l.logger.Warn("no oracle update found within search range",
		"head", head,
		"horizon", horizon)
	return 0, entity.ErrCheckpointNotFound
}
