// Package blockchain provides helpers for interacting with the beacon oracle
// contract: event topics, call data packing and read-call decoding.
package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// ZeroRoot is the unset beacon block root. The contract returns it for
// timestamps that have not been recorded.
var ZeroRoot [32]byte

// UpdateEventTopic returns the topic hash of the OracleUpdate event.
func UpdateEventTopic(oracleABI *abi.ABI) (common.Hash, error) {
	event, ok := oracleABI.Events["OracleUpdate"]
	if !ok {
		return common.Hash{}, fmt.Errorf("OracleUpdate event not in ABI")
	}
	return event.ID, nil
}

// FetchBeaconRoot reads the beacon block root recorded for the given
// timestamp at the latest block. A zero root means the timestamp is not yet
// recorded.
func FetchBeaconRoot(
	ctx context.Context,
	client outbound.ChainClient,
	oracleABI *abi.ABI,
	oracle common.Address,
	timestamp *big.Int,
) ([32]byte, error) {
	data, err := oracleABI.Pack("timestampToBeaconRoot", timestamp)
	if err != nil {
		return ZeroRoot, fmt.Errorf("packing timestampToBeaconRoot: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &oracle,
		Data: data,
	}

	result, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return ZeroRoot, fmt.Errorf("calling timestampToBeaconRoot: %w", err)
	}

	unpacked, err := oracleABI.Unpack("timestampToBeaconRoot", result)
	if err != nil {
		return ZeroRoot, fmt.Errorf("unpacking timestampToBeaconRoot: %w", err)
	}
	if len(unpacked) != 1 {
		return ZeroRoot, fmt.Errorf("expected 1 return value, got %d", len(unpacked))
	}

	root, ok := unpacked[0].([32]byte)
	if !ok {
		return ZeroRoot, fmt.Errorf("unexpected return type %T", unpacked[0])
	}
	return root, nil
}

// PackAddTimestamp builds the call data for the addTimestamp write method.
func PackAddTimestamp(oracleABI *abi.ABI, timestamp *big.Int) ([]byte, error) {
	data, err := oracleABI.Pack("addTimestamp", timestamp)
	if err != nil {
		return nil, fmt.Errorf("packing addTimestamp: %w", err)
	}
	return data, nil
}
