// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient defines the interface for reading chain state and submitting
// transactions via RPC. One client is dialed per reconciliation cycle; no
// connection survives the scheduler's sleep boundary.
type ChainClient interface {
	// HeadBlockNumber fetches the latest block number.
	HeadBlockNumber(ctx context.Context) (uint64, error)

	// BlockTimestamp fetches the timestamp of the block at the given number.
	// Returns entity.BlockFetchError if the block is not available.
	BlockTimestamp(ctx context.Context, number uint64) (*big.Int, error)

	// FilterLogs queries event logs for the given filter. Results are in
	// ascending block order.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	// CallContract executes a read-only contract call at the given block
	// (nil for latest).
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	// PendingNonceAt fetches the next nonce for the account, including
	// pending transactions.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice fetches the node's suggested gas price.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas needed to execute the call.
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt fetches the receipt of a mined transaction.
	// Returns ethereum.NotFound while the transaction is still pending.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// Close releases the underlying connection.
	Close()
}
