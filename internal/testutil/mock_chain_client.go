package testutil

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/beaconops/oracle-updater/internal/domain/entity"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// Compile-time check that MockChainClient implements outbound.ChainClient
var _ outbound.ChainClient = (*MockChainClient)(nil)

// MockChainClient implements outbound.ChainClient for testing. Behavior is
// scripted through exported fields; queries and submissions are recorded.
type MockChainClient struct {
	mu sync.Mutex

	// Head is the block number returned by HeadBlockNumber.
	Head    uint64
	HeadErr error

	// Timestamps maps block number to timestamp. Blocks absent from the
	// map are reported as unavailable via entity.BlockFetchError.
	Timestamps map[uint64]uint64

	// Logs holds all logs the client knows about; FilterLogs applies the
	// query's range, address and topic filters against it.
	Logs      []types.Log
	FilterErr error

	// FilterQueries records every filter query, in order.
	FilterQueries []ethereum.FilterQuery

	// CallFunc, when set, handles CallContract. Otherwise 32 zero bytes
	// are returned.
	CallFunc func(msg ethereum.CallMsg) ([]byte, error)
	CallErr  error
	Calls    []ethereum.CallMsg

	Nonce       uint64
	NonceErr    error
	GasPrice    *big.Int
	GasPriceErr error
	GasLimit    uint64
	EstimateErr error

	// SentTxs records every broadcast transaction.
	SentTxs []*types.Transaction
	SendErr error

	// Receipts maps tx hash to receipt. Missing hashes return
	// ethereum.NotFound, like a pending transaction.
	Receipts   map[common.Hash]*types.Receipt
	ReceiptErr error

	// ConfirmStatus is the receipt status used when SendTransaction
	// auto-confirms a transaction.
	ConfirmStatus uint64

	Closed bool
}

func NewMockChainClient() *MockChainClient {
	return &MockChainClient{
		Timestamps:    make(map[uint64]uint64),
		Receipts:      make(map[common.Hash]*types.Receipt),
		GasPrice:      big.NewInt(2_000_000_000),
		GasLimit:      60_000,
		ConfirmStatus: types.ReceiptStatusSuccessful,
	}
}

// AddLog registers an event log at the given block.
func (m *MockChainClient) AddLog(block uint64, address common.Address, topic common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, types.Log{
		Address:     address,
		Topics:      []common.Hash{topic},
		BlockNumber: block,
	})
}

// SetTimestamp registers a block's timestamp.
func (m *MockChainClient) SetTimestamp(block, timestamp uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timestamps[block] = timestamp
}

// ConfirmTx makes TransactionReceipt return a receipt for the given hash.
func (m *MockChainClient) ConfirmTx(hash common.Hash, status uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Receipts[hash] = &types.Receipt{
		Status: status,
		TxHash: hash,
	}
}

func (m *MockChainClient) HeadBlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HeadErr != nil {
		return 0, m.HeadErr
	}
	return m.Head, nil
}

func (m *MockChainClient) BlockTimestamp(ctx context.Context, number uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	timestamp, ok := m.Timestamps[number]
	if !ok {
		return nil, &entity.BlockFetchError{Block: number, Err: ethereum.NotFound}
	}
	return new(big.Int).SetUint64(timestamp), nil
}

func (m *MockChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilterQueries = append(m.FilterQueries, q)
	if m.FilterErr != nil {
		return nil, m.FilterErr
	}

	var matched []types.Log
	for _, log := range m.Logs {
		if q.FromBlock != nil && log.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && log.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, log.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 {
			if len(log.Topics) == 0 || !containsHash(q.Topics[0], log.Topics[0]) {
				continue
			}
		}
		matched = append(matched, log)
	}

	// Real nodes return logs ascending by block number.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].BlockNumber < matched[j].BlockNumber
	})
	return matched, nil
}

func (m *MockChainClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	callFunc := m.CallFunc
	callErr := m.CallErr
	m.Calls = append(m.Calls, msg)
	m.mu.Unlock()

	if callErr != nil {
		return nil, callErr
	}
	if callFunc != nil {
		return callFunc(msg)
	}
	return make([]byte, 32), nil
}

func (m *MockChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NonceErr != nil {
		return 0, m.NonceErr
	}
	return m.Nonce, nil
}

func (m *MockChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GasPriceErr != nil {
		return nil, m.GasPriceErr
	}
	return new(big.Int).Set(m.GasPrice), nil
}

func (m *MockChainClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EstimateErr != nil {
		return 0, m.EstimateErr
	}
	return m.GasLimit, nil
}

func (m *MockChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentTxs = append(m.SentTxs, tx)
	// Confirm immediately unless the test scripted receipts itself.
	if _, ok := m.Receipts[tx.Hash()]; !ok && m.ReceiptErr == nil {
		m.Receipts[tx.Hash()] = &types.Receipt{
			Status: m.ConfirmStatus,
			TxHash: tx.Hash(),
		}
	}
	return nil
}

func (m *MockChainClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReceiptErr != nil {
		return nil, m.ReceiptErr
	}
	receipt, ok := m.Receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (m *MockChainClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}

func containsAddress(addrs []common.Address, addr common.Address) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func containsHash(hashes []common.Hash, hash common.Hash) bool {
	for _, h := range hashes {
		if h == hash {
			return true
		}
	}
	return false
}
