// Package ethrpc implements the ChainClient port on top of go-ethereum's
// ethclient. Every call passes a shared rate limiter and carries a per-call
// deadline; transient RPC failures are retried with exponential backoff.
package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/beaconops/oracle-updater/internal/domain/entity"
	"github.com/beaconops/oracle-updater/internal/pkg/retry"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.ChainClient
var _ outbound.ChainClient = (*Client)(nil)

// Config holds configuration for the RPC client.
type Config struct {
	// Endpoint is the HTTP(S) URL of the provider.
	Endpoint string

	// RequestsPerSecond caps the outgoing RPC request rate.
	RequestsPerSecond float64

	// Burst is the rate limiter's burst size.
	Burst int

	// CallTimeout is the per-call deadline applied to every RPC request.
	CallTimeout time.Duration

	// Retry configures backoff for transient failures.
	Retry retry.Config

	// Logger is the structured logger for the client.
	Logger *slog.Logger
}

// ConfigDefaults returns sensible defaults for the RPC client.
func ConfigDefaults() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             5,
		CallTimeout:       30 * time.Second,
		Retry:             retry.DefaultConfig(),
	}
}

// Client is an ethclient-backed implementation of the ChainClient port.
type Client struct {
	eth     *ethclient.Client
	limiter *rate.Limiter
	config  Config
	logger  *slog.Logger
}

// Dial connects to the configured endpoint.
func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	defaults := ConfigDefaults()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	eth, err := ethclient.DialContext(ctx, config.Endpoint)
	if err != nil {
		return nil, &entity.ProviderError{Op: "dial", Err: err}
	}

	return &Client{
		eth:     eth,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		config:  config,
		logger:  config.Logger.With("component", "ethrpc"),
	}, nil
}

// isRetryable treats every RPC failure as transient except explicit
// not-found responses and caller cancellation.
func isRetryable(err error) bool {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// call runs one rate-limited, deadline-bounded RPC request with retries.
func call[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("retrying RPC call",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
	}

	return retry.Do(ctx, c.config.Retry, isRetryable, onRetry, func() (T, error) {
		var zero T
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

func (c *Client) HeadBlockNumber(ctx context.Context) (uint64, error) {
	head, err := call(ctx, c, "eth_blockNumber", func(ctx context.Context) (uint64, error) {
		return c.eth.BlockNumber(ctx)
	})
	if err != nil {
		return 0, &entity.ProviderError{Op: "eth_blockNumber", Err: err}
	}
	return head, nil
}

func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (*big.Int, error) {
	header, err := call(ctx, c, "eth_getHeaderByNumber", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, &entity.BlockFetchError{Block: number, Err: err}
		}
		return nil, &entity.ProviderError{Op: "eth_getHeaderByNumber", Err: err}
	}
	return new(big.Int).SetUint64(header.Time), nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := call(ctx, c, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.eth.FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, &entity.ProviderError{Op: "eth_getLogs", Err: err}
	}
	return logs, nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	result, err := call(ctx, c, "eth_call", func(ctx context.Context) ([]byte, error) {
		return c.eth.CallContract(ctx, msg, blockNumber)
	})
	if err != nil {
		return nil, &entity.ProviderError{Op: "eth_call", Err: err}
	}
	return result, nil
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := call(ctx, c, "eth_getTransactionCount", func(ctx context.Context) (uint64, error) {
		return c.eth.PendingNonceAt(ctx, account)
	})
	if err != nil {
		return 0, &entity.ProviderError{Op: "eth_getTransactionCount", Err: err}
	}
	return nonce, nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := call(ctx, c, "eth_gasPrice", func(ctx context.Context) (*big.Int, error) {
		return c.eth.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, &entity.ProviderError{Op: "eth_gasPrice", Err: err}
	}
	return price, nil
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := call(ctx, c, "eth_estimateGas", func(ctx context.Context) (uint64, error) {
		return c.eth.EstimateGas(ctx, msg)
	})
	if err != nil {
		return 0, &entity.ProviderError{Op: "eth_estimateGas", Err: err}
	}
	return gas, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	// Re-broadcasting the same signed transaction is safe: the hash is
	// identical, so a duplicate send is rejected as already-known.
	_, err := call(ctx, c, "eth_sendRawTransaction", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.eth.SendTransaction(ctx, tx)
	})
	if err != nil {
		return &entity.ProviderError{Op: "eth_sendRawTransaction", Err: err}
	}
	return nil
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := call(ctx, c, "eth_getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		return c.eth.TransactionReceipt(ctx, txHash)
	})
	if err != nil {
		// NotFound means still pending; callers poll on it.
		if errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		return nil, &entity.ProviderError{Op: "eth_getTransactionReceipt", Err: err}
	}
	return receipt, nil
}

func (c *Client) Close() {
	c.eth.Close()
}
