package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionSigner is the opaque signing capability. Implementations may
// hold the key locally or delegate to a remote custody service; the
// reconciliation logic never sees key material either way.
type TransactionSigner interface {
	// Address returns the account the signer signs for.
	Address() common.Address

	// SignTransaction signs tx for the given chain id and returns the
	// signed transaction. The input transaction is not modified.
	SignTransaction(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}
