package testutil

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// Compile-time check that LocalSigner implements outbound.TransactionSigner
var _ outbound.TransactionSigner = (*LocalSigner)(nil)

// LocalSigner signs transactions with an in-process secp256k1 key. It stands
// in for the remote custody signer in tests and proves the signer port is
// backend-interchangeable.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address

	// Err, when set, is returned by SignTransaction.
	Err error
}

func NewLocalSigner() (*LocalSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTransaction(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
