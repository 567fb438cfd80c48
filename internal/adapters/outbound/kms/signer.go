// Package kms implements the TransactionSigner port using an AWS KMS
// asymmetric secp256k1 key. The private key never leaves KMS: the signer
// resolves the signing address from the key's public half, submits the
// transaction digest for signing, and reassembles an Ethereum-compatible
// 65-byte signature from the DER response.
package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// kmsAPI defines the subset of KMS operations needed by the Signer.
type kmsAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// Compile-time check that Signer implements outbound.TransactionSigner
var _ outbound.TransactionSigner = (*Signer)(nil)

// Config holds configuration for the KMS signer.
type Config struct {
	// KeyID identifies the KMS key (key id, alias or ARN).
	KeyID string

	// Logger is the structured logger for the signer.
	Logger *slog.Logger
}

// Signer signs transactions with a KMS-held secp256k1 key.
type Signer struct {
	client  kmsAPI
	keyID   string
	pubKey  *ecdsa.PublicKey
	address common.Address
	logger  *slog.Logger
}

// NewSigner creates a Signer from an AWS config. The key's public half is
// fetched once at construction to derive the signing address.
func NewSigner(ctx context.Context, awsConfig aws.Config, config Config) (*Signer, error) {
	return NewSignerWithClient(ctx, kms.NewFromConfig(awsConfig), config)
}

// NewSignerWithClient creates a Signer with an explicit KMS client.
func NewSignerWithClient(ctx context.Context, client kmsAPI, config Config) (*Signer, error) {
	if client == nil {
		return nil, fmt.Errorf("kms client is required")
	}
	if config.KeyID == "" {
		return nil, fmt.Errorf("key ID is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(config.KeyID),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching public key: %w", err)
	}

	pubKey, err := parseSPKIPublicKey(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	signer := &Signer{
		client:  client,
		keyID:   config.KeyID,
		pubKey:  pubKey,
		address: crypto.PubkeyToAddress(*pubKey),
		logger:  config.Logger.With("component", "kms-signer"),
	}

	signer.logger.Info("kms signer initialized", "address", signer.address.Hex())
	return signer, nil
}

// Address returns the Ethereum address derived from the KMS key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTransaction signs tx for the given chain id.
func (s *Signer) SignTransaction(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}

	txSigner := types.LatestSignerForChainID(chainID)
	digest := txSigner.Hash(tx).Bytes()

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest,
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, fmt.Errorf("kms sign: %w", err)
	}

	r, sigS, err := parseDERSignature(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("parsing signature: %w", err)
	}

	sig, err := s.recoverableSignature(digest, r, normalizeS(sigS))
	if err != nil {
		return nil, err
	}

	return tx.WithSignature(txSigner, sig)
}

// parseSPKIPublicKey decodes a DER-encoded SubjectPublicKeyInfo structure
// into a secp256k1 public key.
func parseSPKIPublicKey(der []byte) (*ecdsa.PublicKey, error) {
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("decoding SPKI: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(spki.PublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling point: %w", err)
	}
	return pubKey, nil
}

// parseDERSignature decodes a DER-encoded ECDSA signature into r and s.
func parseDERSignature(der []byte) (*big.Int, *big.Int, error) {
	var sig struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, nil, fmt.Errorf("decoding DER: %w", err)
	}
	return sig.R, sig.S, nil
}

// normalizeS maps s into the lower half of the curve order. KMS may return
// either representation; Ethereum only accepts the lower one (EIP-2).
func normalizeS(s *big.Int) *big.Int {
	curveN := crypto.S256().Params().N
	halfN := new(big.Int).Rsh(curveN, 1)
	if s.Cmp(halfN) > 0 {
		return new(big.Int).Sub(curveN, s)
	}
	return s
}

// recoverableSignature assembles the 65-byte [R || S || V] signature,
// finding the recovery id by checking which candidate recovers the known
// public key.
func (s *Signer) recoverableSignature(digest []byte, r, sigS *big.Int) ([]byte, error) {
	expected := crypto.FromECDSAPub(s.pubKey)

	sig := make([]byte, 65)
	r.FillBytes(sig[0:32])
	sigS.FillBytes(sig[32:64])

	for _, v := range []byte{0, 1} {
		sig[64] = v
		recovered, err := crypto.Ecrecover(digest, sig)
		if err != nil {
			continue
		}
		if string(recovered) == string(expected) {
			return sig, nil
		}
	}

	return nil, fmt.Errorf("no recovery id matches the kms public key")
}
