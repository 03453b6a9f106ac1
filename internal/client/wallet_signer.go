package client

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/koshercapital/kosher/internal/api"
)

// WalletSigner answers sign-in challenges with a local key. It is meant
// for operators and test wallets; members sign in through their own
// wallet in the browser.
type WalletSigner struct {
	key *ecdsa.PrivateKey
}

// NewWalletSigner wraps an existing key.
func NewWalletSigner(key *ecdsa.PrivateKey) *WalletSigner {
	return &WalletSigner{key: key}
}

// LoadWalletSigner reads a hex-encoded secp256k1 key from path.
func LoadWalletSigner(path string) (*WalletSigner, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet key: %w", err)
	}
	return &WalletSigner{key: key}, nil
}

// Address returns the checksummed wallet address.
func (s *WalletSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignMessage produces an EIP-191 personal_sign signature with V in 27/28.
func (s *WalletSigner) SignMessage(message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// SignIn runs the challenge and verify round trip and leaves the session
// token on c.
func (s *WalletSigner) SignIn(ctx context.Context, c *APIClient, chainID uint64) (*api.SessionResponse, error) {
	addr := s.Address().Hex()
	msg, err := c.Challenge(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("challenge: %w", err)
	}
	sig, err := s.SignMessage(msg)
	if err != nil {
		return nil, err
	}
	return c.Verify(ctx, VerifyRequest{Address: addr, Signature: sig, ChainID: chainID})
}
