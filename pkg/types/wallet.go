package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// WalletSession is the connection state reported by the wallet provider.
type WalletSession struct {
	Address     common.Address `json:"address"`
	IsConnected bool           `json:"is_connected"`
	ChainID     uint64         `json:"chain_id"`
}

// Key returns the lowercase hex address used for per-wallet namespacing.
func (w WalletSession) Key() string {
	return WalletKey(w.Address)
}

// WalletKey normalizes an address for use as a map or storage key.
func WalletKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// BalanceSnapshot is one ERC20 balance reading.
type BalanceSnapshot struct {
	Token     common.Address `json:"token"`
	Owner     common.Address `json:"owner"`
	RawAmount *big.Int       `json:"raw_amount"`
	Decimals  uint8          `json:"decimals"`
	FetchedAt time.Time      `json:"fetched_at"`

	// Degraded is set when the read failed and RawAmount was defaulted to zero.
	Degraded bool `json:"degraded,omitempty"`
}

// Formatted returns RawAmount / 10^Decimals.
func (b BalanceSnapshot) Formatted() decimal.Decimal {
	return FormatUnits(b.RawAmount, b.Decimals)
}

// FormatUnits converts a base-unit integer into a decimal token amount.
// A nil amount formats as zero.
func FormatUnits(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// ParseUnits converts a decimal token amount into base units, truncating
// any precision beyond decimals.
func ParseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}
