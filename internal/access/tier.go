package access

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/koshercapital/kosher/pkg/types"
)

// Tier thresholds in whole tokens. No other package may hardcode these;
// use MinBalance instead.
var (
	goldPartnerThreshold = decimal.NewFromInt(1_000_000)
	boardMemberThreshold = decimal.NewFromInt(10_000_000)
)

// ResolveTier maps a formatted token balance to an access tier. The three
// tiers are half-open intervals covering every balance:
// [0, 1M) Holder, [1M, 10M) GoldPartner, [10M, inf) BoardMember.
// Negative balances cannot occur on-chain and resolve to Holder.
func ResolveTier(balance decimal.Decimal) types.AccessTier {
	switch {
	case balance.GreaterThanOrEqual(boardMemberThreshold):
		return types.TierBoardMember
	case balance.GreaterThanOrEqual(goldPartnerThreshold):
		return types.TierGoldPartner
	default:
		return types.TierHolder
	}
}

// ResolveTierFloat is ResolveTier for callers holding a float; NaN and
// infinities other than +Inf resolve to Holder.
func ResolveTierFloat(balance float64) types.AccessTier {
	if math.IsNaN(balance) || math.IsInf(balance, -1) {
		return types.TierHolder
	}
	if math.IsInf(balance, 1) {
		return types.TierBoardMember
	}
	return ResolveTier(decimal.NewFromFloat(balance))
}

// ResolveSnapshot resolves the tier of a balance reading. A nil snapshot
// resolves to Holder.
func ResolveSnapshot(snap *types.BalanceSnapshot) types.AccessTier {
	if snap == nil {
		return types.TierHolder
	}
	return ResolveTier(snap.Formatted())
}

// MinBalance returns the smallest balance that qualifies for tier.
func MinBalance(tier types.AccessTier) decimal.Decimal {
	switch tier {
	case types.TierBoardMember:
		return boardMemberThreshold
	case types.TierGoldPartner:
		return goldPartnerThreshold
	default:
		return decimal.Zero
	}
}
