package types

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

const secondsPerDay = 86400

// StakingTierOption is one lock term offered by the staking contract.
type StakingTierOption struct {
	Name       string `json:"name"`
	LockDays   uint64 `json:"lock_days"`
	APYPercent uint64 `json:"apy_percent"`
}

// LockSeconds returns the lock term in seconds.
func (o StakingTierOption) LockSeconds() uint64 {
	return o.LockDays * secondsPerDay
}

// StakingTiers lists the lock terms in contract option order. The option
// value sent to deposit is index+1.
var StakingTiers = []StakingTierOption{
	{Name: "Tier 1", LockDays: 7, APYPercent: 10},
	{Name: "Tier 2", LockDays: 30, APYPercent: 25},
	{Name: "Tier 3", LockDays: 365, APYPercent: 100},
}

// ValidStakingTier reports whether idx indexes StakingTiers.
func ValidStakingTier(idx int) bool {
	return idx >= 0 && idx < len(StakingTiers)
}

// StakingTierForAPY recovers a position's tier index from the APY the
// contract reports for it. Unknown APYs map to the first tier.
func StakingTierForAPY(apy uint64) int {
	for i, t := range StakingTiers {
		if t.APYPercent == apy {
			return i
		}
	}
	return 0
}

// StakedPosition is a read-only projection of one on-chain stake.
type StakedPosition struct {
	Index               int             `json:"index"`
	Amount              *big.Int        `json:"amount"`
	AmountFormatted     decimal.Decimal `json:"amount_formatted"`
	APY                 uint64          `json:"apy"`
	TierIndex           int             `json:"tier_index"`
	Reward              *big.Int        `json:"reward"`
	RewardFormatted     decimal.Decimal `json:"reward_formatted"`
	ElapsedSeconds      uint64          `json:"elapsed_seconds"`
	LockDurationSeconds uint64          `json:"lock_duration_seconds"`
	IsClaimable         bool            `json:"is_claimable"`
}

// PendingKind distinguishes the two awaited transaction steps.
type PendingKind string

const (
	PendingApproval PendingKind = "approval"
	PendingStake    PendingKind = "stake"
)

// PendingTx is the durable marker of a submitted but unconfirmed approval.
type PendingTx struct {
	Kind   PendingKind `json:"kind"`
	TxHash string      `json:"tx_hash"`

	// Amount is the approved amount in base units.
	Amount *big.Int `json:"amount"`

	// StakeAmount is set when the approval should be followed by an
	// automatic deposit.
	StakeAmount    *big.Int  `json:"stake_amount,omitempty"`
	StakeTierIndex int       `json:"stake_tier_index"`
	NextAction     bool      `json:"next_action"`
	CreatedAt      time.Time `json:"created_at"`
}

// StakingDashboard is the aggregate view of one wallet's staking state.
type StakingDashboard struct {
	Balance     BalanceSnapshot  `json:"balance"`
	Allowance   *big.Int         `json:"allowance"`
	Approved    bool             `json:"approved"`
	TotalStaked *big.Int         `json:"total_staked"`
	Positions   []StakedPosition `json:"positions"`
	TotalReward decimal.Decimal  `json:"total_reward"`
	Pending     *PendingTx       `json:"pending,omitempty"`
	InFlight    string           `json:"in_flight,omitempty"`
	Degraded    bool             `json:"degraded,omitempty"`
	RefreshedAt time.Time        `json:"refreshed_at"`
}
