package staking

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

// Refresh re-reads balance, allowance and positions. Failed reads degrade to
// zero values and set Degraded; only a cancelled ctx returns an error.
func (t *Tracker) Refresh(ctx context.Context) (*types.StakingDashboard, error) {
	d := t.refresh(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

func (t *Tracker) refresh(ctx context.Context) *types.StakingDashboard {
	t.mu.Lock()
	owner := t.session.Address
	onChain := t.session.IsConnected && t.session.ChainID == t.cfg.ChainID
	t.mu.Unlock()

	now := time.Now().UTC()
	d := &types.StakingDashboard{RefreshedAt: now}
	decimals := t.tokenDecimals(ctx)

	bal, err := t.reader.TokenBalance(ctx, t.cfg.Token, owner)
	if err != nil {
		t.log.Warn("balance read failed", logging.Err(err))
		bal = new(big.Int)
		d.Degraded = true
	}
	d.Balance = types.BalanceSnapshot{
		Token:     t.cfg.Token,
		Owner:     owner,
		RawAmount: bal,
		Decimals:  decimals,
		FetchedAt: now,
		Degraded:  err != nil,
	}

	// Allowance is only meaningful on the expected chain.
	d.Allowance = new(big.Int)
	allowanceOK := false
	if onChain {
		a, err := t.reader.Allowance(ctx, t.cfg.Token, owner, t.cfg.Staking)
		if err != nil {
			t.log.Warn("allowance read failed", logging.Err(err))
			d.Degraded = true
		} else {
			d.Allowance = a
			allowanceOK = true
		}
	}
	d.Approved = d.Allowance.Sign() > 0

	d.TotalReward = decimal.Zero
	count, err := t.reader.StakedPositionCount(ctx, t.cfg.Staking, owner)
	if err != nil {
		t.log.Warn("position count read failed", logging.Err(err))
		d.Degraded = true
	}
	sum := new(big.Int)
	for i := uint64(0); i < count; i++ {
		p, err := t.reader.StakedPositionDetail(ctx, t.cfg.Staking, owner, i)
		if err != nil {
			t.log.Warn("position read failed", "index", i, logging.Err(err))
			d.Degraded = true
			continue
		}
		tier := types.StakingTierForAPY(p.APY)
		lock := types.StakingTiers[tier].LockSeconds()
		pos := types.StakedPosition{
			Index:               int(i),
			Amount:              p.Amount,
			AmountFormatted:     types.FormatUnits(p.Amount, decimals),
			APY:                 p.APY,
			TierIndex:           tier,
			Reward:              p.Reward,
			RewardFormatted:     types.FormatUnits(p.Reward, decimals),
			ElapsedSeconds:      p.ElapsedSeconds,
			LockDurationSeconds: lock,
			IsClaimable:         p.ElapsedSeconds >= lock,
		}
		d.Positions = append(d.Positions, pos)
		d.TotalReward = d.TotalReward.Add(pos.RewardFormatted)
		sum.Add(sum, p.Amount)
	}

	total, err := t.reader.TotalStaked(ctx, t.cfg.Staking, owner)
	if err != nil {
		t.log.Warn("total staked read failed", logging.Err(err))
		d.Degraded = true
		total = sum
	}
	d.TotalStaked = total

	t.mu.Lock()
	if allowanceOK {
		t.allowance = new(big.Int).Set(d.Allowance)
	}
	t.dashboard = d
	t.mu.Unlock()

	t.publish()
	return t.Dashboard()
}

func (t *Tracker) tokenDecimals(ctx context.Context) uint8 {
	t.mu.Lock()
	if t.decimalsKnown {
		defer t.mu.Unlock()
		return t.decimals
	}
	t.mu.Unlock()

	dec, err := t.reader.TokenDecimals(ctx, t.cfg.Token)
	if err != nil {
		t.log.Warn("decimals read failed, assuming 18", logging.Err(err))
		return defaultDecimals
	}
	t.mu.Lock()
	t.decimals = dec
	t.decimalsKnown = true
	t.mu.Unlock()
	return dec
}

// Dashboard returns the last refreshed snapshot with the current pending
// record and in-flight step, or nil before the first Refresh.
func (t *Tracker) Dashboard() *types.StakingDashboard {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() *types.StakingDashboard {
	if t.dashboard == nil {
		return nil
	}
	d := *t.dashboard
	d.Positions = append([]types.StakedPosition(nil), t.dashboard.Positions...)
	d.InFlight = string(t.busy)
	if t.record != nil {
		rec := *t.record
		d.Pending = &rec
	} else {
		d.Pending = nil
	}
	return &d
}

func (t *Tracker) publish() {
	if t.onUpdate == nil {
		return
	}
	t.mu.Lock()
	d := t.snapshotLocked()
	t.mu.Unlock()
	if d != nil {
		t.onUpdate(*d)
	}
}
