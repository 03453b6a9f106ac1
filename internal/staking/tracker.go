// Package staking tracks the approve, poll, stake and unstake lifecycle of
// one wallet against the staking contract.
package staking

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/internal/chain"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/util"
	"github.com/koshercapital/kosher/pkg/types"
)

// ErrClosed is returned by a Tracker after Close.
var ErrClosed = errors.New("staking tracker closed")

const defaultDecimals = 18

// Config holds contract addresses and lifecycle timings.
type Config struct {
	Token   common.Address
	Staking common.Address
	ChainID uint64

	PollInterval   time.Duration // between allowance polls, first poll is immediate
	AutoStakeDelay time.Duration // after approval confirms, before the automatic deposit
	SettleDelay    time.Duration // after a successful write, before storage is cleared

	// MaxPollAttempts stops polling after that many reads. Zero polls until
	// the allowance shows up or the tracker is stopped.
	MaxPollAttempts int
}

func DefaultConfig() Config {
	return Config{
		ChainID:        8453,
		PollInterval:   3 * time.Second,
		AutoStakeDelay: 6 * time.Second,
		SettleDelay:    2 * time.Second,
	}
}

// Observer receives lifecycle counters. metrics.Collector satisfies it.
type Observer interface {
	ApprovalPoll(result string)
	Transaction(kind, result string)
}

type nopObserver struct{}

func (nopObserver) ApprovalPoll(string)        {}
func (nopObserver) Transaction(string, string) {}

type busyState string

const (
	idle             busyState = ""
	busyApprovalPoll busyState = "approval_poll"
	busyStake        busyState = "stake"
	busyUnstake      busyState = "unstake"
)

// ApprovalRequest describes an approve call. A nil Amount approves the full
// token balance. With StakeAfter set, Amount is deposited into TierIndex
// once the allowance is observed.
type ApprovalRequest struct {
	Amount     *big.Int
	StakeAfter bool
	TierIndex  int
}

type Option func(*Tracker)

func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithUpdateFunc registers a callback invoked with every new dashboard.
func WithUpdateFunc(fn func(types.StakingDashboard)) Option {
	return func(t *Tracker) { t.onUpdate = fn }
}

// Tracker owns the pending-transaction record of a single wallet. At most
// one of approval polling, stake or unstake runs at a time; a second attempt
// fails with types.ErrBusy.
type Tracker struct {
	cfg      Config
	wallet   string
	reader   chain.Reader
	writer   chain.Writer
	pending  *PendingStore
	observer Observer
	onUpdate func(types.StakingDashboard)
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	session       types.WalletSession
	busy          busyState
	busyToken     uint64
	stopPoll      context.CancelFunc
	stakeDelayed  bool
	record        *types.PendingTx
	allowance     *big.Int
	decimals      uint8
	decimalsKnown bool
	dashboard     *types.StakingDashboard
	closed        bool
}

func NewTracker(cfg Config, session types.WalletSession, reader chain.Reader, writer chain.Writer, pending *PendingStore, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:      cfg,
		wallet:   session.Key(),
		reader:   reader,
		writer:   writer,
		pending:  pending,
		observer: nopObserver{},
		ctx:      ctx,
		cancel:   cancel,
		session:  session,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logging.With(logging.Component("staking"), logging.Wallet(t.wallet))
	return t
}

// SetSession updates connection state and chain for the tracked address.
func (t *Tracker) SetSession(s types.WalletSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.IsConnected = s.IsConnected
	t.session.ChainID = s.ChainID
}

func (t *Tracker) owner() common.Address {
	return t.session.Address
}

// Busy reports the in-flight step, or "" when idle.
func (t *Tracker) Busy() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.busy)
}

func (t *Tracker) writableLocked() error {
	if !t.session.IsConnected {
		return types.ErrNotConnected
	}
	if t.session.ChainID != t.cfg.ChainID {
		return &types.ChainMismatchError{Expected: t.cfg.ChainID, Actual: t.session.ChainID}
	}
	return nil
}

// acquire claims the busy slot for a wallet write. The returned token must
// be passed to release; a stale token is ignored.
func (t *Tracker) acquire(kind busyState) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	if t.busy != idle {
		return 0, types.ErrBusy
	}
	if err := t.writableLocked(); err != nil {
		return 0, err
	}
	t.busyToken++
	t.busy = kind
	return t.busyToken, nil
}

func (t *Tracker) release(tok uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(tok)
}

func (t *Tracker) releaseLocked(tok uint64) {
	if t.busyToken == tok {
		t.busy = idle
		t.stakeDelayed = false
	}
}

// SubmitApproval sends approve(staking, amount) and starts polling the
// allowance. Nothing is persisted when the wallet call fails.
func (t *Tracker) SubmitApproval(ctx context.Context, req ApprovalRequest) (common.Hash, error) {
	if req.Amount != nil && req.Amount.Sign() <= 0 {
		return common.Hash{}, &types.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if req.StakeAfter {
		if req.Amount == nil {
			return common.Hash{}, &types.ValidationError{Field: "amount", Reason: "required when staking after approval"}
		}
		if !types.ValidStakingTier(req.TierIndex) {
			return common.Hash{}, &types.ValidationError{Field: "tier", Reason: "unknown staking tier"}
		}
	}

	tok, err := t.acquire(busyApprovalPoll)
	if err != nil {
		return common.Hash{}, err
	}

	existing, err := t.pending.Load(ctx, t.wallet)
	if err != nil {
		t.log.Warn("ignoring unreadable pending record", logging.Err(err))
	} else if existing != nil && existing.Kind == types.PendingApproval {
		t.release(tok)
		return common.Hash{}, types.ErrApprovalPending
	}

	amount := req.Amount
	if amount == nil {
		bal, err := t.reader.TokenBalance(ctx, t.cfg.Token, t.owner())
		if err != nil {
			t.release(tok)
			return common.Hash{}, err
		}
		if bal.Sign() == 0 {
			t.release(tok)
			return common.Hash{}, &types.ValidationError{Field: "amount", Reason: "token balance is zero"}
		}
		amount = bal
	}

	hash, err := t.writer.Approve(context.WithoutCancel(ctx), t.owner(), t.cfg.Token, t.cfg.Staking, amount)
	if err != nil {
		t.release(tok)
		t.recordTx("approval", "approval_submitted", "", err)
		return common.Hash{}, err
	}
	t.recordTx("approval", "approval_submitted", hash.Hex(), nil)

	rec := &types.PendingTx{
		Kind:       types.PendingApproval,
		TxHash:     hash.Hex(),
		Amount:     new(big.Int).Set(amount),
		NextAction: req.StakeAfter,
		CreatedAt:  time.Now().UTC(),
	}
	if req.StakeAfter {
		rec.StakeAmount = new(big.Int).Set(req.Amount)
		rec.StakeTierIndex = req.TierIndex
	}
	if err := t.pending.SaveApproval(t.ctx, t.wallet, rec); err != nil {
		// The approval is already signed; keep polling from memory.
		t.log.Error("persist pending approval", logging.TxHash(rec.TxHash), logging.Err(err))
	}

	t.mu.Lock()
	if t.busyToken == tok && !t.closed {
		t.startPollLocked(tok, rec)
	}
	t.mu.Unlock()
	t.publish()
	return hash, nil
}

func (t *Tracker) startPollLocked(tok uint64, rec *types.PendingTx) {
	ctx, cancel := context.WithCancel(t.ctx)
	t.stopPoll = cancel
	t.record = rec
	t.wg.Add(1)
	util.SafeGoWithName("approval-poll", func() {
		defer t.wg.Done()
		t.pollApproval(ctx, tok, rec)
	})
}

func (t *Tracker) pollApproval(ctx context.Context, tok uint64, rec *types.PendingTx) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		allowance, err := t.reader.Allowance(ctx, t.cfg.Token, t.owner(), t.cfg.Staking)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			t.observer.ApprovalPoll("error")
			t.log.Warn("allowance poll failed", logging.TxHash(rec.TxHash), logging.Err(err))
		case allowance.Sign() > 0:
			t.observer.ApprovalPoll("confirmed")
			t.approvalConfirmed(ctx, tok, rec, allowance)
			return
		default:
			t.observer.ApprovalPoll("pending")
		}

		if t.cfg.MaxPollAttempts > 0 && attempt >= t.cfg.MaxPollAttempts {
			t.observer.ApprovalPoll("abandoned")
			t.log.Warn("approval polling stopped, record kept", "attempts", attempt, logging.TxHash(rec.TxHash))
			t.mu.Lock()
			t.releaseLocked(tok)
			t.mu.Unlock()
			t.publish()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// approvalConfirmed runs once per poll. It hands the busy slot straight to
// the stake step so nothing can interleave.
func (t *Tracker) approvalConfirmed(ctx context.Context, tok uint64, rec *types.PendingTx, allowance *big.Int) {
	autoStake := rec.NextAction && rec.StakeAmount != nil && rec.StakeAmount.Sign() > 0

	t.mu.Lock()
	if ctx.Err() != nil || t.busyToken != tok {
		t.mu.Unlock()
		return
	}
	t.allowance = new(big.Int).Set(allowance)
	if autoStake {
		next := *rec
		next.Kind = types.PendingStake
		next.TxHash = ""
		t.record = &next
		t.busy = busyStake
		t.stakeDelayed = true
	} else {
		t.record = nil
		t.releaseLocked(tok)
	}
	t.mu.Unlock()

	logging.Audit(logging.AuditEvent{
		Operation: "approval_confirmed",
		Actor:     t.wallet,
		Target:    t.cfg.Staking.Hex(),
		Result:    "success",
		Details:   rec.TxHash,
	})

	if !autoStake {
		if err := t.pending.Clear(t.ctx, t.wallet); err != nil {
			t.log.Error("clear pending approval", logging.Err(err))
		}
		t.refresh(t.ctx)
		return
	}
	if err := t.pending.MarkApproved(t.ctx, t.wallet); err != nil {
		t.log.Error("mark approval confirmed", logging.Err(err))
	}
	t.publish()
	t.autoStake(ctx, tok, rec.StakeAmount, rec.StakeTierIndex)
}

// autoStake waits out the settle delay and deposits exactly once. The
// caller holds the busy slot under tok.
func (t *Tracker) autoStake(ctx context.Context, tok uint64, amount *big.Int, tierIndex int) {
	timer := time.NewTimer(t.cfg.AutoStakeDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		t.release(tok)
		return
	case <-timer.C:
	}

	t.mu.Lock()
	if ctx.Err() != nil || t.busyToken != tok {
		t.mu.Unlock()
		return
	}
	if err := t.writableLocked(); err != nil {
		t.releaseLocked(tok)
		t.mu.Unlock()
		t.log.Warn("automatic stake skipped", logging.Err(err))
		t.publish()
		return
	}
	t.stakeDelayed = false
	t.mu.Unlock()

	if _, err := t.deposit(ctx, tok, amount, tierIndex, true); err != nil {
		t.log.Error("automatic stake failed, amount kept for a manual stake", logging.Err(err))
	}
}

// SubmitStake deposits amount into the tier at tierIndex. The amount must
// not exceed the approved allowance.
func (t *Tracker) SubmitStake(ctx context.Context, amount *big.Int, tierIndex int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, &types.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !types.ValidStakingTier(tierIndex) {
		return common.Hash{}, &types.ValidationError{Field: "tier", Reason: "unknown staking tier"}
	}

	tok, err := t.acquire(busyStake)
	if err != nil {
		return common.Hash{}, err
	}

	t.mu.Lock()
	allowance := t.allowance
	t.mu.Unlock()
	if allowance == nil {
		allowance, err = t.reader.Allowance(ctx, t.cfg.Token, t.owner(), t.cfg.Staking)
		if err != nil {
			t.release(tok)
			return common.Hash{}, err
		}
		t.mu.Lock()
		t.allowance = allowance
		t.mu.Unlock()
	}
	if amount.Cmp(allowance) > 0 {
		t.release(tok)
		return common.Hash{}, &types.ValidationError{Field: "amount", Reason: "exceeds approved allowance"}
	}

	return t.deposit(ctx, tok, amount, tierIndex, false)
}

// deposit submits the stake. A failed automatic deposit turns the durable
// next-action flag off before the slot is released, so a later Resume keeps
// the amount for a manual stake instead of sending it again.
func (t *Tracker) deposit(ctx context.Context, tok uint64, amount *big.Int, tierIndex int, auto bool) (common.Hash, error) {
	hash, err := t.writer.Deposit(context.WithoutCancel(ctx), t.owner(), t.cfg.Staking, amount, uint64(tierIndex+1))
	if err != nil {
		if auto {
			t.dropNextAction(context.WithoutCancel(ctx))
		}
		t.release(tok)
		t.recordTx("stake", "stake_submitted", "", err)
		t.publish()
		return common.Hash{}, err
	}
	t.recordTx("stake", "stake_submitted", hash.Hex(), nil)
	t.settle(tok, true)
	return hash, nil
}

func (t *Tracker) dropNextAction(ctx context.Context) {
	if err := t.pending.ClearNextAction(ctx, t.wallet); err != nil {
		t.log.Error("clear pending next action", logging.Err(err))
	}
	t.mu.Lock()
	if t.record != nil {
		rec := *t.record
		rec.NextAction = false
		t.record = &rec
	}
	t.mu.Unlock()
}

// SubmitUnstake withdraws the position at index.
func (t *Tracker) SubmitUnstake(ctx context.Context, index uint64) (common.Hash, error) {
	t.mu.Lock()
	if d := t.dashboard; d != nil && !d.Degraded {
		if index >= uint64(len(d.Positions)) {
			t.mu.Unlock()
			return common.Hash{}, &types.ValidationError{Field: "index", Reason: "no such position"}
		}
		if !d.Positions[index].IsClaimable {
			t.mu.Unlock()
			return common.Hash{}, &types.ValidationError{Field: "index", Reason: "position is still locked"}
		}
	}
	t.mu.Unlock()

	tok, err := t.acquire(busyUnstake)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := t.writer.Withdraw(context.WithoutCancel(ctx), t.owner(), t.cfg.Staking, index)
	if err != nil {
		t.release(tok)
		t.recordTx("unstake", "unstake_submitted", "", err)
		return common.Hash{}, err
	}
	t.recordTx("unstake", "unstake_submitted", hash.Hex(), nil)
	t.settle(tok, false)
	return hash, nil
}

// settle waits SettleDelay, optionally clears the durable record, refreshes
// and then frees the busy slot. A successful deposit always clears the
// record, even when the tracker is stopping.
func (t *Tracker) settle(tok uint64, clearPending bool) {
	t.wg.Add(1)
	util.SafeGoWithName("staking-settle", func() {
		defer t.wg.Done()
		defer t.release(tok)

		timer := time.NewTimer(t.cfg.SettleDelay)
		defer timer.Stop()
		select {
		case <-t.ctx.Done():
		case <-timer.C:
		}

		if clearPending {
			if err := t.pending.Clear(context.WithoutCancel(t.ctx), t.wallet); err != nil {
				t.log.Error("clear pending after stake", logging.Err(err))
			}
			t.mu.Lock()
			t.record = nil
			t.mu.Unlock()
		}
		if t.ctx.Err() == nil {
			t.refresh(t.ctx)
		}
	})
}

func (t *Tracker) recordTx(kind, op, hash string, err error) {
	result := "success"
	switch {
	case err == nil:
	case types.IsWalletRejected(err):
		result = "rejected"
	default:
		result = "failure"
	}
	t.observer.Transaction(kind, result)

	details := hash
	if err != nil {
		details = err.Error()
	}
	logging.Audit(logging.AuditEvent{
		Operation: op,
		Actor:     t.wallet,
		Target:    t.cfg.Staking.Hex(),
		Result:    result,
		Details:   details,
	})
}

// Resume restarts work recorded before a restart or disconnect: polling for
// a pending approval, or the automatic stake that follows a confirmed one.
// It is a no-op while another step is in flight.
func (t *Tracker) Resume(ctx context.Context) error {
	rec, err := t.pending.Load(ctx, t.wallet)
	if err != nil {
		if types.IsSchemaError(err) {
			t.log.Warn("discarding malformed pending record", logging.Err(err))
			return t.pending.Clear(ctx, t.wallet)
		}
		return err
	}
	if rec == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.busy != idle {
		return nil
	}

	switch rec.Kind {
	case types.PendingApproval:
		t.busyToken++
		t.busy = busyApprovalPoll
		t.log.Info("resuming approval polling", logging.TxHash(rec.TxHash))
		t.startPollLocked(t.busyToken, rec)
	case types.PendingStake:
		if rec.StakeAmount == nil || rec.StakeAmount.Sign() <= 0 {
			t.record = nil
			return t.pending.Clear(ctx, t.wallet)
		}
		if !rec.NextAction {
			t.record = rec
			return nil
		}
		t.busyToken++
		tok := t.busyToken
		t.busy = busyStake
		t.stakeDelayed = true
		t.record = rec
		pollCtx, cancel := context.WithCancel(t.ctx)
		t.stopPoll = cancel
		t.log.Info("resuming automatic stake")
		t.wg.Add(1)
		util.SafeGoWithName("auto-stake", func() {
			defer t.wg.Done()
			t.autoStake(pollCtx, tok, rec.StakeAmount, rec.StakeTierIndex)
		})
	}
	return nil
}

// Suspend stops scheduling polls and any not-yet-sent automatic stake. The
// durable record is kept for the next Resume.
func (t *Tracker) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	if t.stopPoll != nil {
		t.stopPoll()
		t.stopPoll = nil
	}
	if t.busy == busyApprovalPoll || (t.busy == busyStake && t.stakeDelayed) {
		t.busy = idle
		t.stakeDelayed = false
		t.busyToken++
	}
}

// Cancel discards the pending record. It fails with types.ErrBusy while a
// stake or unstake is being signed.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.mu.Lock()
	if t.busy == busyUnstake || (t.busy == busyStake && !t.stakeDelayed) {
		t.mu.Unlock()
		return types.ErrBusy
	}
	t.stopLocked()
	t.record = nil
	t.mu.Unlock()

	if err := t.pending.Clear(ctx, t.wallet); err != nil {
		return err
	}
	logging.Audit(logging.AuditEvent{
		Operation: "pending_cancelled",
		Actor:     t.wallet,
		Target:    t.cfg.Staking.Hex(),
		Result:    "success",
	})
	t.publish()
	return nil
}

// Close stops all background work. Results of calls still in flight are
// discarded. Use Wait to block until goroutines exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.stopLocked()
	t.mu.Unlock()
	t.cancel()
}

// Wait blocks until background goroutines exit or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
