package staking

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/koshercapital/kosher/internal/chain"
	"github.com/koshercapital/kosher/internal/state"
	"github.com/koshercapital/kosher/pkg/types"
)

func TestApprovalThenAutomaticStake(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	ctx := context.Background()

	_, err := f.tracker.SubmitApproval(ctx, ApprovalRequest{
		Amount:     big.NewInt(1000),
		StakeAfter: true,
		TierIndex:  1,
	})
	if err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}

	rec := f.load(t)
	if rec == nil || rec.Kind != types.PendingApproval {
		t.Fatalf("pending record = %+v, want approval", rec)
	}
	if rec.StakeAmount == nil || rec.StakeAmount.Int64() != 1000 || rec.StakeTierIndex != 1 || !rec.NextAction {
		t.Errorf("stake fields = %v/%d/%v", rec.StakeAmount, rec.StakeTierIndex, rec.NextAction)
	}
	if got := f.tracker.Busy(); got != "approval_poll" {
		t.Errorf("Busy() = %q, want approval_poll", got)
	}

	// A manual stake cannot interleave with the poll.
	if _, err := f.tracker.SubmitStake(ctx, big.NewInt(10), 0); !errors.Is(err, types.ErrBusy) {
		t.Errorf("SubmitStake while polling = %v, want ErrBusy", err)
	}

	waitFor(t, "pending polls", func() bool { return f.observer.poll("pending") >= 2 })
	f.ledger.ConfirmApprovals()

	waitFor(t, "deposit", func() bool { return f.ledger.Calls("deposit") == 1 })
	waitFor(t, "idle", func() bool { return f.tracker.Busy() == "" })

	if rec := f.load(t); rec != nil {
		t.Errorf("pending record after stake = %+v, want cleared", rec)
	}
	d := f.tracker.Dashboard()
	if d == nil || len(d.Positions) != 1 {
		t.Fatalf("dashboard = %+v, want one position", d)
	}
	if d.Positions[0].Amount.Int64() != 1000 || d.Positions[0].APY != 25 {
		t.Errorf("position = %+v", d.Positions[0])
	}

	// Several more poll intervals must not produce a second deposit.
	time.Sleep(5 * testConfig().PollInterval)
	if n := f.ledger.Calls("deposit"); n != 1 {
		t.Errorf("deposit calls = %d, want 1", n)
	}
	if n := f.observer.poll("confirmed"); n != 1 {
		t.Errorf("confirmed polls = %d, want 1", n)
	}
	if n := f.observer.tx("stake/success"); n != 1 {
		t.Errorf("stake successes = %d, want 1", n)
	}
}

func TestApprovalWithoutStakeApprovesFullBalance(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	f.ledger.AutoConfirm = true

	if _, err := f.tracker.SubmitApproval(context.Background(), ApprovalRequest{}); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	waitFor(t, "idle", func() bool { return f.tracker.Busy() == "" })
	waitFor(t, "dashboard", func() bool { return f.tracker.Dashboard() != nil })

	d := f.tracker.Dashboard()
	if !d.Approved || d.Allowance.Int64() != 5000 {
		t.Errorf("allowance = %v approved=%v, want full balance 5000", d.Allowance, d.Approved)
	}
	if f.ledger.Calls("deposit") != 0 {
		t.Error("deposit called without a recorded stake amount")
	}
	if rec := f.load(t); rec != nil {
		t.Errorf("pending record = %+v, want cleared", rec)
	}
}

func TestSubmitApprovalRejectedPersistsNothing(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	f.ledger.RejectWrites(errors.New("user denied transaction signature"))

	_, err := f.tracker.SubmitApproval(context.Background(), ApprovalRequest{Amount: big.NewInt(1000), StakeAfter: true})
	if !types.IsWalletRejected(err) {
		t.Fatalf("err = %v, want WalletRejected", err)
	}
	if rec := f.load(t); rec != nil {
		t.Errorf("pending record = %+v, want none", rec)
	}
	if got := f.tracker.Busy(); got != "" {
		t.Errorf("Busy() = %q, want idle", got)
	}
	if n := f.observer.tx("approval/rejected"); n != 1 {
		t.Errorf("rejected approvals = %d, want 1", n)
	}
}

func TestSubmitApprovalWhilePolling(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	ctx := context.Background()

	if _, err := f.tracker.SubmitApproval(ctx, ApprovalRequest{Amount: big.NewInt(10)}); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	if _, err := f.tracker.SubmitApproval(ctx, ApprovalRequest{Amount: big.NewInt(10)}); !errors.Is(err, types.ErrBusy) {
		t.Errorf("second SubmitApproval = %v, want ErrBusy", err)
	}
	if n := f.ledger.Calls("approve"); n != 1 {
		t.Errorf("approve calls = %d, want 1", n)
	}
}

func TestWritesBlockedOnWrongChainOrDisconnected(t *testing.T) {
	tests := []struct {
		name    string
		session types.WalletSession
		check   func(error) bool
	}{
		{
			name:    "wrong chain",
			session: types.WalletSession{Address: testOwner, IsConnected: true, ChainID: 1},
			check:   types.IsChainMismatch,
		},
		{
			name:    "disconnected",
			session: types.WalletSession{Address: testOwner},
			check:   func(err error) bool { return errors.Is(err, types.ErrNotConnected) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), tt.session)
			ctx := context.Background()

			if _, err := f.tracker.SubmitApproval(ctx, ApprovalRequest{Amount: big.NewInt(1)}); !tt.check(err) {
				t.Errorf("SubmitApproval err = %v", err)
			}
			if _, err := f.tracker.SubmitStake(ctx, big.NewInt(1), 0); !tt.check(err) {
				t.Errorf("SubmitStake err = %v", err)
			}
			if _, err := f.tracker.SubmitUnstake(ctx, 0); !tt.check(err) {
				t.Errorf("SubmitUnstake err = %v", err)
			}
			if n := f.ledger.Calls("approve") + f.ledger.Calls("deposit") + f.ledger.Calls("withdraw"); n != 0 {
				t.Errorf("wallet writes = %d, want 0", n)
			}
		})
	}
}

func TestSubmitStakeValidation(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	f.ledger.SetAllowance(testOwner, big.NewInt(100))
	ctx := context.Background()

	tests := []struct {
		name   string
		amount *big.Int
		tier   int
		field  string
	}{
		{"zero amount", big.NewInt(0), 0, "amount"},
		{"negative amount", big.NewInt(-5), 0, "amount"},
		{"nil amount", nil, 0, "amount"},
		{"unknown tier", big.NewInt(10), 3, "tier"},
		{"above allowance", big.NewInt(101), 0, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tracker.SubmitStake(ctx, tt.amount, tt.tier)
			var ve *types.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
	if n := f.ledger.Calls("deposit"); n != 0 {
		t.Errorf("deposit calls = %d, want 0", n)
	}
	if got := f.tracker.Busy(); got != "" {
		t.Errorf("Busy() = %q after validation failures", got)
	}
}

func TestSubmitStakeSecondAttemptRejected(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = 200 * time.Millisecond
	f := newFixture(t, cfg, connected())
	f.ledger.SetAllowance(testOwner, big.NewInt(1000))
	ctx := context.Background()

	if _, err := f.tracker.SubmitStake(ctx, big.NewInt(400), 0); err != nil {
		t.Fatalf("first SubmitStake: %v", err)
	}
	if _, err := f.tracker.SubmitStake(ctx, big.NewInt(400), 0); !errors.Is(err, types.ErrBusy) {
		t.Errorf("second SubmitStake = %v, want ErrBusy", err)
	}
	if _, err := f.tracker.SubmitUnstake(ctx, 0); !errors.Is(err, types.ErrBusy) {
		t.Errorf("SubmitUnstake during stake = %v, want ErrBusy", err)
	}

	waitFor(t, "idle", func() bool { return f.tracker.Busy() == "" })
	if n := f.ledger.Calls("deposit"); n != 1 {
		t.Errorf("deposit calls = %d, want 1", n)
	}
}

func TestFailedStakeKeepsPendingRecord(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	ctx := context.Background()

	if _, err := f.tracker.SubmitApproval(ctx, ApprovalRequest{Amount: big.NewInt(1000), StakeAfter: true}); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	waitFor(t, "first poll", func() bool { return f.observer.poll("pending") >= 1 })
	f.ledger.RejectWrites(errors.New("User rejected the request"))
	f.ledger.ConfirmApprovals()

	waitFor(t, "rejected stake", func() bool { return f.observer.tx("stake/rejected") == 1 })
	waitFor(t, "idle", func() bool { return f.tracker.Busy() == "" })

	rec := f.load(t)
	if rec == nil || rec.Kind != types.PendingStake || rec.StakeAmount.Int64() != 1000 {
		t.Fatalf("pending record = %+v, want stake record kept", rec)
	}
	if rec.NextAction {
		t.Error("NextAction still set after a rejected automatic stake")
	}

	// A later resume must not send the rejected deposit again.
	f.ledger.RejectWrites(nil)
	if err := f.tracker.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := f.tracker.Busy(); got != "" {
		t.Errorf("Busy() after Resume = %q, want idle", got)
	}
	time.Sleep(3 * testConfig().AutoStakeDelay)
	if n := f.ledger.Calls("deposit"); n != 1 {
		t.Errorf("deposit calls after Resume = %d, want 1", n)
	}
	if rec := f.load(t); rec == nil || rec.StakeAmount.Int64() != 1000 {
		t.Errorf("pending record after Resume = %+v, want stake amount kept", rec)
	}

	if _, err := f.tracker.SubmitStake(ctx, big.NewInt(1000), 0); err != nil {
		t.Fatalf("manual SubmitStake: %v", err)
	}
	waitFor(t, "record cleared", func() bool { return f.load(t) == nil })
}

func TestMaxPollAttemptsKeepsRecord(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPollAttempts = 3
	f := newFixture(t, cfg, connected())

	if _, err := f.tracker.SubmitApproval(context.Background(), ApprovalRequest{Amount: big.NewInt(10)}); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	waitFor(t, "abandon", func() bool { return f.observer.poll("abandoned") == 1 })
	waitFor(t, "idle", func() bool { return f.tracker.Busy() == "" })

	if n := f.ledger.Calls("allowance"); n != 3 {
		t.Errorf("allowance reads = %d, want 3", n)
	}
	if rec := f.load(t); rec == nil || rec.Kind != types.PendingApproval {
		t.Errorf("pending record = %+v, want approval kept", rec)
	}
	if _, err := f.tracker.SubmitApproval(context.Background(), ApprovalRequest{Amount: big.NewInt(10)}); !errors.Is(err, types.ErrApprovalPending) {
		t.Errorf("SubmitApproval with kept record = %v, want ErrApprovalPending", err)
	}
}

func TestPollErrorsKeepPolling(t *testing.T) {
	f := newFixture(t, testConfig(), connected())

	if _, err := f.tracker.SubmitApproval(context.Background(), ApprovalRequest{Amount: big.NewInt(10)}); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	f.ledger.FailReads(errors.New("connection refused"))
	waitFor(t, "poll errors", func() bool { return f.observer.poll("error") >= 2 })
	f.ledger.FailReads(nil)
	f.ledger.ConfirmApprovals()
	waitFor(t, "confirmation", func() bool { return f.observer.poll("confirmed") == 1 })
}

func TestCancelDiscardsPending(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	ctx := context.Background()

	if _, err := f.tracker.SubmitApproval(ctx, ApprovalRequest{Amount: big.NewInt(10)}); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	if err := f.tracker.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if rec := f.load(t); rec != nil {
		t.Errorf("pending record = %+v, want cleared", rec)
	}
	if got := f.tracker.Busy(); got != "" {
		t.Errorf("Busy() = %q, want idle", got)
	}

	reads := f.ledger.Calls("allowance")
	time.Sleep(5 * testConfig().PollInterval)
	if n := f.ledger.Calls("allowance"); n > reads+1 {
		t.Errorf("polling continued after Cancel: %d -> %d reads", reads, n)
	}

	if _, err := f.tracker.SubmitApproval(ctx, ApprovalRequest{Amount: big.NewInt(10)}); err != nil {
		t.Errorf("SubmitApproval after Cancel: %v", err)
	}
}

func TestResumeAfterRestart(t *testing.T) {
	t.Run("approval", func(t *testing.T) {
		f := newFixture(t, testConfig(), connected())
		ctx := context.Background()
		err := f.store.SaveApproval(ctx, types.WalletKey(testOwner), &types.PendingTx{
			TxHash:         "0xabc",
			Amount:         big.NewInt(700),
			StakeAmount:    big.NewInt(700),
			StakeTierIndex: 2,
			NextAction:     true,
			CreatedAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveApproval: %v", err)
		}
		f.ledger.SetAllowance(testOwner, big.NewInt(700))

		if err := f.tracker.Resume(ctx); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		waitFor(t, "deposit", func() bool { return f.ledger.Calls("deposit") == 1 })
		waitFor(t, "cleared", func() bool { return f.load(t) == nil })
	})

	t.Run("stake after approval", func(t *testing.T) {
		f := newFixture(t, testConfig(), connected())
		ctx := context.Background()
		wallet := types.WalletKey(testOwner)
		err := f.store.SaveApproval(ctx, wallet, &types.PendingTx{
			Amount:      big.NewInt(300),
			StakeAmount: big.NewInt(300),
			NextAction:  true,
		})
		if err != nil {
			t.Fatalf("SaveApproval: %v", err)
		}
		if err := f.store.MarkApproved(ctx, wallet); err != nil {
			t.Fatalf("MarkApproved: %v", err)
		}
		f.ledger.SetAllowance(testOwner, big.NewInt(300))

		if err := f.tracker.Resume(ctx); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		waitFor(t, "deposit", func() bool { return f.ledger.Calls("deposit") == 1 })
		if f.observer.poll("confirmed") != 0 {
			t.Error("confirmed approval was polled again")
		}
	})
}

func TestRefreshDegradesOnReadFailure(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	f.ledger.FailReads(errors.New("rpc down"))

	d, err := f.tracker.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !d.Degraded || !d.Balance.Degraded {
		t.Error("dashboard not marked degraded")
	}
	if d.Balance.RawAmount.Sign() != 0 || d.Approved || len(d.Positions) != 0 {
		t.Errorf("degraded dashboard = %+v, want safe zero values", d)
	}
}

func TestRefreshSkipsAllowanceOnWrongChain(t *testing.T) {
	f := newFixture(t, testConfig(), types.WalletSession{Address: testOwner, IsConnected: true, ChainID: 1})
	f.ledger.SetAllowance(testOwner, big.NewInt(50))

	d, err := f.tracker.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if d.Approved || f.ledger.Calls("allowance") != 0 {
		t.Error("allowance read on the wrong chain")
	}
	if d.Balance.RawAmount.Int64() != 5000 {
		t.Errorf("balance = %v, want 5000", d.Balance.RawAmount)
	}
}

func TestUnstakeOnlyWhenClaimable(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := newFixture(t, testConfig(), connected())
	f.ledger.SetClock(func() time.Time { return now })
	f.ledger.SetAllowance(testOwner, big.NewInt(1000))
	ctx := context.Background()

	if _, err := f.tracker.SubmitStake(ctx, big.NewInt(1000), 0); err != nil {
		t.Fatalf("SubmitStake: %v", err)
	}
	waitFor(t, "idle", func() bool { return f.tracker.Busy() == "" })

	_, err := f.tracker.SubmitUnstake(ctx, 0)
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("unstake locked position = %v, want ValidationError", err)
	}
	if _, err := f.tracker.SubmitUnstake(ctx, 5); !errors.As(err, &ve) {
		t.Fatalf("unstake missing position = %v, want ValidationError", err)
	}

	later := now.Add(8 * 24 * time.Hour)
	f.ledger.SetClock(func() time.Time { return later })
	d, err := f.tracker.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !d.Positions[0].IsClaimable || d.Positions[0].Reward.Sign() <= 0 {
		t.Fatalf("position after lock = %+v", d.Positions[0])
	}

	if _, err := f.tracker.SubmitUnstake(ctx, 0); err != nil {
		t.Fatalf("SubmitUnstake: %v", err)
	}
	waitFor(t, "idle", func() bool { return f.tracker.Busy() == "" })
	d = f.tracker.Dashboard()
	if len(d.Positions) != 0 {
		t.Errorf("positions after unstake = %d, want 0", len(d.Positions))
	}
	if d.Balance.RawAmount.Cmp(big.NewInt(5000)) <= 0 {
		t.Errorf("balance = %v, want principal plus reward", d.Balance.RawAmount)
	}
}

func TestUpdateFuncReceivesDashboards(t *testing.T) {
	ledger := chain.NewMockLedger(testToken, testStaking, testChainID)
	ledger.SetBalance(testToken, testOwner, big.NewInt(42))
	updates := make(chan types.StakingDashboard, 8)
	tr := NewTracker(testConfig(), connected(), ledger, ledger, NewPendingStore(state.NewMemoryStore()),
		WithUpdateFunc(func(d types.StakingDashboard) {
			select {
			case updates <- d:
			default:
			}
		}))
	defer stopTracker(t, tr)

	if _, err := tr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	select {
	case d := <-updates:
		if d.Balance.RawAmount.Int64() != 42 {
			t.Errorf("update balance = %v, want 42", d.Balance.RawAmount)
		}
	case <-time.After(time.Second):
		t.Fatal("no dashboard update")
	}
}

func TestClosedTrackerRejectsWrites(t *testing.T) {
	f := newFixture(t, testConfig(), connected())
	f.tracker.Close()

	if _, err := f.tracker.SubmitStake(context.Background(), big.NewInt(1), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("SubmitStake after Close = %v, want ErrClosed", err)
	}
}
