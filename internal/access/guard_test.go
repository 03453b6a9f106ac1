package access

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/pkg/types"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// wholeTokens returns n tokens in 18-decimal base units.
func wholeTokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fakeSource struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	err      error
	calls    int
	// gate, when set, blocks FetchBalance until closed.
	gate chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{balances: make(map[common.Address]*big.Int)}
}

func (f *fakeSource) set(addr common.Address, tokens int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = wholeTokens(tokens)
}

func (f *fakeSource) FetchBalance(ctx context.Context, owner common.Address) (*types.BalanceSnapshot, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	err := f.err
	raw := f.balances[owner]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = new(big.Int)
	}
	return &types.BalanceSnapshot{Owner: owner, RawAmount: raw, Decimals: 18}, nil
}

type recordingObserver struct {
	mu        sync.Mutex
	resolved  []string
	degraded  int
	decisions map[string]int
}

func (o *recordingObserver) TierResolved(tier string, degraded bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolved = append(o.resolved, tier)
	if degraded {
		o.degraded++
	}
}

func (o *recordingObserver) GuardDecision(action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.decisions == nil {
		o.decisions = make(map[string]int)
	}
	o.decisions[action]++
}

func connected(addr common.Address) types.WalletSession {
	return types.WalletSession{Address: addr, IsConnected: true, ChainID: 8453}
}

func TestGuardInitialStateIsDisconnected(t *testing.T) {
	g := NewGuard(newFakeSource(), nil)

	d := g.Decide("/board-member-room")
	if d.State != StateDisconnected || d.Action != ActionAwaitConnection {
		t.Errorf("unexpected decision %+v", d)
	}
	if d.Target != "" {
		t.Error("disconnected state must not redirect")
	}
	if _, err := g.Resolve(context.Background()); !errors.Is(err, types.ErrNotConnected) {
		t.Errorf("Resolve while disconnected: %v", err)
	}
}

func TestGuardCheckingShowsLoading(t *testing.T) {
	g := NewGuard(newFakeSource(), nil)
	g.Connect(connected(alice))

	d := g.Decide("/gold-partner-room")
	if d.State != StateChecking || d.Action != ActionLoading || d.Target != "" {
		t.Errorf("unexpected decision while checking %+v", d)
	}
}

func TestGuardEndToEndTiers(t *testing.T) {
	tests := []struct {
		name      string
		tokens    int64
		wantTier  types.AccessTier
		wantGold  Action
		wantBoard Action
	}{
		{"holder", 500_000, types.TierHolder, ActionRedirect, ActionRedirect},
		{"gold partner", 2_000_000, types.TierGoldPartner, ActionAllow, ActionRedirect},
		{"board member", 15_000_000, types.TierBoardMember, ActionAllow, ActionAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			src.set(alice, tt.tokens)
			g := NewGuard(src, nil)
			g.Connect(connected(alice))

			tier, err := g.Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", tier, tt.wantTier)
			}

			gold := g.Decide("/gold-partner-room")
			if gold.Action != tt.wantGold {
				t.Errorf("gold room action = %s, want %s", gold.Action, tt.wantGold)
			}
			board := g.Decide("/board-member-room")
			if board.Action != tt.wantBoard {
				t.Errorf("board room action = %s, want %s", board.Action, tt.wantBoard)
			}
			if board.Action == ActionRedirect && (board.Target != HomeRoute || board.State != StateUnauthorized) {
				t.Errorf("redirect should go home from unauthorized, got %+v", board)
			}

			if d := g.Decide("/staking"); d.Action != ActionAllow {
				t.Errorf("public route not allowed: %+v", d)
			}
		})
	}
}

func TestGuardDisconnectClearsAuthorization(t *testing.T) {
	src := newFakeSource()
	src.set(alice, 15_000_000)
	g := NewGuard(src, nil)
	g.Connect(connected(alice))
	if _, err := g.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d := g.Decide("/board-member-room"); d.State != StateAuthorized {
		t.Fatalf("expected authorized, got %+v", d)
	}

	g.Disconnect()

	d := g.Decide("/board-member-room")
	if d.State != StateDisconnected || d.Action != ActionAwaitConnection {
		t.Errorf("expected disconnected after disconnect, got %+v", d)
	}
	if g.Tier() != "" {
		t.Errorf("tier retained after disconnect: %s", g.Tier())
	}
}

func TestGuardConnectWithDisconnectedSession(t *testing.T) {
	src := newFakeSource()
	src.set(alice, 15_000_000)
	g := NewGuard(src, nil)
	g.Connect(connected(alice))
	g.Resolve(context.Background())

	g.Connect(types.WalletSession{IsConnected: false})
	if d := g.Decide("/gold-partner-room"); d.State != StateDisconnected {
		t.Errorf("expected disconnected, got %+v", d)
	}
}

func TestGuardAddressSwitchForcesRecheck(t *testing.T) {
	src := newFakeSource()
	src.set(alice, 15_000_000)
	src.set(bob, 100)
	g := NewGuard(src, nil)

	g.Connect(connected(alice))
	g.Resolve(context.Background())
	if d := g.Decide("/board-member-room"); d.Action != ActionAllow {
		t.Fatalf("alice should be allowed, got %+v", d)
	}

	g.Connect(connected(bob))
	if d := g.Decide("/board-member-room"); d.State != StateChecking {
		t.Fatalf("switch must return to checking, got %+v", d)
	}

	callsBefore := src.calls
	g.Resolve(context.Background())
	if src.calls != callsBefore+1 {
		t.Error("switch did not trigger a fresh balance read")
	}
	if d := g.Decide("/board-member-room"); d.Action != ActionRedirect {
		t.Errorf("bob should be redirected, got %+v", d)
	}
}

func TestGuardDiscardsStaleResult(t *testing.T) {
	src := newFakeSource()
	src.set(alice, 15_000_000)
	src.set(bob, 100)
	src.gate = make(chan struct{})
	g := NewGuard(src, nil)

	g.Connect(connected(alice))

	errc := make(chan error, 1)
	go func() {
		_, err := g.Resolve(context.Background())
		errc <- err
	}()

	// Wait for the read to be in flight, then switch accounts.
	for {
		src.mu.Lock()
		n := src.calls
		src.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	g.Connect(connected(bob))
	close(src.gate)

	if err := <-errc; !errors.Is(err, ErrStaleCheck) {
		t.Fatalf("expected ErrStaleCheck, got %v", err)
	}
	if d := g.Decide("/board-member-room"); d.State != StateChecking {
		t.Errorf("stale alice result leaked into bob's session: %+v", d)
	}
}

func TestGuardDegradedReadResolvesHolder(t *testing.T) {
	src := newFakeSource()
	src.err = &types.NetworkError{Op: "balanceOf", Err: errors.New("timeout")}
	obs := &recordingObserver{}
	g := NewGuard(src, nil, WithObserver(obs))
	g.Connect(connected(alice))

	tier, err := g.Resolve(context.Background())
	if err != nil {
		t.Fatalf("degraded read should not fail Resolve: %v", err)
	}
	if tier != types.TierHolder {
		t.Errorf("tier = %s, want holder", tier)
	}

	d := g.Decide("/gold-partner-room")
	if !d.Degraded || d.Action != ActionRedirect {
		t.Errorf("expected degraded redirect, got %+v", d)
	}
	if !g.Status().Degraded {
		t.Error("status should report degraded")
	}
	if obs.degraded != 1 {
		t.Errorf("observer saw %d degraded resolutions", obs.degraded)
	}
	if obs.decisions[string(ActionRedirect)] != 1 {
		t.Errorf("observer decisions = %v", obs.decisions)
	}
}

func TestGuardNeedsCheck(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := newFakeSource()
	g := NewGuard(src, nil, WithRecheckInterval(30*time.Second), WithClock(func() time.Time { return now }))

	if g.NeedsCheck() {
		t.Error("disconnected guard should not need a check")
	}
	g.Connect(connected(alice))
	if !g.NeedsCheck() {
		t.Error("checking guard should need a check")
	}
	g.Resolve(context.Background())
	if g.NeedsCheck() {
		t.Error("freshly resolved guard should not need a check")
	}
	now = now.Add(31 * time.Second)
	if !g.NeedsCheck() {
		t.Error("expired tier should need a check")
	}
}

func TestGuardSameAddressReconnectKeepsTier(t *testing.T) {
	src := newFakeSource()
	src.set(alice, 2_000_000)
	g := NewGuard(src, nil)
	g.Connect(connected(alice))
	g.Resolve(context.Background())

	s := connected(alice)
	s.ChainID = 1
	g.Connect(s)

	if g.Tier() != types.TierGoldPartner {
		t.Errorf("tier lost on same-address reconnect: %s", g.Tier())
	}
	if g.Status().Session.ChainID != 1 {
		t.Error("chain id not updated")
	}
}
