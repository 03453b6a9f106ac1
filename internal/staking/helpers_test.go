package staking

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/internal/chain"
	"github.com/koshercapital/kosher/internal/state"
	"github.com/koshercapital/kosher/pkg/types"
)

var (
	testToken   = common.HexToAddress("0x5f6a682a58854c7fbe228712aeeffccde0008ac0")
	testStaking = common.HexToAddress("0x8cd8A5ABCdd4cA6ecb4413477243009F97F2EB08")
	testOwner   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

const testChainID = 8453

func testConfig() Config {
	return Config{
		Token:          testToken,
		Staking:        testStaking,
		ChainID:        testChainID,
		PollInterval:   10 * time.Millisecond,
		AutoStakeDelay: 20 * time.Millisecond,
		SettleDelay:    10 * time.Millisecond,
	}
}

func connected() types.WalletSession {
	return types.WalletSession{Address: testOwner, IsConnected: true, ChainID: testChainID}
}

type recordingObserver struct {
	mu    sync.Mutex
	polls map[string]int
	txs   map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{polls: make(map[string]int), txs: make(map[string]int)}
}

func (o *recordingObserver) ApprovalPoll(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.polls[result]++
}

func (o *recordingObserver) Transaction(kind, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.txs[kind+"/"+result]++
}

func (o *recordingObserver) poll(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.polls[result]
}

func (o *recordingObserver) tx(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.txs[key]
}

type fixture struct {
	ledger   *chain.MockLedger
	store    *PendingStore
	observer *recordingObserver
	tracker  *Tracker
}

func newFixture(t *testing.T, cfg Config, session types.WalletSession) *fixture {
	t.Helper()
	ledger := chain.NewMockLedger(testToken, testStaking, testChainID)
	ledger.SetBalance(testToken, testOwner, big.NewInt(5000))
	f := &fixture{
		ledger:   ledger,
		store:    NewPendingStore(state.NewMemoryStore()),
		observer: newRecordingObserver(),
	}
	f.tracker = NewTracker(cfg, session, ledger, ledger, f.store, WithObserver(f.observer))
	t.Cleanup(func() { stopTracker(t, f.tracker) })
	return f
}

func stopTracker(t *testing.T, tr *Tracker) {
	t.Helper()
	tr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Errorf("tracker did not stop: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) load(t *testing.T) *types.PendingTx {
	t.Helper()
	rec, err := f.store.Load(context.Background(), types.WalletKey(testOwner))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return rec
}
