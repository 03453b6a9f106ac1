package access

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/koshercapital/kosher/internal/chain"
	"github.com/koshercapital/kosher/pkg/types"
)

func TestChainBalanceSource(t *testing.T) {
	token := common.HexToAddress("0x5f6a682a58854c7fbe228712aeeffccde0008ac0")
	staking := common.HexToAddress("0x8cd8A5ABCdd4cA6ecb4413477243009F97F2EB08")
	ledger := chain.NewMockLedger(token, staking, 8453)
	ledger.SetBalance(token, alice, wholeTokens(1_000_000))

	src := NewChainBalanceSource(ledger, token)
	snap, err := src.FetchBalance(context.Background(), alice)
	if err != nil {
		t.Fatalf("FetchBalance: %v", err)
	}
	if !snap.Formatted().Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("formatted = %s", snap.Formatted())
	}
	if ResolveSnapshot(snap) != types.TierGoldPartner {
		t.Errorf("exactly 1M should be gold partner")
	}

	src.FetchBalance(context.Background(), alice)
	if n := ledger.Calls("decimals"); n != 1 {
		t.Errorf("decimals read %d times, want 1", n)
	}
}

func TestChainBalanceSourceNetworkError(t *testing.T) {
	token := common.HexToAddress("0x01")
	ledger := chain.NewMockLedger(token, common.HexToAddress("0x02"), 8453)
	ledger.FailReads(errors.New("rpc down"))

	_, err := NewChainBalanceSource(ledger, token).FetchBalance(context.Background(), alice)
	if !types.IsNetworkError(err) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}
