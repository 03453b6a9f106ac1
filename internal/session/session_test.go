package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/pkg/types"
)

type staticSource struct{ tokens int64 }

func (s staticSource) FetchBalance(ctx context.Context, owner common.Address) (*types.BalanceSnapshot, error) {
	raw := new(big.Int).Mul(big.NewInt(s.tokens), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return &types.BalanceSnapshot{Owner: owner, RawAmount: raw, Decimals: 18}, nil
}

type recordingListener struct {
	mu           sync.Mutex
	connected    []types.WalletSession
	disconnected []common.Address
}

func (l *recordingListener) WalletConnected(ctx context.Context, s types.WalletSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, s)
}

func (l *recordingListener) WalletDisconnected(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = append(l.disconnected, addr)
}

type countObserver struct {
	mu sync.Mutex
	n  int
}

func (o *countObserver) SetActiveSessions(n int) {
	o.mu.Lock()
	o.n = n
	o.mu.Unlock()
}

func newTestManager(t *testing.T, tokens int64) (*Manager, *recordingListener, *countObserver) {
	t.Helper()
	l := &recordingListener{}
	o := &countObserver{}
	m := NewManager(DefaultConfig(), func() *access.Guard {
		return access.NewGuard(staticSource{tokens: tokens}, nil)
	}, l, o)
	t.Cleanup(m.Close)
	return m, l, o
}

func sign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(personalHash(message), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func connect(t *testing.T, m *Manager, key *ecdsa.PrivateKey, token string) *Session {
	t.Helper()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	c, err := m.Challenge(addr.Hex())
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	s, err := m.Verify(context.Background(), VerifyRequest{
		Address:   addr.Hex(),
		Signature: sign(t, key, c.Message),
		ChainID:   8453,
		Token:     token,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return s
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestConnectAndGuard(t *testing.T) {
	m, l, o := newTestManager(t, 2_000_000)
	key := mustKey(t)

	s := connect(t, m, key, "")
	if !strings.HasPrefix(s.Token, TokenPrefix) {
		t.Errorf("token %q lacks prefix", s.Token)
	}
	if got := s.Wallet(); !got.IsConnected || got.Address != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("wallet = %+v", got)
	}
	if d := s.Guard.Decide("/gold-partner-room"); d.Action != access.ActionLoading {
		t.Errorf("before resolve: action = %s", d.Action)
	}
	if _, err := s.Guard.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d := s.Guard.Decide("/gold-partner-room"); d.Action != access.ActionAllow {
		t.Errorf("gold partner room: action = %s", d.Action)
	}
	if d := s.Guard.Decide("/board-member-room"); d.Action != access.ActionRedirect {
		t.Errorf("board member room: action = %s", d.Action)
	}

	if len(l.connected) != 1 || o.n != 1 {
		t.Errorf("connected events = %d, active = %d", len(l.connected), o.n)
	}
	if got, ok := m.Lookup(s.Token); !ok || got != s {
		t.Error("Lookup did not return the session")
	}
}

func TestChallengeIsSingleUse(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	key := mustKey(t)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	c, err := m.Challenge(addr.Hex())
	if err != nil {
		t.Fatal(err)
	}
	again, _ := m.Challenge(strings.ToLower(addr.Hex()))
	if again.Message != c.Message {
		t.Error("unexpired challenge was replaced")
	}

	req := VerifyRequest{Address: addr.Hex(), Signature: sign(t, key, c.Message), ChainID: 8453}
	if _, err := m.Verify(context.Background(), req); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := m.Verify(context.Background(), req); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("replayed signature: err = %v", err)
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	m, l, _ := newTestManager(t, 0)
	victim := crypto.PubkeyToAddress(mustKey(t).PublicKey)
	attacker := mustKey(t)

	c, _ := m.Challenge(victim.Hex())
	_, err := m.Verify(context.Background(), VerifyRequest{
		Address:   victim.Hex(),
		Signature: sign(t, attacker, c.Message),
	})
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("err = %v", err)
	}
	if len(l.connected) != 0 {
		t.Error("listener notified for a failed verification")
	}
}

func TestVerifyValidation(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	if _, err := m.Challenge("not-an-address"); !types.IsValidation(err) {
		t.Errorf("Challenge: err = %v", err)
	}
	key := mustKey(t)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	if _, err := m.Verify(context.Background(), VerifyRequest{Address: addr.Hex(), Signature: "0x00"}); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("without challenge: err = %v", err)
	}
	m.Challenge(addr.Hex())
	if _, err := m.Verify(context.Background(), VerifyRequest{Address: addr.Hex(), Signature: "0x1234"}); !types.IsValidation(err) {
		t.Errorf("short signature: err = %v", err)
	}
}

func TestSwitchAddressRechecks(t *testing.T) {
	m, l, _ := newTestManager(t, 20_000_000)
	first := mustKey(t)
	second := mustKey(t)

	s := connect(t, m, first, "")
	if _, err := s.Guard.Resolve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d := s.Guard.Decide("/board-member-room"); d.Action != access.ActionAllow {
		t.Fatalf("action = %s", d.Action)
	}

	switched := connect(t, m, second, s.Token)
	if switched != s {
		t.Fatal("switch opened a new session")
	}
	if d := s.Guard.Decide("/board-member-room"); d.State != access.StateChecking {
		t.Errorf("after switch: state = %s, want checking", d.State)
	}
	if len(l.disconnected) != 1 || l.disconnected[0] != crypto.PubkeyToAddress(first.PublicKey) {
		t.Errorf("disconnected = %v", l.disconnected)
	}
}

func TestDisconnect(t *testing.T) {
	m, l, o := newTestManager(t, 2_000_000)
	key := mustKey(t)

	a := connect(t, m, key, "")
	b := connect(t, m, key, "")

	if err := m.Disconnect(a.Token); err != nil {
		t.Fatal(err)
	}
	if len(l.disconnected) != 0 {
		t.Error("wallet detached while another session is live")
	}
	if d := a.Guard.Decide("/gold-partner-room"); d.Action != access.ActionAwaitConnection {
		t.Errorf("closed session: action = %s", d.Action)
	}

	if err := m.Disconnect(b.Token); err != nil {
		t.Fatal(err)
	}
	if len(l.disconnected) != 1 || o.n != 0 {
		t.Errorf("disconnected = %d, active = %d", len(l.disconnected), o.n)
	}
	if err := m.Disconnect(b.Token); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("double disconnect: err = %v", err)
	}
}

func TestSetChain(t *testing.T) {
	m, l, _ := newTestManager(t, 0)
	s := connect(t, m, mustKey(t), "")
	if err := m.SetChain(context.Background(), s.Token, 1); err != nil {
		t.Fatal(err)
	}
	if s.Wallet().ChainID != 1 {
		t.Errorf("chain = %d", s.Wallet().ChainID)
	}
	if last := l.connected[len(l.connected)-1]; last.ChainID != 1 {
		t.Errorf("listener saw chain %d", last.ChainID)
	}
	if err := m.SetChain(context.Background(), "ks_missing", 1); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("err = %v", err)
	}
}

func TestExpiry(t *testing.T) {
	m, l, _ := newTestManager(t, 0)
	now := time.Now()
	m.now = func() time.Time { return now }

	s := connect(t, m, mustKey(t), "")
	now = now.Add(DefaultConfig().SessionTTL + time.Second)

	if _, ok := m.Lookup(s.Token); ok {
		t.Error("expired session still valid")
	}
	m.CleanupExpired()
	if m.Active() != 0 || len(l.disconnected) != 1 {
		t.Errorf("active = %d, disconnected = %d", m.Active(), len(l.disconnected))
	}
}

func TestRecoverSigner(t *testing.T) {
	key := mustKey(t)
	got, err := RecoverSigner("hello", sign(t, key, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if got != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("recovered %s", got.Hex())
	}
	if _, err := RecoverSigner("hello", "zz"); !types.IsValidation(err) {
		t.Errorf("err = %v", err)
	}
}
