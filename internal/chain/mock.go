package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/koshercapital/kosher/pkg/types"
)

type mockPosition struct {
	amount *big.Int
	apy    uint64
	lock   uint64
	opened time.Time
}

// MockLedger is an in-memory token and staking contract pair. It
// implements Reader, Writer and WalletProvider and backs tests and
// mock_chain mode.
type MockLedger struct {
	mu sync.Mutex

	token   common.Address
	staking common.Address
	chainID uint64

	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]*big.Int // owner -> allowance for staking
	held       map[common.Address]*big.Int // approvals not yet visible
	positions  map[common.Address][]*mockPosition

	// AutoConfirm makes approvals visible to Allowance immediately.
	AutoConfirm bool
	// WalletChainID is what the mock wallet reports; 0 means chainID.
	WalletChainID uint64

	readErr   error
	rejectErr error
	nonce     uint64
	calls     map[string]int
	now       func() time.Time
}

// NewMockLedger creates a ledger for one token and its staking contract.
func NewMockLedger(token, staking common.Address, chainID uint64) *MockLedger {
	return &MockLedger{
		token:      token,
		staking:    staking,
		chainID:    chainID,
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		held:       make(map[common.Address]*big.Int),
		positions:  make(map[common.Address][]*mockPosition),
		calls:      make(map[string]int),
		now:        time.Now,
	}
}

// SetBalance sets owner's balance of token in base units.
func (m *MockLedger) SetBalance(token, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[token] == nil {
		m.balances[token] = make(map[common.Address]*big.Int)
	}
	m.balances[token][owner] = new(big.Int).Set(amount)
}

// SetAllowance sets owner's allowance for the staking contract.
func (m *MockLedger) SetAllowance(owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[owner] = new(big.Int).Set(amount)
}

// ConfirmApprovals makes every held approval visible, as if mined.
func (m *MockLedger) ConfirmApprovals() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for owner, amt := range m.held {
		m.allowances[owner] = amt
		delete(m.held, owner)
	}
}

// FailReads makes every read return err until called with nil.
func (m *MockLedger) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// RejectWrites makes the mock wallet decline every write until called with nil.
func (m *MockLedger) RejectWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectErr = err
}

// SetClock overrides the time source used for position elapsed time.
func (m *MockLedger) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Calls returns how many times method was invoked.
func (m *MockLedger) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockLedger) record(method string) error {
	m.calls[method]++
	if m.readErr != nil {
		return &types.NetworkError{Op: method, Err: m.readErr}
	}
	return nil
}

func (m *MockLedger) ChainID(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WalletChainID != 0 {
		return m.WalletChainID, nil
	}
	return m.chainID, nil
}

func (m *MockLedger) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("balanceOf"); err != nil {
		return nil, err
	}
	if b, ok := m.balances[token][owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (m *MockLedger) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("decimals"); err != nil {
		return 0, err
	}
	return 18, nil
}

func (m *MockLedger) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("allowance"); err != nil {
		return nil, err
	}
	if token != m.token || spender != m.staking {
		return new(big.Int), nil
	}
	if a, ok := m.allowances[owner]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (m *MockLedger) StakedPositionCount(ctx context.Context, staking, owner common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("getStakedItemLength"); err != nil {
		return 0, err
	}
	return uint64(len(m.positions[owner])), nil
}

func (m *MockLedger) StakedPositionDetail(ctx context.Context, staking, owner common.Address, index uint64) (*PositionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("getStakedItemAmount"); err != nil {
		return nil, err
	}
	ps := m.positions[owner]
	if index >= uint64(len(ps)) {
		return nil, fmt.Errorf("%w: position %d out of range", ErrWouldRevert, index)
	}
	p := ps[index]
	elapsed := uint64(m.now().Sub(p.opened) / time.Second)
	return &PositionDetail{
		Amount:         new(big.Int).Set(p.amount),
		APY:            p.apy,
		Reward:         m.reward(p, elapsed),
		ElapsedSeconds: elapsed,
	}, nil
}

func (m *MockLedger) TotalStaked(ctx context.Context, staking, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("getStakedTokens"); err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, p := range m.positions[owner] {
		total.Add(total, p.amount)
	}
	return total, nil
}

// reward accrues linearly: amount * apy% * elapsed / year.
func (m *MockLedger) reward(p *mockPosition, elapsed uint64) *big.Int {
	r := new(big.Int).Mul(p.amount, new(big.Int).SetUint64(p.apy))
	r.Mul(r, new(big.Int).SetUint64(elapsed))
	return r.Div(r, big.NewInt(100*365*86400))
}

func (m *MockLedger) Approve(ctx context.Context, from, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["approve"]++
	if err := m.checkWrite("approve"); err != nil {
		return common.Hash{}, err
	}
	if m.AutoConfirm {
		m.allowances[from] = new(big.Int).Set(amount)
	} else {
		m.held[from] = new(big.Int).Set(amount)
	}
	return m.nextHash(), nil
}

func (m *MockLedger) Deposit(ctx context.Context, from, staking common.Address, amount *big.Int, option uint64) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["deposit"]++
	if err := m.checkWrite("deposit"); err != nil {
		return common.Hash{}, err
	}
	if option == 0 || !types.ValidStakingTier(int(option-1)) {
		return common.Hash{}, fmt.Errorf("%w: invalid option %d", ErrWouldRevert, option)
	}
	allowance := m.allowances[from]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return common.Hash{}, fmt.Errorf("%w: insufficient allowance", ErrWouldRevert)
	}
	bal := m.balances[m.token][from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return common.Hash{}, fmt.Errorf("%w: insufficient balance", ErrWouldRevert)
	}

	bal.Sub(bal, amount)
	allowance.Sub(allowance, amount)
	tier := types.StakingTiers[option-1]
	m.positions[from] = append(m.positions[from], &mockPosition{
		amount: new(big.Int).Set(amount),
		apy:    tier.APYPercent,
		lock:   tier.LockSeconds(),
		opened: m.now(),
	})
	return m.nextHash(), nil
}

func (m *MockLedger) Withdraw(ctx context.Context, from, staking common.Address, index uint64) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["withdraw"]++
	if err := m.checkWrite("withdraw"); err != nil {
		return common.Hash{}, err
	}
	ps := m.positions[from]
	if index >= uint64(len(ps)) {
		return common.Hash{}, fmt.Errorf("%w: position %d out of range", ErrWouldRevert, index)
	}
	p := ps[index]
	elapsed := uint64(m.now().Sub(p.opened) / time.Second)
	if elapsed < p.lock {
		return common.Hash{}, fmt.Errorf("%w: position %d still locked", ErrWouldRevert, index)
	}

	payout := new(big.Int).Add(p.amount, m.reward(p, elapsed))
	if m.balances[m.token] == nil {
		m.balances[m.token] = make(map[common.Address]*big.Int)
	}
	if m.balances[m.token][from] == nil {
		m.balances[m.token][from] = new(big.Int)
	}
	m.balances[m.token][from].Add(m.balances[m.token][from], payout)
	m.positions[from] = append(ps[:index:index], ps[index+1:]...)
	return m.nextHash(), nil
}

// SendTransaction lets the ledger act as a WalletProvider for code that
// only needs a hash back; it does not decode calldata.
func (m *MockLedger) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["eth_sendTransaction"]++
	if err := m.checkWrite("eth_sendTransaction"); err != nil {
		return common.Hash{}, err
	}
	return m.nextHash(), nil
}

func (m *MockLedger) checkWrite(op string) error {
	if m.rejectErr != nil {
		return &types.WalletRejectedError{Op: op, Err: m.rejectErr}
	}
	if m.WalletChainID != 0 && m.WalletChainID != m.chainID {
		return &types.ChainMismatchError{Expected: m.chainID, Actual: m.WalletChainID}
	}
	return nil
}

func (m *MockLedger) nextHash() common.Hash {
	m.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.nonce)
	return crypto.Keccak256Hash(m.token.Bytes(), buf[:])
}
