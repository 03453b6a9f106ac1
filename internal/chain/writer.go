package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

// ErrWouldRevert is returned when the pre-flight eth_call of a write fails.
var ErrWouldRevert = errors.New("transaction would revert")

// ErrNoWallet is returned by writes when no wallet provider is configured.
var ErrNoWallet = errors.New("no wallet provider configured")

// NoWallet is the WalletProvider of a read-only gateway.
type NoWallet struct{}

func (NoWallet) ChainID(ctx context.Context) (uint64, error) { return 0, ErrNoWallet }

func (NoWallet) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	return common.Hash{}, ErrNoWallet
}

// Writer submits the three state-changing calls the gateway needs. Each
// returns the transaction hash once the wallet provider accepts it.
type Writer interface {
	Approve(ctx context.Context, from, token, spender common.Address, amount *big.Int) (common.Hash, error)
	Deposit(ctx context.Context, from, staking common.Address, amount *big.Int, option uint64) (common.Hash, error)
	Withdraw(ctx context.Context, from, staking common.Address, index uint64) (common.Hash, error)
}

// Simulator runs an eth_call; *Client satisfies it.
type Simulator interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractWriter packs calldata and forwards it to a WalletProvider after
// confirming the wallet is on the expected chain.
type ContractWriter struct {
	wallet  WalletProvider
	sim     Simulator
	chainID uint64
}

// NewContractWriter creates a writer. sim may be nil to skip pre-flight
// simulation.
func NewContractWriter(wallet WalletProvider, sim Simulator, chainID uint64) *ContractWriter {
	return &ContractWriter{wallet: wallet, sim: sim, chainID: chainID}
}

func (w *ContractWriter) Approve(ctx context.Context, from, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	return w.send(ctx, tokenABI, "approve", from, token, spender, amount)
}

func (w *ContractWriter) Deposit(ctx context.Context, from, staking common.Address, amount *big.Int, option uint64) (common.Hash, error) {
	return w.send(ctx, stakingABI, "deposit", from, staking, amount, new(big.Int).SetUint64(option))
}

func (w *ContractWriter) Withdraw(ctx context.Context, from, staking common.Address, index uint64) (common.Hash, error) {
	return w.send(ctx, stakingABI, "withdraw", from, staking, new(big.Int).SetUint64(index))
}

func (w *ContractWriter) send(ctx context.Context, parsed abi.ABI, method string, from, to common.Address, args ...interface{}) (common.Hash, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	if w.chainID != 0 {
		id, err := w.wallet.ChainID(ctx)
		if err != nil {
			return common.Hash{}, err
		}
		if id != w.chainID {
			return common.Hash{}, &types.ChainMismatchError{Expected: w.chainID, Actual: id}
		}
	}

	if w.sim != nil {
		msg := ethereum.CallMsg{From: from, To: &to, Data: data}
		if _, err := w.sim.CallContract(ctx, msg, nil); err != nil {
			return common.Hash{}, fmt.Errorf("%w: %s: %v", ErrWouldRevert, method, err)
		}
	}

	hash, err := w.wallet.SendTransaction(ctx, TxRequest{From: from, To: to, Data: data})
	if err != nil {
		return common.Hash{}, err
	}

	logging.Debug("transaction sent",
		logging.Component("chain"),
		"method", method,
		logging.Wallet(from.Hex()),
		logging.TxHash(hash.Hex()),
	)
	return hash, nil
}
