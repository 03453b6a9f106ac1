package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/pkg/types"
)

// PositionDetail is the raw on-chain view of one staked position.
type PositionDetail struct {
	Amount         *big.Int
	APY            uint64
	Reward         *big.Int
	ElapsedSeconds uint64
}

// Reader performs idempotent, side-effect-free chain reads. Transport
// failures are returned as *types.NetworkError; callers decide whether to
// degrade.
type Reader interface {
	ChainID(ctx context.Context) (uint64, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	StakedPositionCount(ctx context.Context, staking, owner common.Address) (uint64, error)
	StakedPositionDetail(ctx context.Context, staking, owner common.Address, index uint64) (*PositionDetail, error)
	TotalStaked(ctx context.Context, staking, owner common.Address) (*big.Int, error)
}

// Caller is what EthReader needs from a connection.
type Caller interface {
	bind.ContractCaller
	ChainID(ctx context.Context) (uint64, error)
}

// EthReader implements Reader with ABI-bound eth_call requests.
type EthReader struct {
	caller Caller
}

// NewReader creates a reader over caller, usually a *Client.
func NewReader(caller Caller) *EthReader {
	return &EthReader{caller: caller}
}

func (r *EthReader) ChainID(ctx context.Context) (uint64, error) {
	return r.caller.ChainID(ctx)
}

func (r *EthReader) call(ctx context.Context, parsed abi.ABI, addr common.Address, method string, args ...interface{}) (interface{}, error) {
	contract := bind.NewBoundContract(addr, parsed, r.caller, nil, nil)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, &types.NetworkError{Op: method, Err: err}
	}
	if len(out) == 0 {
		return nil, &types.SchemaError{Source: "rpc", Reason: method + " returned no values"}
	}
	return out[0], nil
}

func (r *EthReader) callBig(ctx context.Context, parsed abi.ABI, addr common.Address, method string, args ...interface{}) (*big.Int, error) {
	v, err := r.call(ctx, parsed, addr, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, &types.SchemaError{Source: "rpc", Reason: fmt.Sprintf("%s returned %T, want uint256", method, v)}
	}
	return n, nil
}

func (r *EthReader) callUint64(ctx context.Context, parsed abi.ABI, addr common.Address, method string, args ...interface{}) (uint64, error) {
	n, err := r.callBig(ctx, parsed, addr, method, args...)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, &types.SchemaError{Source: "rpc", Reason: method + " overflows uint64"}
	}
	return n.Uint64(), nil
}

// TokenBalance returns balanceOf(owner).
func (r *EthReader) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return r.callBig(ctx, tokenABI, token, "balanceOf", owner)
}

// TokenDecimals returns decimals().
func (r *EthReader) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	v, err := r.call(ctx, tokenABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := v.(uint8)
	if !ok {
		return 0, &types.SchemaError{Source: "rpc", Reason: fmt.Sprintf("decimals returned %T", v)}
	}
	return d, nil
}

// Allowance returns allowance(owner, spender).
func (r *EthReader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return r.callBig(ctx, tokenABI, token, "allowance", owner, spender)
}

// StakedPositionCount returns the number of positions owner has opened.
func (r *EthReader) StakedPositionCount(ctx context.Context, staking, owner common.Address) (uint64, error) {
	return r.callUint64(ctx, stakingABI, staking, "getStakedItemLength", owner)
}

// StakedPositionDetail reads the four per-position getters for index.
func (r *EthReader) StakedPositionDetail(ctx context.Context, staking, owner common.Address, index uint64) (*PositionDetail, error) {
	idx := new(big.Int).SetUint64(index)

	amount, err := r.callBig(ctx, stakingABI, staking, "getStakedItemAmount", owner, idx)
	if err != nil {
		return nil, err
	}
	apy, err := r.callUint64(ctx, stakingABI, staking, "getStakedItemAPY", owner, idx)
	if err != nil {
		return nil, err
	}
	reward, err := r.callBig(ctx, stakingABI, staking, "getStakedItemReward", owner, idx)
	if err != nil {
		return nil, err
	}
	elapsed, err := r.callUint64(ctx, stakingABI, staking, "getStakedItemElapsed", owner, idx)
	if err != nil {
		return nil, err
	}

	return &PositionDetail{
		Amount:         amount,
		APY:            apy,
		Reward:         reward,
		ElapsedSeconds: elapsed,
	}, nil
}

// TotalStaked returns the sum of owner's open positions.
func (r *EthReader) TotalStaked(ctx context.Context, staking, owner common.Address) (*big.Int, error) {
	return r.callBig(ctx, stakingABI, staking, "getStakedTokens", owner)
}
