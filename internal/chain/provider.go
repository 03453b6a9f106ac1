package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/koshercapital/kosher/pkg/types"
)

// EIP-1193 "user rejected request".
const userRejectedCode = 4001

// TxRequest is an unsigned transaction handed to the wallet provider.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// WalletProvider signs and broadcasts on behalf of the connected wallet.
// The gateway never sees keys.
type WalletProvider interface {
	ChainID(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}

// RPCWallet talks to an external signer (clef, a browser bridge, or a node
// with unlocked accounts) over JSON-RPC.
type RPCWallet struct {
	client *rpc.Client
}

// DialWallet connects to the signer at url.
func DialWallet(ctx context.Context, url string) (*RPCWallet, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, &types.NetworkError{Op: "dial wallet", Err: err}
	}
	return &RPCWallet{client: client}, nil
}

// Close closes the connection
func (w *RPCWallet) Close() {
	w.client.Close()
}

// ChainID returns the network the signer is currently on.
func (w *RPCWallet) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Big
	if err := w.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, classifyWalletError("eth_chainId", err)
	}
	return (*big.Int)(&id).Uint64(), nil
}

// SendTransaction asks the signer to sign and broadcast req.
func (w *RPCWallet) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	args := map[string]interface{}{
		"from": req.From,
		"to":   req.To,
		"data": hexutil.Bytes(req.Data),
	}
	if req.Value != nil {
		args["value"] = (*hexutil.Big)(req.Value)
	}

	var hash common.Hash
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, classifyWalletError("eth_sendTransaction", err)
	}
	return hash, nil
}

// classifyWalletError maps signer failures onto the error taxonomy:
// declines become WalletRejected, transport failures NetworkError, and
// other JSON-RPC errors pass through wrapped.
func classifyWalletError(op string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Error())
		if rpcErr.ErrorCode() == userRejectedCode ||
			strings.Contains(msg, "denied") || strings.Contains(msg, "rejected") {
			return &types.WalletRejectedError{Op: op, Err: err}
		}
		return err
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return &types.NetworkError{Op: op, Status: httpErr.StatusCode, Err: err}
	}
	return &types.NetworkError{Op: op, Err: err}
}
