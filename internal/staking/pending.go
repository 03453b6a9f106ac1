package staking

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/koshercapital/kosher/internal/state"
	"github.com/koshercapital/kosher/pkg/types"
)

// Durable keys, namespaced per wallet as "<wallet>/<key>". All of them are
// cleared together.
const (
	keyPendingApproval    = "pendingApproval"
	keyApprovalTxHash     = "approvalTxHash"
	keyApprovalAmount     = "approvalAmount"
	keyPendingStakeAmount = "pendingStakeAmount"
	keyPendingStakeTier   = "pendingStakeTier"
	keyPendingNextAction  = "isPendingNextAction"
	keyPendingCreatedAt   = "pendingCreatedAt"
)

var allKeys = []string{
	keyPendingApproval,
	keyApprovalTxHash,
	keyApprovalAmount,
	keyPendingStakeAmount,
	keyPendingStakeTier,
	keyPendingNextAction,
	keyPendingCreatedAt,
}

// approvalKeys are dropped once the allowance is observed; the stake
// fields survive until the deposit lands.
var approvalKeys = []string{keyPendingApproval, keyApprovalTxHash, keyApprovalAmount}

// PendingStore is the typed schema over the durable key/value store. Only
// the Tracker for a wallet writes that wallet's keys.
type PendingStore struct {
	kv state.Store
}

func NewPendingStore(kv state.Store) *PendingStore {
	return &PendingStore{kv: kv}
}

func key(wallet, name string) string {
	return wallet + "/" + name
}

// Load returns the wallet's record, or nil when nothing is pending. A record
// whose fields fail to parse is reported as a SchemaError.
func (p *PendingStore) Load(ctx context.Context, wallet string) (*types.PendingTx, error) {
	vals := make(map[string]string, len(allKeys))
	for _, k := range allKeys {
		v, ok, err := p.kv.Get(ctx, key(wallet, k))
		if err != nil {
			return nil, err
		}
		if ok {
			vals[k] = v
		}
	}

	approval := vals[keyPendingApproval] == "true"
	_, hasStake := vals[keyPendingStakeAmount]
	if !approval && !hasStake {
		return nil, nil
	}

	rec := &types.PendingTx{
		Kind:       types.PendingStake,
		TxHash:     vals[keyApprovalTxHash],
		NextAction: vals[keyPendingNextAction] == "true",
	}
	if approval {
		rec.Kind = types.PendingApproval
	}

	var err error
	if s, ok := vals[keyApprovalAmount]; ok {
		if rec.Amount, err = parseAmount(keyApprovalAmount, s); err != nil {
			return nil, err
		}
	}
	if s, ok := vals[keyPendingStakeAmount]; ok {
		if rec.StakeAmount, err = parseAmount(keyPendingStakeAmount, s); err != nil {
			return nil, err
		}
	}
	if s, ok := vals[keyPendingStakeTier]; ok {
		idx, err := strconv.Atoi(s)
		if err != nil || !types.ValidStakingTier(idx) {
			return nil, &types.SchemaError{Source: "pending store", Reason: "bad " + keyPendingStakeTier + " " + strconv.Quote(s)}
		}
		rec.StakeTierIndex = idx
	}
	if s, ok := vals[keyPendingCreatedAt]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			rec.CreatedAt = ts
		}
	}
	return rec, nil
}

func parseAmount(name, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, &types.SchemaError{Source: "pending store", Reason: fmt.Sprintf("bad %s %q", name, s)}
	}
	return n, nil
}

// SaveApproval persists a freshly submitted approval.
func (p *PendingStore) SaveApproval(ctx context.Context, wallet string, rec *types.PendingTx) error {
	vals := map[string]string{
		key(wallet, keyPendingApproval):   "true",
		key(wallet, keyApprovalTxHash):    rec.TxHash,
		key(wallet, keyPendingNextAction): strconv.FormatBool(rec.NextAction),
		key(wallet, keyPendingCreatedAt):  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.Amount != nil {
		vals[key(wallet, keyApprovalAmount)] = rec.Amount.String()
	}
	if rec.StakeAmount != nil {
		vals[key(wallet, keyPendingStakeAmount)] = rec.StakeAmount.String()
		vals[key(wallet, keyPendingStakeTier)] = strconv.Itoa(rec.StakeTierIndex)
	}
	return p.kv.SetMany(ctx, vals)
}

// MarkApproved drops the approval fields after the allowance is observed.
func (p *PendingStore) MarkApproved(ctx context.Context, wallet string) error {
	keys := make([]string, len(approvalKeys))
	for i, k := range approvalKeys {
		keys[i] = key(wallet, k)
	}
	return p.kv.Delete(ctx, keys...)
}

// ClearNextAction keeps the stake fields but stops automatic resubmission.
func (p *PendingStore) ClearNextAction(ctx context.Context, wallet string) error {
	return state.Set(ctx, p.kv, key(wallet, keyPendingNextAction), "false")
}

// Clear removes every pending key for wallet.
func (p *PendingStore) Clear(ctx context.Context, wallet string) error {
	keys := make([]string, len(allKeys))
	for i, k := range allKeys {
		keys[i] = key(wallet, k)
	}
	return p.kv.Delete(ctx, keys...)
}

// Wallets lists wallets that have any pending key.
func (p *PendingStore) Wallets(ctx context.Context) ([]string, error) {
	keys, err := p.kv.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		i := strings.LastIndexByte(k, '/')
		if i <= 0 {
			continue
		}
		name := k[i+1:]
		if name == keyPendingApproval || name == keyPendingStakeAmount {
			seen[k[:i]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out, nil
}
