package api

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/koshercapital/kosher/internal/staking"
	"github.com/koshercapital/kosher/pkg/types"
)

const defaultTokenDecimals = 18

// tracker returns the session wallet's tracker, attaching it if the
// connect-time attach has not happened yet.
func (s *Server) tracker(r *http.Request) (*staking.Tracker, error) {
	wallet := sessionFrom(r.Context()).Wallet()
	if t, ok := s.deps.Staking.Get(wallet.Address); ok {
		return t, nil
	}
	return s.deps.Staking.Attach(r.Context(), wallet)
}

func trackerDecimals(t *staking.Tracker) uint8 {
	if d := t.Dashboard(); d != nil && d.Balance.Decimals != 0 {
		return d.Balance.Decimals
	}
	return defaultTokenDecimals
}

// parseAmount reads a decimal token amount into base units. Empty means
// "not given" and yields nil.
func parseAmount(field, s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, &types.ValidationError{Field: field, Reason: "not a decimal number"}
	}
	if !d.IsPositive() {
		return nil, &types.ValidationError{Field: field, Reason: "must be greater than zero"}
	}
	raw := types.ParseUnits(d, decimals)
	if raw.Sign() == 0 {
		return nil, &types.ValidationError{Field: field, Reason: "below token precision"}
	}
	return raw, nil
}

type txResponse struct {
	TxHash    string                  `json:"tx_hash"`
	Dashboard *types.StakingDashboard `json:"dashboard,omitempty"`
}

// handleStakingDashboard handles GET /v1/staking
func (s *Server) handleStakingDashboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Staking == nil {
		writeUnavailable(w, "staking")
		return
	}
	t, err := s.tracker(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := t.Refresh(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type approveRequest struct {
	// Amount in whole tokens; empty approves the full balance.
	Amount     string `json:"amount"`
	StakeAfter bool   `json:"stake_after"`
	TierIndex  int    `json:"tier_index"`
}

// handleApprove handles POST /v1/staking/approve
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.deps.Staking == nil {
		writeUnavailable(w, "staking")
		return
	}
	var req approveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.tracker(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, trackerDecimals(t))
	if err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := t.SubmitApproval(r.Context(), staking.ApprovalRequest{
		Amount:     amount,
		StakeAfter: req.StakeAfter,
		TierIndex:  req.TierIndex,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, txResponse{TxHash: hash.Hex(), Dashboard: t.Dashboard()})
}

type stakeRequest struct {
	Amount    string `json:"amount"`
	TierIndex int    `json:"tier_index"`
}

// handleStake handles POST /v1/staking/stake
func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	if s.deps.Staking == nil {
		writeUnavailable(w, "staking")
		return
	}
	var req stakeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.tracker(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, trackerDecimals(t))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if amount == nil {
		writeError(w, r, &types.ValidationError{Field: "amount", Reason: "required"})
		return
	}
	hash, err := t.SubmitStake(r.Context(), amount, req.TierIndex)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, txResponse{TxHash: hash.Hex(), Dashboard: t.Dashboard()})
}

type unstakeRequest struct {
	Index *uint64 `json:"index"`
}

// handleUnstake handles POST /v1/staking/unstake
func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	if s.deps.Staking == nil {
		writeUnavailable(w, "staking")
		return
	}
	var req unstakeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Index == nil {
		writeError(w, r, &types.ValidationError{Field: "index", Reason: "required"})
		return
	}
	t, err := s.tracker(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := t.SubmitUnstake(r.Context(), *req.Index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, txResponse{TxHash: hash.Hex(), Dashboard: t.Dashboard()})
}

// handleCancelPending handles DELETE /v1/staking/pending
func (s *Server) handleCancelPending(w http.ResponseWriter, r *http.Request) {
	if s.deps.Staking == nil {
		writeUnavailable(w, "staking")
		return
	}
	t, err := s.tracker(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := t.Cancel(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStakingTiers handles GET /v1/staking/tiers
func (s *Server) handleStakingTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.StakingTiers)
}
