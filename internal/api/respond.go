package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/koshercapital/kosher/internal/assistant"
	"github.com/koshercapital/kosher/internal/chain"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/session"
	"github.com/koshercapital/kosher/internal/staking"
	"github.com/koshercapital/kosher/pkg/types"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func readJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &types.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("write response", logging.Err(err), logging.Component("api"))
	}
}

func writeUnavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{
		Error: fmt.Sprintf("%s not configured", what),
		Code:  "unavailable",
	})
}

// writeError maps err onto a status code and a stable error code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	var ve *types.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status >= 500 {
		logging.Warn("request failed",
			logging.Component("api"),
			logging.Route(r.URL.Path),
			"status", status,
			logging.Err(err),
		)
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	var (
		ve *types.ValidationError
		wr *types.WalletRejectedError
		cm *types.ChainMismatchError
		ne *types.NetworkError
		se *types.SchemaError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &wr):
		return http.StatusConflict, "wallet_rejected"
	case errors.As(err, &cm):
		return http.StatusPreconditionFailed, "chain_mismatch"
	case errors.Is(err, types.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, types.ErrApprovalPending):
		return http.StatusConflict, "approval_pending"
	case errors.Is(err, types.ErrInsufficientTier):
		return http.StatusForbidden, "insufficient_tier"
	case errors.Is(err, types.ErrNotConnected),
		errors.Is(err, session.ErrUnknownSession),
		errors.Is(err, session.ErrNoChallenge),
		errors.Is(err, session.ErrSignatureInvalid):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, chain.ErrWouldRevert):
		return http.StatusUnprocessableEntity, "would_revert"
	case errors.Is(err, assistant.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.As(err, &se):
		return http.StatusBadGateway, "schema"
	case errors.As(err, &ne):
		return http.StatusBadGateway, "network"
	case errors.Is(err, chain.ErrNoWallet):
		return http.StatusServiceUnavailable, "no_wallet"
	case errors.Is(err, staking.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
