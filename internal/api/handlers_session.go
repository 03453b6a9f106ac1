package api

import (
	"net/http"
	"time"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/internal/session"
	"github.com/koshercapital/kosher/pkg/types"
)

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthChallenge handles POST /v1/auth/challenge
func (s *Server) handleAuthChallenge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeUnavailable(w, "wallet sessions")
		return
	}
	var req challengeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.deps.Sessions.Challenge(req.Address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{Message: c.Message, ExpiresAt: c.ExpiresAt})
}

// SessionResponse describes a wallet session.
type SessionResponse struct {
	Token     string              `json:"token,omitempty"`
	Wallet    types.WalletSession `json:"wallet"`
	ExpiresAt time.Time           `json:"expires_at"`
	Guard     access.Status       `json:"guard"`
}

func sessionResponse(sess *session.Session, withToken bool) SessionResponse {
	resp := SessionResponse{
		Wallet:    sess.Wallet(),
		ExpiresAt: sess.ExpiresAt,
		Guard:     sess.Guard.Status(),
	}
	if withToken {
		resp.Token = sess.Token
	}
	return resp
}

// handleAuthVerify handles POST /v1/auth/verify. A bearer token on the
// request switches that session to the newly proven address.
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeUnavailable(w, "wallet sessions")
		return
	}
	var req session.VerifyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Token == "" {
		if cur, ok := s.lookupSession(r); ok {
			req.Token = cur.Token
		}
	}
	sess, err := s.deps.Sessions.Verify(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Settle the tier now so the first navigation does not show a loader.
	s.decide(r.Context(), sess, access.HomeRoute)
	writeJSON(w, http.StatusOK, sessionResponse(sess, true))
}

// handleGetSession handles GET /v1/session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse(sessionFrom(r.Context()), false))
}

// handleDeleteSession handles DELETE /v1/session (wallet disconnect)
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if err := s.deps.Sessions.Disconnect(sess.Token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chainRequest struct {
	ChainID uint64 `json:"chain_id"`
}

// handleSetChain handles PUT /v1/session/chain (wallet network switch)
func (s *Server) handleSetChain(w http.ResponseWriter, r *http.Request) {
	var req chainRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ChainID == 0 {
		writeError(w, r, &types.ValidationError{Field: "chain_id", Reason: "required"})
		return
	}
	sess := sessionFrom(r.Context())
	if err := s.deps.Sessions.SetChain(r.Context(), sess.Token, req.ChainID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess, false))
}

// TierResponse is the balance and tier of the session's wallet.
type TierResponse struct {
	Address   string           `json:"address"`
	Tier      types.AccessTier `json:"tier"`
	TierName  string           `json:"tier_name"`
	Balance   string           `json:"balance"`
	Degraded  bool             `json:"degraded,omitempty"`
	CheckedAt time.Time        `json:"checked_at"`
}

// handleTier handles GET /v1/tier. ?refresh=1 forces a new balance read.
func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if sess.Guard.NeedsCheck() || r.URL.Query().Get("refresh") == "1" {
		if _, err := sess.Guard.Resolve(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	st := sess.Guard.Status()
	resp := TierResponse{
		Address:   st.Session.Address.Hex(),
		Tier:      st.Tier,
		TierName:  st.Tier.DisplayName(),
		Degraded:  st.Degraded,
		CheckedAt: st.CheckedAt,
	}
	if st.Balance != nil {
		resp.Balance = st.Balance.Formatted().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRoute handles GET /v1/route?path=. Visitors without a session get
// the disconnected answer.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, r, &types.ValidationError{Field: "path", Reason: "required"})
		return
	}
	sess, _ := s.lookupSession(r)
	writeJSON(w, http.StatusOK, s.decide(r.Context(), sess, path))
}
