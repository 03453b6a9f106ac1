package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/koshercapital/kosher/internal/assistant"
	"github.com/koshercapital/kosher/internal/feeds"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

// handlePrices handles GET /v1/prices
func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feeds == nil {
		writeUnavailable(w, "price feeds")
		return
	}
	p, err := s.deps.Feeds.Prices(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type treasuryResponse struct {
	Balances     *feeds.Treasury    `json:"balances"`
	Transactions []feeds.TreasuryTx `json:"transactions"`
	Stale        bool               `json:"stale,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// handleTreasury handles GET /v1/treasury. Balances are required;
// transactions degrade to a warning.
func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feeds == nil {
		writeUnavailable(w, "treasury feed")
		return
	}
	bal, err := s.deps.Feeds.Treasury(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := treasuryResponse{Balances: bal, Stale: bal.Stale, Transactions: []feeds.TreasuryTx{}}
	txs, stale, err := s.deps.Feeds.Transactions(r.Context())
	if err != nil {
		resp.Warnings = append(resp.Warnings, "transactions unavailable: "+err.Error())
	} else {
		resp.Transactions = txs
		resp.Stale = resp.Stale || stale
	}
	writeJSON(w, http.StatusOK, resp)
}

type holdersResponse struct {
	Holders []feeds.Holder `json:"holders"`
	Stale   bool           `json:"stale,omitempty"`
}

// handleHolders handles GET /v1/holders
func (s *Server) handleHolders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feeds == nil {
		writeUnavailable(w, "holders feed")
		return
	}
	holders, stale, err := s.deps.Feeds.Holders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holdersResponse{Holders: holders, Stale: stale})
}

// handleFundApply handles POST /v1/funds/apply
func (s *Server) handleFundApply(w http.ResponseWriter, r *http.Request) {
	if s.deps.Funds == nil {
		writeUnavailable(w, "fund applications")
		return
	}
	var app types.FundApplication
	if err := readJSON(r, &app); err != nil {
		writeError(w, r, err)
		return
	}
	receipt, err := s.deps.Funds.Apply(r.Context(), sessionFrom(r.Context()).Wallet().Address, app)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type assistantRequest struct {
	Messages []assistant.Turn `json:"messages"`
	Stream   bool             `json:"stream"`
}

type assistantResponse struct {
	Reply    string `json:"reply"`
	Degraded bool   `json:"degraded,omitempty"`
}

// handleAssistantChat handles POST /v1/assistant/chat. Upstream failures
// still answer 200 with a canned in-character reply.
func (s *Server) handleAssistantChat(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, r, &types.ValidationError{Field: "messages", Reason: "at least one message required"})
		return
	}

	if req.Stream && s.deps.Grok != nil {
		s.streamAssistant(w, r, req.Messages)
		return
	}
	if s.deps.Assistant == nil {
		writeUnavailable(w, "assistant")
		return
	}
	reply, err := s.deps.Assistant.Reply(r.Context(), req.Messages)
	if err != nil {
		logging.Warn("assistant completion failed", logging.Component("api"), logging.Err(err))
	}
	writeJSON(w, http.StatusOK, assistantResponse{Reply: reply, Degraded: err != nil})
}

// streamAssistant relays Grok chunks as server-sent events.
func (s *Server) streamAssistant(w http.ResponseWriter, r *http.Request, turns []assistant.Turn) {
	stream, err := s.deps.Grok.Stream(r.Context(), assistant.FromHistory(turns))
	if err != nil {
		logging.Warn("assistant stream failed", logging.Component("api"), logging.Err(err))
		writeJSON(w, http.StatusOK, assistantResponse{Reply: assistant.FallbackReply(err), Degraded: true})
		return
	}
	defer stream.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := stream.Recv()
		if err != nil {
			// io.EOF is the normal end; anything else ends the reply early.
			fmt.Fprint(w, "data: [DONE]\n\n")
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		payload, _ := json.Marshal(map[string]string{"content": chunk})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
}
