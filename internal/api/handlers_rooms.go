package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/pkg/types"
)

type messagesResponse struct {
	Room     string              `json:"room"`
	Messages []types.ChatMessage `json:"messages"`
}

// handleListMessages handles GET /v1/rooms/{room}/messages?limit=
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeUnavailable(w, "chat")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, &types.ValidationError{Field: "limit", Reason: "not a number"})
			return
		}
		limit = n
	}
	room := roomFrom(r.Context())
	msgs, err := s.deps.Chat.History(r.Context(), room, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Room: string(room), Messages: msgs})
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// handlePostMessage handles POST /v1/rooms/{room}/messages
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeUnavailable(w, "chat")
		return
	}
	var req postMessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess := sessionFrom(r.Context())
	msg, err := s.deps.Chat.Post(r.Context(), roomFrom(r.Context()), sess.Wallet().Address, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type usernameBody struct {
	Username string `json:"username"`
	Display  string `json:"display,omitempty"`
}

// handleGetUsername handles GET /v1/username
func (s *Server) handleGetUsername(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeUnavailable(w, "chat")
		return
	}
	s.writeUsername(w, r, sessionFrom(r.Context()).Wallet().Address)
}

// writeUsername answers with the stored username and the display name.
func (s *Server) writeUsername(w http.ResponseWriter, r *http.Request, addr common.Address) {
	name, _, err := s.deps.Chat.Username(r.Context(), addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	display, err := s.deps.Chat.DisplayName(r.Context(), addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usernameBody{Username: name, Display: display})
}

// handlePutUsername handles PUT /v1/username
func (s *Server) handlePutUsername(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeUnavailable(w, "chat")
		return
	}
	var req usernameBody
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	addr := sessionFrom(r.Context()).Wallet().Address
	if err := s.deps.Chat.SetUsername(r.Context(), addr, req.Username); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeUsername(w, r, addr)
}
