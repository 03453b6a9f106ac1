package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/internal/chat"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/session"
	"github.com/koshercapital/kosher/pkg/types"
)

type contextKey string

const (
	ctxSessionKey contextKey = "session"
	ctxRoomKey    contextKey = "room"
)

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(ctxSessionKey).(*session.Session)
	return s
}

func roomFrom(ctx context.Context) chat.Room {
	r, _ := ctx.Value(ctxRoomKey).(chat.Room)
	return r
}

// bearerToken reads "Authorization: Bearer ks_..." or, for WebSocket
// upgrades that cannot set headers, the token query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

func (s *Server) lookupSession(r *http.Request) (*session.Session, bool) {
	if s.deps.Sessions == nil {
		return nil, false
	}
	tok := bearerToken(r)
	if !strings.HasPrefix(tok, session.TokenPrefix) {
		return nil, false
	}
	return s.deps.Sessions.Lookup(tok)
}

// withSession rejects requests without a live wallet session.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Sessions == nil {
			writeUnavailable(w, "wallet sessions")
			return
		}
		sess, ok := s.lookupSession(r)
		if !ok {
			writeError(w, r, session.ErrUnknownSession)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxSessionKey, sess)))
	}
}

// decide resolves the session's tier if it is missing or stale, then guards
// path. A check superseded by an address switch leaves the guard in
// Checking, which Decide reports as loading.
func (s *Server) decide(ctx context.Context, sess *session.Session, path string) access.Decision {
	if sess == nil {
		return s.anonymous.Decide(path)
	}
	if sess.Guard.NeedsCheck() {
		if _, err := sess.Guard.Resolve(ctx); err != nil && !errors.Is(err, access.ErrStaleCheck) {
			logging.Debug("tier check interrupted", logging.Component("api"), logging.Err(err))
		}
	}
	return sess.Guard.Decide(path)
}

// withRoomGuard lets the request through only when the guard allows the
// room's route. Anything else answers 403 with the decision so the front
// end can follow its redirect.
func (s *Server) withRoomGuard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := chat.ParseRoom(r.PathValue("room"))
		if !ok {
			writeError(w, r, &types.ValidationError{Field: "room", Reason: "unknown room"})
			return
		}
		d := s.decide(r.Context(), sessionFrom(r.Context()), room.Route())
		if d.Action != access.ActionAllow {
			writeJSON(w, http.StatusForbidden, guardDenied{
				Error:    "access denied",
				Code:     "insufficient_tier",
				Decision: d,
			})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxRoomKey, room)))
	}
}

type guardDenied struct {
	Error    string          `json:"error"`
	Code     string          `json:"code"`
	Decision access.Decision `json:"decision"`
}
