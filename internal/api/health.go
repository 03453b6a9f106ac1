package api

import (
	"net/http"
	"time"
)

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	WSClients      int    `json:"ws_clients"`
	Reason         string `json:"reason,omitempty"`
}

// handleHealthCheck handles GET /health. No authentication is required.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	resp := HealthResponse{
		Status:  "healthy",
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Version: s.deps.Version,
	}
	if s.deps.Sessions != nil {
		resp.ActiveSessions = s.deps.Sessions.Active()
	}
	if s.deps.Hub != nil {
		resp.WSClients = s.deps.Hub.ClientCount()
	}
	if !running {
		resp.Status = "unhealthy"
		resp.Reason = "server not running"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
