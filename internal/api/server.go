// Package api serves the gateway's REST and WebSocket surface.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/internal/assistant"
	"github.com/koshercapital/kosher/internal/chat"
	"github.com/koshercapital/kosher/internal/feeds"
	"github.com/koshercapital/kosher/internal/funds"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/metrics"
	"github.com/koshercapital/kosher/internal/session"
	"github.com/koshercapital/kosher/internal/staking"
	"github.com/koshercapital/kosher/internal/util"
)

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// Requests per minute per client IP; 0 disables limiting.
	RateLimit      int `yaml:"rate_limit"`
	RateLimitBurst int `yaml:"rate_limit_burst"`

	// Only enable behind a trusted reverse proxy.
	TrustProxy bool `yaml:"trust_proxy"`

	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	EnableWebSocket bool `yaml:"enable_websocket"`
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		HTTPAddr:          "127.0.0.1:8645",
		RateLimit:         120,
		RateLimitBurst:    30,
		EnableCORS:        true,
		AllowedOrigins:    []string{"http://localhost:3000"},
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		EnableWebSocket:   true,
	}
}

// Deps are the components the API exposes. Nil optional components answer
// 503.
type Deps struct {
	Sessions  *session.Manager
	Routes    *access.RouteTable
	Staking   *staking.Manager
	Feeds     *feeds.Client
	Funds     *funds.Service
	Chat      *chat.Service
	Assistant *assistant.OpenAI
	Grok      *assistant.Grok
	Metrics   *metrics.Collector
	Hub       *WebSocketHub
	Version   string
}

// Server is the gateway HTTP API server.
type Server struct {
	config     *ServerConfig
	deps       Deps
	anonymous  *access.Guard
	httpServer *http.Server
	startedAt  time.Time

	mu      sync.RWMutex
	running bool

	rateLimiters    sync.Map
	rateLimitCancel context.CancelFunc
}

type rateLimiterEntry struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewServer(cfg *ServerConfig, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if deps.Routes == nil {
		deps.Routes = access.DefaultRoutes()
	}
	if deps.Hub == nil && cfg.EnableWebSocket {
		deps.Hub = NewWebSocketHub(deps.Metrics)
	}
	return &Server{
		config: cfg,
		deps:   deps,
		// Never connected, so it only ever answers for visitors.
		anonymous: access.NewGuard(nil, deps.Routes),
		startedAt: time.Now(),
	}
}

// Hub returns the WebSocket hub, or nil when disabled.
func (s *Server) Hub() *WebSocketHub {
	return s.deps.Hub
}

// Start listens on HTTPAddr in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.config.RateLimit > 0 {
		rlCtx, cancel := context.WithCancel(ctx)
		s.rateLimitCancel = cancel
		util.SafeGoWithName("rate-limiter-cleanup", func() { s.rateLimiterCleanup(rlCtx) })
	}

	ln, err := net.Listen("tcp", s.config.HTTPAddr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if s.rateLimitCancel != nil {
			s.rateLimitCancel()
		}
		return fmt.Errorf("listen %s: %w", s.config.HTTPAddr, err)
	}

	// WriteTimeout stays 0: WebSocket and streaming replies are long-lived.
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	util.SafeGoWithName("http-server", func() {
		logging.Info("HTTP API server starting", "addr", ln.Addr().String(), logging.Component("api"))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error", logging.Err(err), logging.Component("api"))
		}
	})
	return nil
}

// Stop shuts the server down and disconnects WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("HTTP server shutdown: %w", shutdownErr)
		}
	}
	if s.rateLimitCancel != nil {
		s.rateLimitCancel()
	}
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}

	logging.Info("API server stopped", logging.Component("api"))
	return err
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.withMetrics(pattern, s.withRateLimit(h)))
	}
	authed := func(pattern string, h http.HandlerFunc) {
		handle(pattern, s.withSession(h))
	}

	// Wallet connection
	handle("POST /v1/auth/challenge", s.handleAuthChallenge)
	handle("POST /v1/auth/verify", s.handleAuthVerify)
	authed("GET /v1/session", s.handleGetSession)
	authed("DELETE /v1/session", s.handleDeleteSession)
	authed("PUT /v1/session/chain", s.handleSetChain)

	// Access
	authed("GET /v1/tier", s.handleTier)
	handle("GET /v1/route", s.handleRoute)

	// Rooms
	authed("GET /v1/rooms/{room}/messages", s.withRoomGuard(s.handleListMessages))
	authed("POST /v1/rooms/{room}/messages", s.withRoomGuard(s.handlePostMessage))
	authed("GET /v1/username", s.handleGetUsername)
	authed("PUT /v1/username", s.handlePutUsername)
	if s.config.EnableWebSocket && s.deps.Hub != nil {
		handle("GET /v1/ws", s.handleWebSocket)
	}

	// Staking
	authed("GET /v1/staking", s.handleStakingDashboard)
	authed("POST /v1/staking/approve", s.handleApprove)
	authed("POST /v1/staking/stake", s.handleStake)
	authed("POST /v1/staking/unstake", s.handleUnstake)
	authed("DELETE /v1/staking/pending", s.handleCancelPending)
	handle("GET /v1/staking/tiers", s.handleStakingTiers)

	// Community data
	handle("GET /v1/prices", s.handlePrices)
	handle("GET /v1/treasury", s.handleTreasury)
	handle("GET /v1/holders", s.handleHolders)
	authed("POST /v1/funds/apply", s.handleFundApply)
	handle("POST /v1/assistant/chat", s.handleAssistantChat)

	mux.HandleFunc("GET /health", s.handleHealthCheck)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	// CORS wraps the whole mux so preflights to unknown paths still get
	// headers instead of a bare 404.
	if s.config.EnableCORS {
		return s.globalCORSMiddleware(mux)
	}
	return mux
}

func (s *Server) globalCORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin accepts WebSocket upgrades from non-browser clients and from
// the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
			return
		}
	}
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush and Unwrap keep streaming and hijacking working through the
// recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withMetrics(pattern string, next http.HandlerFunc) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	route := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		route = pattern[i+1:]
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.deps.Metrics.RecordHTTP(route, rec.status, time.Since(start))
	})
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.config.RateLimit <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := s.extractClientIP(r)
		if !s.getRateLimiter(ip).Allow() {
			logging.Warn("rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method,
				logging.Component("api"))
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
			return
		}
		next(w, r)
	}
}

func (s *Server) getRateLimiter(ip string) *rate.Limiter {
	now := time.Now()
	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.mu.Lock()
		entry.lastSeen = now
		entry.mu.Unlock()
		return entry.limiter
	}

	rps := rate.Limit(float64(s.config.RateLimit) / 60.0)
	entry := &rateLimiterEntry{
		limiter:  rate.NewLimiter(rps, s.config.RateLimitBurst),
		lastSeen: now,
	}
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

// extractClientIP trusts proxy headers only when TrustProxy is set.
func (s *Server) extractClientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
			return strings.TrimSpace(cfIP)
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) rateLimiterCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupRateLimiters(time.Now().Add(-10 * time.Minute))
		}
	}
}

func (s *Server) cleanupRateLimiters(staleBefore time.Time) int {
	cleaned := 0
	s.rateLimiters.Range(func(key, value any) bool {
		entry := value.(*rateLimiterEntry)
		entry.mu.Lock()
		stale := entry.lastSeen.Before(staleBefore)
		entry.mu.Unlock()
		if stale {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})
	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters", "count", cleaned, logging.Component("api"))
	}
	return cleaned
}
