// Package session connects wallets to the gateway: a signed challenge proves
// control of an address, and each resulting session carries its own route
// guard.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/util"
	"github.com/koshercapital/kosher/pkg/types"
)

// TokenPrefix marks gateway session tokens.
const TokenPrefix = "ks_"

var (
	ErrNoChallenge      = errors.New("no pending challenge for address")
	ErrSignatureInvalid = errors.New("signature does not match address")
	ErrUnknownSession   = errors.New("unknown or expired session")
)

// Listener is told when a wallet gains its first session or loses its last.
type Listener interface {
	WalletConnected(ctx context.Context, session types.WalletSession)
	WalletDisconnected(addr common.Address)
}

// Observer reports the live session count.
type Observer interface {
	SetActiveSessions(n int)
}

// Config tunes challenge and session lifetimes.
type Config struct {
	AppName         string
	ChallengeTTL    time.Duration
	SessionTTL      time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		AppName:         "Kosher Capital",
		ChallengeTTL:    5 * time.Minute,
		SessionTTL:      12 * time.Hour,
		CleanupInterval: time.Minute,
	}
}

// Challenge is a message the wallet must personal_sign.
type Challenge struct {
	Address   string    `json:"address"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is one connected front end.
type Session struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Guard     *access.Guard

	mu     sync.Mutex
	wallet types.WalletSession
}

// Wallet returns the session's current wallet state.
func (s *Session) Wallet() types.WalletSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet
}

func (s *Session) setWallet(w types.WalletSession) {
	s.mu.Lock()
	s.wallet = w
	s.mu.Unlock()
	s.Guard.Connect(w)
}

// VerifyRequest completes a challenge. A non-empty Token switches that
// existing session to Address instead of opening a new one.
type VerifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	ChainID   uint64 `json:"chain_id"`
	Token     string `json:"token,omitempty"`
}

// Manager owns challenges and sessions.
type Manager struct {
	cfg      Config
	newGuard func() *access.Guard
	listener Listener
	observer Observer
	now      func() time.Time

	mu         sync.Mutex
	challenges map[string]*Challenge
	sessions   map[string]*Session

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewManager starts the expiry loop; Close stops it.
func NewManager(cfg Config, newGuard func() *access.Guard, listener Listener, observer Observer) *Manager {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	m := &Manager{
		cfg:        cfg,
		newGuard:   newGuard,
		listener:   listener,
		observer:   observer,
		now:        time.Now,
		challenges: make(map[string]*Challenge),
		sessions:   make(map[string]*Session),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	util.SafeGoWithName("session-cleanup", m.cleanupLoop)
	return m
}

// Challenge issues a signing challenge for address. An unexpired challenge
// is returned as-is so repeated requests cannot overwrite it.
func (m *Manager) Challenge(address string) (*Challenge, error) {
	if !common.IsHexAddress(address) {
		return nil, &types.ValidationError{Field: "address", Reason: "not a hex address"}
	}
	key := strings.ToLower(address)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if c, ok := m.challenges[key]; ok && now.Before(c.ExpiresAt) {
		return c, nil
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	c := &Challenge{
		Address: key,
		Message: fmt.Sprintf("Sign this message to connect to %s.\n\nWallet: %s\nNonce: %s\nIssued: %s",
			m.cfg.AppName, key, hex.EncodeToString(nonce), now.UTC().Format(time.RFC3339)),
		ExpiresAt: now.Add(m.cfg.ChallengeTTL),
	}
	m.challenges[key] = c

	logging.Debug("wallet challenge created", logging.Component("session"), logging.Wallet(key))
	return c, nil
}

// Verify checks the signature over the pending challenge and opens (or
// switches) a session. The challenge is single-use.
func (m *Manager) Verify(ctx context.Context, req VerifyRequest) (*Session, error) {
	if !common.IsHexAddress(req.Address) {
		return nil, &types.ValidationError{Field: "address", Reason: "not a hex address"}
	}
	key := strings.ToLower(req.Address)

	m.mu.Lock()
	c, ok := m.challenges[key]
	if !ok || m.now().After(c.ExpiresAt) {
		m.mu.Unlock()
		return nil, ErrNoChallenge
	}
	m.mu.Unlock()

	addr, err := RecoverSigner(c.Message, req.Signature)
	if err != nil {
		return nil, err
	}
	if types.WalletKey(addr) != key {
		logging.Warn("wallet signature mismatch",
			logging.Component("session"),
			"claimed", key,
			"recovered", types.WalletKey(addr),
		)
		return nil, ErrSignatureInvalid
	}

	m.mu.Lock()
	if cur, ok := m.challenges[key]; !ok || cur != c {
		m.mu.Unlock()
		return nil, ErrNoChallenge
	}
	delete(m.challenges, key)
	m.mu.Unlock()

	wallet := types.WalletSession{Address: addr, IsConnected: true, ChainID: req.ChainID}
	if req.Token != "" {
		return m.switchWallet(ctx, req.Token, wallet)
	}
	return m.open(ctx, wallet)
}

func (m *Manager) open(ctx context.Context, wallet types.WalletSession) (*Session, error) {
	tokenBytes := make([]byte, 24)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	now := m.now()
	s := &Session{
		Token:     TokenPrefix + hex.EncodeToString(tokenBytes),
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.SessionTTL),
		Guard:     m.newGuard(),
	}
	s.setWallet(wallet)

	m.mu.Lock()
	first := m.walletSessionsLocked(wallet.Address) == 0
	m.sessions[s.Token] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.report(n)
	// Chain ID updates reach an already attached tracker too.
	if m.listener != nil {
		m.listener.WalletConnected(ctx, wallet)
	}
	logging.Info("wallet connected",
		logging.Component("session"),
		logging.Wallet(wallet.Address.Hex()),
		"chain_id", wallet.ChainID,
		"first_session", first,
	)
	return s, nil
}

func (m *Manager) switchWallet(ctx context.Context, token string, wallet types.WalletSession) (*Session, error) {
	s, ok := m.Lookup(token)
	if !ok {
		return nil, ErrUnknownSession
	}
	prev := s.Wallet()
	s.setWallet(wallet)

	if m.listener != nil {
		m.listener.WalletConnected(ctx, wallet)
		if prev.Address != wallet.Address && !m.hasWallet(prev.Address) {
			m.listener.WalletDisconnected(prev.Address)
		}
	}
	logging.Info("wallet switched",
		logging.Component("session"),
		"from", types.WalletKey(prev.Address),
		logging.Wallet(wallet.Address.Hex()),
	)
	return s, nil
}

// SetChain records a network switch reported by the wallet provider.
func (m *Manager) SetChain(ctx context.Context, token string, chainID uint64) error {
	s, ok := m.Lookup(token)
	if !ok {
		return ErrUnknownSession
	}
	w := s.Wallet()
	w.ChainID = chainID
	s.setWallet(w)
	if m.listener != nil {
		m.listener.WalletConnected(ctx, w)
	}
	return nil
}

// Lookup returns the live session for token.
func (m *Manager) Lookup(token string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || m.now().After(s.ExpiresAt) {
		return nil, false
	}
	return s, true
}

// Disconnect ends the session. The guard moves to Disconnected and the
// wallet's tracker is detached once its last session is gone.
func (m *Manager) Disconnect(token string) error {
	m.mu.Lock()
	s, ok := m.sessions[token]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	delete(m.sessions, token)
	n := len(m.sessions)
	m.mu.Unlock()

	m.closeSession(s)
	m.report(n)
	return nil
}

func (m *Manager) closeSession(s *Session) {
	addr := s.Wallet().Address
	s.Guard.Disconnect()
	if m.listener != nil && !m.hasWallet(addr) {
		m.listener.WalletDisconnected(addr)
	}
	logging.Info("wallet disconnected", logging.Component("session"), logging.Wallet(addr.Hex()))
}

// Active counts live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) hasWallet(addr common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.walletSessionsLocked(addr) > 0
}

func (m *Manager) walletSessionsLocked(addr common.Address) int {
	n := 0
	for _, s := range m.sessions {
		if s.Wallet().Address == addr {
			n++
		}
	}
	return n
}

func (m *Manager) report(n int) {
	if m.observer != nil {
		m.observer.SetActiveSessions(n)
	}
}

// CleanupExpired drops expired challenges and sessions.
func (m *Manager) CleanupExpired() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for k, c := range m.challenges {
		if now.After(c.ExpiresAt) {
			delete(m.challenges, k)
		}
	}
	for tok, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, tok)
			expired = append(expired, s)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		m.closeSession(s)
	}
	if len(expired) > 0 {
		m.report(n)
	}
}

func (m *Manager) cleanupLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}

// Close stops the expiry loop.
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
	})
}

// RecoverSigner returns the address that personal_signed message.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, &types.ValidationError{Field: "signature", Reason: "not hex"}
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, &types.ValidationError{
			Field:  "signature",
			Reason: fmt.Sprintf("expected %d bytes, got %d", crypto.SignatureLength, len(sig)),
		}
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(personalHash(message), sig)
	if err != nil {
		return common.Address{}, ErrSignatureInvalid
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// personalHash is the EIP-191 hash personal_sign signs.
func personalHash(message string) []byte {
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
}
