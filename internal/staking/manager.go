package staking

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/internal/chain"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

// Manager keeps one Tracker per wallet address for the daemon's lifetime so
// that a reconnect never starts a second tracker for the same wallet.
type Manager struct {
	cfg     Config
	reader  chain.Reader
	writer  chain.Writer
	pending *PendingStore
	opts    []Option

	mu       sync.Mutex
	trackers map[string]*Tracker
	closed   bool
}

func NewManager(cfg Config, reader chain.Reader, writer chain.Writer, pending *PendingStore, opts ...Option) *Manager {
	return &Manager{
		cfg:      cfg,
		reader:   reader,
		writer:   writer,
		pending:  pending,
		opts:     opts,
		trackers: make(map[string]*Tracker),
	}
}

// Attach returns the wallet's tracker, updated with the session, and
// resumes any pending work recorded for it.
func (m *Manager) Attach(ctx context.Context, session types.WalletSession) (*Tracker, error) {
	if !session.IsConnected {
		return nil, types.ErrNotConnected
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	key := session.Key()
	t, ok := m.trackers[key]
	if !ok {
		t = NewTracker(m.cfg, session, m.reader, m.writer, m.pending, m.opts...)
		m.trackers[key] = t
	}
	m.mu.Unlock()

	t.SetSession(session)
	if err := t.Resume(ctx); err != nil {
		return t, err
	}
	return t, nil
}

// Get returns the tracker for addr if one was attached.
func (m *Manager) Get(addr common.Address) (*Tracker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[types.WalletKey(addr)]
	return t, ok
}

// Detach marks the wallet disconnected and suspends its polling. Durable
// pending state is kept.
func (m *Manager) Detach(addr common.Address) {
	t, ok := m.Get(addr)
	if !ok {
		return
	}
	t.SetSession(types.WalletSession{Address: addr})
	t.Suspend()
}

// PendingWallets lists wallets with durable pending state.
func (m *Manager) PendingWallets(ctx context.Context) ([]string, error) {
	return m.pending.Wallets(ctx)
}

// Close stops every tracker and waits for their goroutines until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.mu.Unlock()

	for _, t := range trackers {
		t.Close()
	}
	for _, t := range trackers {
		if err := t.Wait(ctx); err != nil {
			logging.Warn("staking trackers still busy at shutdown", logging.Err(err))
			return err
		}
	}
	return nil
}

// WalletConnected attaches the wallet's tracker. Resume failures are logged;
// the durable record is kept for the next attach.
func (m *Manager) WalletConnected(ctx context.Context, session types.WalletSession) {
	if _, err := m.Attach(ctx, session); err != nil {
		logging.Warn("staking tracker resume failed",
			logging.Component("staking"),
			logging.Wallet(session.Address.Hex()),
			logging.Err(err),
		)
	}
}

// WalletDisconnected detaches the wallet's tracker.
func (m *Manager) WalletDisconnected(addr common.Address) {
	m.Detach(addr)
}
