package access

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

// State is the guard's view of a session for one destination.
type State string

const (
	StateDisconnected State = "disconnected"
	StateChecking     State = "checking"
	StateAuthorized   State = "authorized"
	StateUnauthorized State = "unauthorized"
)

// Action tells the front end what to do with a navigation.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionRedirect        Action = "redirect"
	ActionAwaitConnection Action = "await_connection"
	// ActionLoading keeps a loading indicator up while the balance is read.
	ActionLoading Action = "loading"
)

// Decision is the outcome of guarding one navigation.
type Decision struct {
	Route    string           `json:"route"`
	State    State            `json:"state"`
	Action   Action           `json:"action"`
	Target   string           `json:"target,omitempty"`
	Tier     types.AccessTier `json:"tier,omitempty"`
	Required types.AccessTier `json:"required,omitempty"`
	Degraded bool             `json:"degraded,omitempty"`
}

// ErrStaleCheck is returned by Resolve when the session changed while the
// balance read was in flight; its result was discarded.
var ErrStaleCheck = errors.New("session changed during balance check")

// BalanceSource reads the gating token balance for an owner.
type BalanceSource interface {
	FetchBalance(ctx context.Context, owner common.Address) (*types.BalanceSnapshot, error)
}

// Observer receives guard events; *metrics.Collector satisfies it.
type Observer interface {
	TierResolved(tier string, degraded bool)
	GuardDecision(action string)
}

type phase int

const (
	phaseDisconnected phase = iota
	phaseChecking
	phaseResolved
)

// Status is a snapshot of the guard.
type Status struct {
	Session   types.WalletSession    `json:"session"`
	Checking  bool                   `json:"checking"`
	Tier      types.AccessTier       `json:"tier,omitempty"`
	Balance   *types.BalanceSnapshot `json:"balance,omitempty"`
	Degraded  bool                   `json:"degraded,omitempty"`
	CheckedAt time.Time              `json:"checked_at,omitempty"`
}

// Guard tracks one wallet session and gates navigation on its tier.
//
// Every connect or address switch starts a new generation; a balance read
// only lands if its generation is still current, so switching accounts can
// never leave a previous account's authorization in place.
type Guard struct {
	source   BalanceSource
	routes   *RouteTable
	observer Observer
	recheck  time.Duration
	now      func() time.Time

	mu         sync.Mutex
	phase      phase
	session    types.WalletSession
	generation uint64
	tier       types.AccessTier
	snapshot   *types.BalanceSnapshot
	degraded   bool
	checkedAt  time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithObserver reports resolutions and decisions to o.
func WithObserver(o Observer) GuardOption {
	return func(g *Guard) { g.observer = o }
}

// WithRecheckInterval sets how long a resolved tier stays fresh.
func WithRecheckInterval(d time.Duration) GuardOption {
	return func(g *Guard) { g.recheck = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a guard in the Disconnected state.
func NewGuard(source BalanceSource, routes *RouteTable, opts ...GuardOption) *Guard {
	if routes == nil {
		routes = DefaultRoutes()
	}
	g := &Guard{
		source:  source,
		routes:  routes,
		recheck: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect handles a wallet connect or account switch. A new or different
// address moves the guard to Checking and invalidates any in-flight read;
// a repeated connect for the same address only updates the chain ID.
func (g *Guard) Connect(session types.WalletSession) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !session.IsConnected {
		g.disconnectLocked()
		return
	}

	if g.phase != phaseDisconnected && g.session.Address == session.Address {
		g.session.ChainID = session.ChainID
		return
	}

	g.generation++
	g.session = session
	g.phase = phaseChecking
	g.tier = ""
	g.snapshot = nil
	g.degraded = false
	g.checkedAt = time.Time{}

	logging.Debug("guard checking", logging.Component("guard"), logging.Wallet(session.Address.Hex()))
}

// Disconnect moves the guard to Disconnected from any state.
func (g *Guard) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnectLocked()
}

func (g *Guard) disconnectLocked() {
	g.generation++
	g.phase = phaseDisconnected
	g.session = types.WalletSession{}
	g.tier = ""
	g.snapshot = nil
	g.degraded = false
	g.checkedAt = time.Time{}
}

// Resolve reads the balance for the current session and settles the tier.
// A failed read resolves to Holder and is logged as degraded. The result
// is discarded with ErrStaleCheck if the session changed meanwhile.
func (g *Guard) Resolve(ctx context.Context) (types.AccessTier, error) {
	g.mu.Lock()
	if g.phase == phaseDisconnected {
		g.mu.Unlock()
		return "", types.ErrNotConnected
	}
	gen := g.generation
	owner := g.session.Address
	g.mu.Unlock()

	snap, err := g.source.FetchBalance(ctx, owner)
	degraded := false
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		degraded = true
		snap = &types.BalanceSnapshot{Owner: owner, RawAmount: new(big.Int), FetchedAt: g.now(), Degraded: true}
		logging.Warn("balance read failed, resolving as holder",
			logging.Component("guard"),
			logging.Wallet(owner.Hex()),
			logging.Err(err),
		)
	}
	tier := ResolveSnapshot(snap)

	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.generation {
		return "", ErrStaleCheck
	}
	g.phase = phaseResolved
	g.tier = tier
	g.snapshot = snap
	g.degraded = degraded
	g.checkedAt = g.now()

	if g.observer != nil {
		g.observer.TierResolved(string(tier), degraded)
	}
	logging.Debug("tier resolved",
		logging.Component("guard"),
		logging.Wallet(owner.Hex()),
		logging.Tier(string(tier)),
	)
	return tier, nil
}

// NeedsCheck reports whether the session is connected and its tier is
// missing or older than the recheck interval.
func (g *Guard) NeedsCheck() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.phase {
	case phaseDisconnected:
		return false
	case phaseChecking:
		return true
	}
	return g.recheck > 0 && g.now().Sub(g.checkedAt) >= g.recheck
}

// Decide guards navigation to path. Public and unknown routes are always
// allowed; protected routes follow the state machine.
func (g *Guard) Decide(path string) Decision {
	route, ok := g.routes.Lookup(path)
	if !ok {
		route = Route{Path: path}
	}

	g.mu.Lock()
	d := Decision{Route: route.Path, Required: route.Required, Tier: g.tier, Degraded: g.degraded}
	ph := g.phase
	g.mu.Unlock()

	switch {
	case route.Required == "":
		d.State = publicState(ph)
		d.Action = ActionAllow
	case ph == phaseDisconnected:
		d.State = StateDisconnected
		d.Action = ActionAwaitConnection
	case ph == phaseChecking:
		d.State = StateChecking
		d.Action = ActionLoading
	case d.Tier.Meets(route.Required):
		d.State = StateAuthorized
		d.Action = ActionAllow
	default:
		d.State = StateUnauthorized
		d.Action = ActionRedirect
		d.Target = HomeRoute
	}

	if g.observer != nil {
		g.observer.GuardDecision(string(d.Action))
	}
	return d
}

func publicState(ph phase) State {
	switch ph {
	case phaseDisconnected:
		return StateDisconnected
	case phaseChecking:
		return StateChecking
	default:
		return StateAuthorized
	}
}

// Tier returns the resolved tier, or "" while disconnected or checking.
func (g *Guard) Tier() types.AccessTier {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tier
}

// Status returns a snapshot of the guard.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		Session:   g.session,
		Checking:  g.phase == phaseChecking,
		Tier:      g.tier,
		Balance:   g.snapshot,
		Degraded:  g.degraded,
		CheckedAt: g.checkedAt,
	}
}
