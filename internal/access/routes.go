package access

import (
	"path"
	"strings"

	"github.com/koshercapital/kosher/pkg/types"
)

// HomeRoute is where unauthorized navigation is redirected.
const HomeRoute = "/"

// Route is one navigable destination and the tier it requires. An empty
// Required marks a public route.
type Route struct {
	Path     string           `json:"path"`
	Required types.AccessTier `json:"required,omitempty"`
}

// RouteTable resolves destinations to their requirements.
type RouteTable struct {
	routes map[string]Route
}

// DefaultRoutes is the application's route table.
func DefaultRoutes() *RouteTable {
	return NewRouteTable(
		Route{Path: "/"},
		Route{Path: "/buy"},
		Route{Path: "/staking"},
		Route{Path: "/funds"},
		Route{Path: "/funds/solana"},
		Route{Path: "/funds/create"},
		Route{Path: "/gold-partner-room", Required: types.TierGoldPartner},
		Route{Path: "/board-member-room", Required: types.TierBoardMember},
	)
}

// NewRouteTable builds a table from routes.
func NewRouteTable(routes ...Route) *RouteTable {
	rt := &RouteTable{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		rt.routes[normalize(r.Path)] = r
	}
	return rt
}

// Lookup returns the route for p. Unknown paths are reported as not found.
func (rt *RouteTable) Lookup(p string) (Route, bool) {
	r, ok := rt.routes[normalize(p)]
	return r, ok
}

// Protected lists the routes that need a tier.
func (rt *RouteTable) Protected() []Route {
	var out []Route
	for _, r := range rt.routes {
		if r.Required != "" {
			out = append(out, r)
		}
	}
	return out
}

func normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
