package commands

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/koshercapital/kosher/pkg/types"
)

// tierLadder lists the access tiers from lowest to highest.
var tierLadder = []types.AccessTier{
	types.TierHolder,
	types.TierGoldPartner,
	types.TierBoardMember,
}

// Every tier owns a color and a mark. Badges, room names and the ladder
// all draw from this table.
var tierColors = map[types.AccessTier]struct {
	color lipgloss.Color
	mark  string
}{
	types.TierHolder:      {color: "#94a3b8", mark: "·"},
	types.TierGoldPartner: {color: "#d4a017", mark: "◆"},
	types.TierBoardMember: {color: "#a78bfa", mark: "♛"},
}

var (
	ColorInk   = lipgloss.Color("#f9fafb")
	ColorMuted = lipgloss.Color("#6b7280")
	ColorDim   = lipgloss.Color("#4b5563")
	colorGood  = lipgloss.Color("#22c55e")
	colorWarn  = lipgloss.Color("#eab308")
	colorBad   = lipgloss.Color("#ef4444")
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TierStyle is the foreground style for t. Unknown tiers are muted.
func TierStyle(t types.AccessTier) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	if c, ok := tierColors[t]; ok {
		return s.Foreground(c.color)
	}
	return s.Foreground(ColorMuted)
}

// TierBadge renders an access tier with its display name. Piped output
// gets the bare name.
func TierBadge(t types.AccessTier) string {
	if !isTTY() {
		return t.DisplayName()
	}
	c, ok := tierColors[t]
	if !ok {
		return badge(ColorMuted, t.DisplayName())
	}
	return badge(c.color, c.mark+" "+t.DisplayName())
}

// TierLadder shows every tier with current marked. Tiers above current
// are dimmed.
func TierLadder(current types.AccessTier) string {
	parts := make([]string, len(tierLadder))
	for i, t := range tierLadder {
		name := t.DisplayName()
		switch {
		case !isTTY():
			if t == current {
				name = "[" + name + "]"
			}
		case t == current:
			name = TierStyle(t).Underline(true).Render(name)
		case current.Meets(t):
			name = TierStyle(t).Render(name)
		default:
			name = StyleMuted.Render(name)
		}
		parts[i] = name
	}
	return strings.Join(parts, " > ")
}

// Styles shared by the boxes and tables.
var (
	StyleHeader  = lipgloss.NewStyle().Bold(true).Foreground(ColorInk)
	StyleAccent  = TierStyle(types.TierGoldPartner)
	StyleSuccess = lipgloss.NewStyle().Foreground(colorGood)
	StyleWarning = lipgloss.NewStyle().Foreground(colorWarn)
	StyleError   = lipgloss.NewStyle().Foreground(colorBad)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleLabel   = lipgloss.NewStyle().Foreground(ColorMuted).Width(16)
	StyleValue   = lipgloss.NewStyle().Foreground(ColorInk)

	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDim).
			Padding(0, 1)

	StyleTableHeader = StyleAccent.Padding(0, 1)
	StyleTableRow    = StyleValue.Padding(0, 1)
	StyleTableRowAlt = StyleMuted.Padding(0, 1)
)

func badge(bg lipgloss.Color, text string) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(bg).
		Padding(0, 1).
		Bold(true).
		Render(text)
}

// StatusBadge colors a health or guard status.
func StatusBadge(status string) string {
	if !isTTY() {
		return status
	}
	switch status {
	case "healthy", "authorized", "allow", "confirmed":
		return badge(colorGood, status)
	case "unhealthy", "unauthorized", "redirect", "failed":
		return badge(colorBad, status)
	case "checking", "loading", "pending", "degraded", "await_connection":
		return badge(colorWarn, status)
	default:
		return badge(ColorMuted, status)
	}
}

// Logo returns the styled brand text.
func Logo() string {
	return StyleAccent.Render("kosher")
}
