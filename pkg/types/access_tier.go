package types

// AccessTier is the access level derived from a wallet's token balance.
type AccessTier string

const (
	// TierHolder is every connected wallet below the Gold Partner threshold.
	TierHolder AccessTier = "holder"

	// TierGoldPartner unlocks the Gold Partner room and fund applications.
	TierGoldPartner AccessTier = "gold_partner"

	// TierBoardMember unlocks every gated route.
	TierBoardMember AccessTier = "board_member"
)

// Rank returns a numeric rank for the tier.
// board_member(3) > gold_partner(2) > holder(1) > unknown(0).
func (t AccessTier) Rank() int {
	switch t {
	case TierBoardMember:
		return 3
	case TierGoldPartner:
		return 2
	case TierHolder:
		return 1
	default:
		return 0
	}
}

// Meets reports whether t is at least the required tier. An empty
// requirement means the route is public.
func (t AccessTier) Meets(required AccessTier) bool {
	if required == "" {
		return true
	}
	return t.Rank() >= required.Rank()
}

// DisplayName is the label shown to users.
func (t AccessTier) DisplayName() string {
	switch t {
	case TierBoardMember:
		return "Board Member"
	case TierGoldPartner:
		return "Gold Partner"
	case TierHolder:
		return "Holder"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is one of the defined tiers.
func (t AccessTier) Valid() bool {
	return t.Rank() > 0
}
