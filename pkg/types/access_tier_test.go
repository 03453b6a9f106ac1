package types

import "testing"

func TestAccessTierRankOrdering(t *testing.T) {
	if !(TierBoardMember.Rank() > TierGoldPartner.Rank() && TierGoldPartner.Rank() > TierHolder.Rank()) {
		t.Fatal("tier ranks are not strictly increasing")
	}
	if AccessTier("nobody").Rank() != 0 {
		t.Error("unknown tier should rank 0")
	}
}

func TestAccessTierMeets(t *testing.T) {
	tests := []struct {
		have     AccessTier
		required AccessTier
		want     bool
	}{
		{TierHolder, "", true},
		{TierHolder, TierGoldPartner, false},
		{TierGoldPartner, TierGoldPartner, true},
		{TierGoldPartner, TierBoardMember, false},
		{TierBoardMember, TierGoldPartner, true},
		{TierBoardMember, TierBoardMember, true},
		{AccessTier(""), TierHolder, false},
	}
	for _, tt := range tests {
		if got := tt.have.Meets(tt.required); got != tt.want {
			t.Errorf("%q.Meets(%q) = %v, want %v", tt.have, tt.required, got, tt.want)
		}
	}
}

func TestAccessTierDisplayName(t *testing.T) {
	if TierGoldPartner.DisplayName() != "Gold Partner" {
		t.Errorf("got %q", TierGoldPartner.DisplayName())
	}
	if AccessTier("x").Valid() {
		t.Error("unknown tier reported valid")
	}
}
