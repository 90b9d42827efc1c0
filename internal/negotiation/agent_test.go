package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalaikatha/commissions/internal/db"
)

func moneyPtr(v int64) *db.Money {
	m := db.Money(v)
	return &m
}

func TestProposeStaysInBounds(t *testing.T) {
	strategy := NewMidpointStrategy(100)

	tests := []struct {
		name  string
		input ProposeInput
	}{
		{
			name:  "opening counter",
			input: ProposeInput{BuyerBudget: 320000, SellerFloor: 280000, LastSellerOffer: moneyPtr(350000)},
		},
		{
			name: "mid negotiation",
			input: ProposeInput{
				BuyerBudget:     320000,
				SellerFloor:     280000,
				LastSellerOffer: moneyPtr(310000),
				LastBuyerOffer:  moneyPtr(290000),
			},
		},
		{
			name:  "no floor published",
			input: ProposeInput{BuyerBudget: 100000, SellerFloor: 0, LastSellerOffer: moneyPtr(90000)},
		},
		{
			name:  "seller asks above budget",
			input: ProposeInput{BuyerBudget: 50000, SellerFloor: 10000, LastSellerOffer: moneyPtr(200000)},
		},
		{
			name:  "tiny budget",
			input: ProposeInput{BuyerBudget: 3, SellerFloor: 1, LastSellerOffer: moneyPtr(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, style := range []string{StyleFirm, StyleFriendly, StyleFlexible} {
				in := tt.input
				in.Style = style
				proposal, ok := strategy.Propose(in)
				require.True(t, ok)
				assert.GreaterOrEqual(t, proposal.Price, in.SellerFloor, "style %s", style)
				assert.LessOrEqual(t, proposal.Price, in.BuyerBudget, "style %s", style)
			}
		})
	}
}

func TestProposeNoDealOnEmptyBracket(t *testing.T) {
	strategy := NewMidpointStrategy(100)

	// Seller floor above buyer budget: no agreement is possible.
	_, ok := strategy.Propose(ProposeInput{
		BuyerBudget:     320000,
		SellerFloor:     350000,
		LastSellerOffer: moneyPtr(350000),
	})
	assert.False(t, ok)

	// Buyer's own last offer above the seller's last asking price is a
	// crossed bracket too.
	_, ok = strategy.Propose(ProposeInput{
		BuyerBudget:     320000,
		SellerFloor:     100000,
		LastSellerOffer: moneyPtr(150000),
		LastBuyerOffer:  moneyPtr(200000),
	})
	assert.False(t, ok)
}

func TestProposeFinalOfferSnap(t *testing.T) {
	strategy := NewMidpointStrategy(100) // 1% of 320000 = 3200

	proposal, ok := strategy.Propose(ProposeInput{
		BuyerBudget:     320000,
		SellerFloor:     280000,
		LastSellerOffer: moneyPtr(301000),
		LastBuyerOffer:  moneyPtr(299000),
	})
	require.True(t, ok)
	assert.True(t, proposal.Final)
	assert.Equal(t, db.Money(300000), proposal.Price)
}

func TestProposeDeterministicConvergence(t *testing.T) {
	strategy := NewMidpointStrategy(100)

	// Alternate agent counters with a stubborn buyer who always repeats the
	// agent's previous price minus nothing: the bracket shrinks every round
	// and the proposal must become final in a bounded number of rounds.
	budget := db.Money(320000)
	floor := db.Money(280000)
	sellerLast := db.Money(350000)
	var buyerLast *db.Money

	rounds := 0
	for {
		rounds++
		require.LessOrEqual(t, rounds, 20, "agent did not converge")

		proposal, ok := strategy.Propose(ProposeInput{
			BuyerBudget:     budget,
			SellerFloor:     floor,
			LastSellerOffer: &sellerLast,
			LastBuyerOffer:  buyerLast,
			Style:           StyleFriendly,
		})
		require.True(t, ok)

		if proposal.Final {
			break
		}

		// Seller side adopts the agent counter; buyer concedes half the
		// remaining distance.
		sellerLast = proposal.Price
		next := floor + (proposal.Price-floor)/2
		if buyerLast == nil || next > *buyerLast {
			buyerLast = &next
		}
	}

	assert.Less(t, rounds, 20)
}

func TestProposeSameInputSameOutput(t *testing.T) {
	strategy := NewMidpointStrategy(100)
	in := ProposeInput{
		BuyerBudget:     320000,
		SellerFloor:     280000,
		LastSellerOffer: moneyPtr(340000),
		Style:           StyleFirm,
	}

	first, ok := strategy.Propose(in)
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		again, ok := strategy.Propose(in)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestProposeStyleOrdering(t *testing.T) {
	strategy := NewMidpointStrategy(100)
	base := ProposeInput{
		BuyerBudget:     320000,
		SellerFloor:     280000,
		LastSellerOffer: moneyPtr(350000),
	}

	prices := map[string]db.Money{}
	for _, style := range []string{StyleFirm, StyleFriendly, StyleFlexible} {
		in := base
		in.Style = style
		proposal, ok := strategy.Propose(in)
		require.True(t, ok)
		prices[style] = proposal.Price
	}

	// A firm seller concedes least, a flexible one most.
	assert.Greater(t, prices[StyleFirm], prices[StyleFriendly])
	assert.Greater(t, prices[StyleFriendly], prices[StyleFlexible])
}

func TestProposeUnknownStyleFallsBackToFriendly(t *testing.T) {
	strategy := NewMidpointStrategy(100)
	in := ProposeInput{
		BuyerBudget:     320000,
		SellerFloor:     280000,
		LastSellerOffer: moneyPtr(350000),
	}

	friendly := in
	friendly.Style = StyleFriendly
	want, ok := strategy.Propose(friendly)
	require.True(t, ok)

	unknown := in
	unknown.Style = "aggressive"
	got, ok := strategy.Propose(unknown)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
