// Package negotiation owns the per-order state machine: fan-out, offer
// application, auto-counter proposals, acceptance, cancellation, and expiry.
package negotiation

import (
	"github.com/kalaikatha/commissions/internal/db"
)

// Proposal is the agent's next move on a slot.
type Proposal struct {
	Price db.Money
	Final bool
}

// ProposeInput carries everything the agent needs to counter on one slot.
// LastSellerOffer and LastBuyerOffer are nil before the respective side has
// moved.
type ProposeInput struct {
	BuyerBudget     db.Money
	SellerFloor     db.Money // 0 when the seller publishes no floor
	LastSellerOffer *db.Money
	LastBuyerOffer  *db.Money
	Style           string // firm, friendly, flexible
}

// Strategy computes counter-offers. It is pure: same input, same proposal.
// The second return is false when no deal is possible (empty bracket) and
// the slot should be declined.
type Strategy interface {
	Propose(in ProposeInput) (Proposal, bool)
}

// Negotiation style names and their concession weights. The weight is the
// fraction of the live bracket conceded from the seller's side: a firm
// seller concedes a quarter, a flexible one three quarters.
const (
	StyleFirm     = "firm"
	StyleFriendly = "friendly"
	StyleFlexible = "flexible"
)

// concessionWeight returns the style's concession as a rational num/den.
func concessionWeight(style string) (num, den db.Money) {
	switch style {
	case StyleFirm:
		return 1, 4
	case StyleFlexible:
		return 3, 4
	default: // friendly
		return 1, 2
	}
}

// MidpointStrategy converges toward the midpoint of the live bracket
// [max(sellerFloor, lastBuyerOffer), min(buyerBudget, lastSellerOffer)].
// When the bracket narrows below the minimum increment the proposal snaps to
// the midpoint and is marked final, bounding the number of rounds.
type MidpointStrategy struct {
	// MinIncrementBps is the minimum meaningful price movement in basis
	// points of the buyer's budget. Below this the next offer is final.
	MinIncrementBps int64
}

// NewMidpointStrategy returns the default strategy. bps <= 0 falls back to
// 100 (1% of budget).
func NewMidpointStrategy(bps int64) *MidpointStrategy {
	if bps <= 0 {
		bps = 100
	}
	return &MidpointStrategy{MinIncrementBps: bps}
}

// Propose computes the next counter-price. The returned price always lies
// within [sellerFloor, buyerBudget]; an empty bracket returns no deal.
func (s *MidpointStrategy) Propose(in ProposeInput) (Proposal, bool) {
	low := in.SellerFloor
	if in.LastBuyerOffer != nil && *in.LastBuyerOffer > low {
		low = *in.LastBuyerOffer
	}

	high := in.BuyerBudget
	if in.LastSellerOffer != nil && *in.LastSellerOffer < high {
		high = *in.LastSellerOffer
	}

	if low > high {
		return Proposal{}, false
	}

	width := high - low
	minIncrement := in.BuyerBudget * db.Money(s.MinIncrementBps) / 10000
	if minIncrement < 1 {
		minIncrement = 1
	}

	if width <= minIncrement {
		return Proposal{Price: low + width/2, Final: true}, true
	}

	num, den := concessionWeight(in.Style)
	price := high - width*num/den

	// Integer division keeps the price inside the bracket, but guard the
	// bound property explicitly.
	if price < low {
		price = low
	}
	if price > high {
		price = high
	}

	return Proposal{Price: price}, true
}
