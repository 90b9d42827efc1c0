package db

import (
	"time"

	"github.com/google/uuid"
)

// Money is an amount in minor currency units (paise)
type Money int64

// OrderStatus represents order status (database enum)
type OrderStatus string

const (
	OrderStatusOpen        OrderStatus = "OPEN"
	OrderStatusNegotiating OrderStatus = "NEGOTIATING"
	OrderStatusFulfilled   OrderStatus = "FULFILLED"
	OrderStatusExpired     OrderStatus = "EXPIRED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
)

// IsTerminal reports whether an order status permits no further transitions
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusExpired, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// SelectionMode represents how the candidate seller pool is chosen
type SelectionMode string

const (
	SelectionModeOpen     SelectionMode = "OPEN"
	SelectionModeSaved    SelectionMode = "SAVED"
	SelectionModeSpecific SelectionMode = "SPECIFIC"
	SelectionModeSingle   SelectionMode = "SINGLE"
)

// SlotStatus represents candidate slot status (database enum)
type SlotStatus string

const (
	SlotStatusPending        SlotStatus = "PENDING"
	SlotStatusOffered        SlotStatus = "OFFERED"
	SlotStatusCounterOffered SlotStatus = "COUNTER_OFFERED"
	SlotStatusAccepted       SlotStatus = "ACCEPTED"
	SlotStatusDeclined       SlotStatus = "DECLINED"
	SlotStatusExpired        SlotStatus = "EXPIRED"
)

// IsTerminal reports whether a slot status permits no further transitions
func (s SlotStatus) IsTerminal() bool {
	switch s {
	case SlotStatusAccepted, SlotStatusDeclined, SlotStatusExpired:
		return true
	default:
		return false
	}
}

// OfferOrigin identifies who proposed a price
type OfferOrigin string

const (
	OfferOriginBuyer     OfferOrigin = "BUYER"
	OfferOriginSeller    OfferOrigin = "SELLER"
	OfferOriginAutoAgent OfferOrigin = "AUTO_AGENT"
)

// DeclineReasonFulfilledElsewhere is recorded on losing slots when a
// sibling slot is accepted
const DeclineReasonFulfilledElsewhere = "order fulfilled elsewhere"

// Order represents a buyer's custom commission request
type Order struct {
	ID                    uuid.UUID
	BuyerID               string
	ProductName           string
	Description           string
	Specifications        string
	Quantity              int
	Budget                Money
	DateRequired          *time.Time
	ResponseTimeLimitDays int
	SelectionMode         SelectionMode
	Status                OrderStatus
	NeedsReconciliation   bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CandidateSlot is the per-seller negotiation lane created at fan-out
type CandidateSlot struct {
	OrderID       uuid.UUID
	SellerID      string
	Status        SlotStatus
	CurrentPrice  *Money
	FinalOffer    bool
	DeclineReason *string
	DeadlineAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Offer is an immutable price proposal appended to a slot
type Offer struct {
	OrderID   uuid.UUID
	SellerID  string
	Seq       int
	Origin    OfferOrigin
	Price     Money
	Final     bool
	CreatedAt time.Time
}

// Seller is the read-mostly registry view of an artisan
type Seller struct {
	ID                   string
	Name                 string
	AcceptingCommissions bool
	MinimumBudget        *Money
	AcceptablePriceFloor *Money
	AutoAcceptAtFloor    bool
	NegotiationStyle     string
}

// Eligible reports whether the seller may receive a slot for the given budget
func (s *Seller) Eligible(budget Money) bool {
	if !s.AcceptingCommissions {
		return false
	}
	if s.MinimumBudget != nil && budget < *s.MinimumBudget {
		return false
	}
	return true
}

// OrderAggregate is the read model returned by GetOrder: the order, all its
// slots and the full offer history
type OrderAggregate struct {
	Order  Order
	Slots  []CandidateSlot
	Offers []Offer
}
