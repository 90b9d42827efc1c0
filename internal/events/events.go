// Package events defines the typed negotiation events emitted to the
// notification dispatcher and their NATS transport.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/kalaikatha/commissions/internal/db"
)

// Audience identifies who a notification is for.
type Audience string

const (
	AudienceSeller Audience = "seller"
	AudienceBuyer  Audience = "buyer"
)

// Type identifies the kind of negotiation event.
type Type string

const (
	TypeOrderOpenedForSeller  Type = "order_opened"
	TypeOfferReceived         Type = "offer_received"
	TypeCounterOffered        Type = "counter_offered"
	TypeOrderFulfilled        Type = "order_fulfilled"
	TypeOrderExpired          Type = "order_expired"
	TypeOrderCancelled        Type = "order_cancelled"
	TypeSlotDeclinedElsewhere Type = "slot_declined_elsewhere"
)

// Event is a typed negotiation event. Audience and Type select the NATS
// subject; the concrete struct is the payload.
type Event interface {
	EventType() Type
	EventAudience() Audience
}

// OrderOpenedForSeller tells a seller a new order landed in their queue.
type OrderOpenedForSeller struct {
	OrderID    uuid.UUID `json:"order_id"`
	SellerID   string    `json:"seller_id"`
	DeadlineAt time.Time `json:"deadline_at"`
}

func (OrderOpenedForSeller) EventType() Type         { return TypeOrderOpenedForSeller }
func (OrderOpenedForSeller) EventAudience() Audience { return AudienceSeller }

// OfferReceived tells the buyer a seller responded with a price.
type OfferReceived struct {
	OrderID  uuid.UUID      `json:"order_id"`
	BuyerID  string         `json:"buyer_id"`
	SellerID string         `json:"seller_id"`
	Price    db.Money       `json:"price"`
	Origin   db.OfferOrigin `json:"origin"`
	Final    bool           `json:"final"`
}

func (OfferReceived) EventType() Type         { return TypeOfferReceived }
func (OfferReceived) EventAudience() Audience { return AudienceBuyer }

// CounterOffered tells a seller a counter-price landed on their slot.
type CounterOffered struct {
	OrderID  uuid.UUID      `json:"order_id"`
	SellerID string         `json:"seller_id"`
	Price    db.Money       `json:"price"`
	Origin   db.OfferOrigin `json:"origin"`
	Final    bool           `json:"final"`
}

func (CounterOffered) EventType() Type         { return TypeCounterOffered }
func (CounterOffered) EventAudience() Audience { return AudienceSeller }

// OrderFulfilled announces the winning slot to the buyer.
type OrderFulfilled struct {
	OrderID  uuid.UUID `json:"order_id"`
	BuyerID  string    `json:"buyer_id"`
	SellerID string    `json:"seller_id"`
	Price    db.Money  `json:"price"`
}

func (OrderFulfilled) EventType() Type         { return TypeOrderFulfilled }
func (OrderFulfilled) EventAudience() Audience { return AudienceBuyer }

// OrderExpired tells the buyer no slot was accepted before the deadline.
type OrderExpired struct {
	OrderID uuid.UUID `json:"order_id"`
	BuyerID string    `json:"buyer_id"`
}

func (OrderExpired) EventType() Type         { return TypeOrderExpired }
func (OrderExpired) EventAudience() Audience { return AudienceBuyer }

// OrderCancelled tells sellers with live slots the buyer withdrew the order.
type OrderCancelled struct {
	OrderID  uuid.UUID `json:"order_id"`
	SellerID string    `json:"seller_id"`
}

func (OrderCancelled) EventType() Type         { return TypeOrderCancelled }
func (OrderCancelled) EventAudience() Audience { return AudienceSeller }

// SlotDeclinedElsewhere tells a losing seller the order was fulfilled by
// another slot.
type SlotDeclinedElsewhere struct {
	OrderID  uuid.UUID `json:"order_id"`
	SellerID string    `json:"seller_id"`
}

func (SlotDeclinedElsewhere) EventType() Type         { return TypeSlotDeclinedElsewhere }
func (SlotDeclinedElsewhere) EventAudience() Audience { return AudienceSeller }
