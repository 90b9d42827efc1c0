package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/kalaikatha/commissions/internal/db"
)

// orderView is the wire shape of an order
type orderView struct {
	ID                    uuid.UUID        `json:"id"`
	BuyerID               string           `json:"buyer_id"`
	ProductName           string           `json:"product_name"`
	Description           string           `json:"description,omitempty"`
	Specifications        string           `json:"specifications,omitempty"`
	Quantity              int              `json:"quantity"`
	Budget                db.Money         `json:"budget"`
	DateRequired          *time.Time       `json:"date_required,omitempty"`
	ResponseTimeLimitDays int              `json:"response_time_limit_days"`
	SelectionMode         db.SelectionMode `json:"selection_mode"`
	Status                db.OrderStatus   `json:"status"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// slotView is the wire shape of one seller's negotiation lane
type slotView struct {
	SellerID      string        `json:"seller_id"`
	Status        db.SlotStatus `json:"status"`
	CurrentPrice  *db.Money     `json:"current_price,omitempty"`
	FinalOffer    bool          `json:"final_offer"`
	DeclineReason *string       `json:"decline_reason,omitempty"`
	DeadlineAt    time.Time     `json:"deadline_at"`
}

// offerView is the wire shape of one entry in a slot's offer history
type offerView struct {
	SellerID  string         `json:"seller_id"`
	Seq       int            `json:"seq"`
	Origin    db.OfferOrigin `json:"origin"`
	Price     db.Money       `json:"price"`
	Final     bool           `json:"final"`
	CreatedAt time.Time      `json:"created_at"`
}

// orderDetail is the full read model returned for an order
type orderDetail struct {
	Order  orderView   `json:"order"`
	Slots  []slotView  `json:"slots"`
	Offers []offerView `json:"offers,omitempty"`
}

// sellerView is the public wire shape of a registry entry. Price floors and
// delegation settings are the seller's own business.
type sellerView struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	AcceptingCommissions bool      `json:"accepting_commissions"`
	MinimumBudget        *db.Money `json:"minimum_budget,omitempty"`
}

func toOrderView(o *db.Order) orderView {
	return orderView{
		ID:                    o.ID,
		BuyerID:               o.BuyerID,
		ProductName:           o.ProductName,
		Description:           o.Description,
		Specifications:        o.Specifications,
		Quantity:              o.Quantity,
		Budget:                o.Budget,
		DateRequired:          o.DateRequired,
		ResponseTimeLimitDays: o.ResponseTimeLimitDays,
		SelectionMode:         o.SelectionMode,
		Status:                o.Status,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}

func toOrderDetail(agg *db.OrderAggregate) orderDetail {
	detail := orderDetail{
		Order: toOrderView(&agg.Order),
		Slots: make([]slotView, 0, len(agg.Slots)),
	}
	for _, slot := range agg.Slots {
		detail.Slots = append(detail.Slots, slotView{
			SellerID:      slot.SellerID,
			Status:        slot.Status,
			CurrentPrice:  slot.CurrentPrice,
			FinalOffer:    slot.FinalOffer,
			DeclineReason: slot.DeclineReason,
			DeadlineAt:    slot.DeadlineAt,
		})
	}
	for _, offer := range agg.Offers {
		detail.Offers = append(detail.Offers, offerView{
			SellerID:  offer.SellerID,
			Seq:       offer.Seq,
			Origin:    offer.Origin,
			Price:     offer.Price,
			Final:     offer.Final,
			CreatedAt: offer.CreatedAt,
		})
	}
	return detail
}

func toSellerView(s *db.Seller) sellerView {
	return sellerView{
		ID:                   s.ID,
		Name:                 s.Name,
		AcceptingCommissions: s.AcceptingCommissions,
		MinimumBudget:        s.MinimumBudget,
	}
}
