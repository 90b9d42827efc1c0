package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/selector"
)

// IneligiblePoolError rejects an order at intake: candidate selection
// produced no eligible seller. Exclusions explain, per requested seller, why
// each was left out. No order row exists when this is returned.
type IneligiblePoolError struct {
	Exclusions []selector.Exclusion
}

func (e *IneligiblePoolError) Error() string {
	if len(e.Exclusions) == 0 {
		return "no eligible sellers for order"
	}
	parts := make([]string, len(e.Exclusions))
	for i, ex := range e.Exclusions {
		parts[i] = fmt.Sprintf("%s: %s", ex.SellerID, ex.Reason)
	}
	return fmt.Sprintf("no eligible sellers for order (%s)", strings.Join(parts, "; "))
}

// StaleStateError rejects an operation against an order or slot that has
// already moved on. It carries the current state so the caller can
// resynchronize instead of retrying blindly.
type StaleStateError struct {
	OrderID     uuid.UUID
	SellerID    string // empty for order-level staleness
	OrderStatus db.OrderStatus
	SlotStatus  db.SlotStatus // zero value for order-level staleness
}

func (e *StaleStateError) Error() string {
	if e.SellerID == "" {
		return fmt.Sprintf("order %s is %s", e.OrderID, e.OrderStatus)
	}
	return fmt.Sprintf("slot %s/%s is %s (order %s)", e.OrderID, e.SellerID, e.SlotStatus, e.OrderStatus)
}

// OutOfBoundsOfferError rejects a price that violates the buyer-budget or
// seller-floor bound. Prices are never clamped silently.
type OutOfBoundsOfferError struct {
	Price db.Money
	Min   db.Money
	Max   db.Money
}

func (e *OutOfBoundsOfferError) Error() string {
	if e.Max <= 0 {
		return fmt.Sprintf("offer price %d below seller floor %d", e.Price, e.Min)
	}
	return fmt.Sprintf("offer price %d outside permitted range [%d, %d]", e.Price, e.Min, e.Max)
}

// ErrNotOrderBuyer rejects a buyer-side operation from anyone other than the
// buyer who placed the order.
var ErrNotOrderBuyer = errors.New("order does not belong to this buyer")

// SchedulingFailure is a system fault: a deadline could not be fired or
// recomputed. The affected order is flagged for manual reconciliation.
type SchedulingFailure struct {
	OrderID uuid.UUID
	Err     error
}

func (e *SchedulingFailure) Error() string {
	return fmt.Sprintf("scheduling failure for order %s: %v", e.OrderID, e.Err)
}

func (e *SchedulingFailure) Unwrap() error {
	return e.Err
}
