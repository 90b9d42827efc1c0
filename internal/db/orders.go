package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// InsertOrderWithSlots persists a new order and its candidate slots in one
// transaction. The order arrives in status NEGOTIATING: fan-out is part of
// intake, an order that fails candidate selection is never persisted.
func (db *DB) InsertOrderWithSlots(ctx context.Context, order *Order, slots []CandidateSlot) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	orderQuery := `
		INSERT INTO orders (
			id, buyer_id, product_name, description, specifications, quantity,
			budget, date_required, response_time_limit_days, selection_mode,
			status, needs_reconciliation, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err = tx.Exec(ctx, orderQuery,
		order.ID,
		order.BuyerID,
		order.ProductName,
		order.Description,
		order.Specifications,
		order.Quantity,
		order.Budget,
		order.DateRequired,
		order.ResponseTimeLimitDays,
		order.SelectionMode,
		order.Status,
		order.NeedsReconciliation,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	slotQuery := `
		INSERT INTO candidate_slots (
			order_id, seller_id, status, current_price, final_offer,
			decline_reason, deadline_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for i := range slots {
		slot := &slots[i]
		_, err = tx.Exec(ctx, slotQuery,
			slot.OrderID,
			slot.SellerID,
			slot.Status,
			slot.CurrentPrice,
			slot.FinalOffer,
			slot.DeclineReason,
			slot.DeadlineAt,
			slot.CreatedAt,
			slot.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert candidate slot for seller %s: %w", slot.SellerID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order insert: %w", err)
	}

	log.Debug().
		Str("order_id", order.ID.String()).
		Int("slots", len(slots)).
		Msg("Order inserted with candidate slots")

	return nil
}

const orderColumns = `id, buyer_id, product_name, description, specifications, quantity,
	       budget, date_required, response_time_limit_days, selection_mode,
	       status, needs_reconciliation, created_at, updated_at`

// GetOrder retrieves an order by ID
func (db *DB) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order Order
	err := db.pool.QueryRow(ctx, query, orderID).Scan(
		&order.ID,
		&order.BuyerID,
		&order.ProductName,
		&order.Description,
		&order.Specifications,
		&order.Quantity,
		&order.Budget,
		&order.DateRequired,
		&order.ResponseTimeLimitDays,
		&order.SelectionMode,
		&order.Status,
		&order.NeedsReconciliation,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", orderID.String(), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return &order, nil
}

// GetOrderAggregate retrieves an order with all slots and offer history
func (db *DB) GetOrderAggregate(ctx context.Context, orderID uuid.UUID) (*OrderAggregate, error) {
	order, err := db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	slots, err := db.ListSlotsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	offers, err := db.ListOffersByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &OrderAggregate{
		Order:  *order,
		Slots:  slots,
		Offers: offers,
	}, nil
}

// UpdateOrderStatusIf transitions an order's status only when it is still in
// the expected status. Returns false when the conditional update lost.
func (db *DB) UpdateOrderStatusIf(ctx context.Context, orderID uuid.UUID, expected, next OrderStatus) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := db.pool.Exec(ctx, query, next, orderID, expected)
	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", orderID.String()).
			Str("next", string(next)).
			Msg("Failed to update order status")
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	updated := result.RowsAffected() == 1
	if updated {
		log.Debug().
			Str("order_id", orderID.String()).
			Str("from", string(expected)).
			Str("to", string(next)).
			Msg("Order status updated")
	}

	return updated, nil
}

// AcceptSlot performs the at-most-one acceptance step atomically:
// the order moves NEGOTIATING -> FULFILLED, the winning slot becomes
// ACCEPTED, and every other non-terminal slot is declined with the
// fulfilled-elsewhere reason. Returns false when another slot won first or
// the order already left NEGOTIATING.
func (db *DB) AcceptSlot(ctx context.Context, orderID uuid.UUID, sellerID string, price Money) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin acceptance transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Conditional order transition is the linearization point.
	result, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, OrderStatusFulfilled, orderID, OrderStatusNegotiating)
	if err != nil {
		return false, fmt.Errorf("failed to fulfill order: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Lost the race or the order is terminal. Normal outcome.
		return false, nil
	}

	result, err = tx.Exec(ctx, `
		UPDATE candidate_slots
		SET status = $1, current_price = $2, updated_at = NOW()
		WHERE order_id = $3 AND seller_id = $4 AND status IN ($5, $6, $7)
	`, SlotStatusAccepted, price, orderID, sellerID,
		SlotStatusPending, SlotStatusOffered, SlotStatusCounterOffered)
	if err != nil {
		return false, fmt.Errorf("failed to accept slot: %w", err)
	}
	if result.RowsAffected() == 0 {
		// The winning slot itself is no longer acceptable; abort the whole step.
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE candidate_slots
		SET status = $1, decline_reason = $2, updated_at = NOW()
		WHERE order_id = $3 AND seller_id <> $4 AND status IN ($5, $6, $7)
	`, SlotStatusDeclined, DeclineReasonFulfilledElsewhere, orderID, sellerID,
		SlotStatusPending, SlotStatusOffered, SlotStatusCounterOffered)
	if err != nil {
		return false, fmt.Errorf("failed to decline sibling slots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	log.Info().
		Str("order_id", orderID.String()).
		Str("seller_id", sellerID).
		Int64("price", int64(price)).
		Msg("Order fulfilled")

	return true, nil
}

// ListOrdersByStatus retrieves all orders with a specific status. Used on
// startup to rebuild negotiation sessions for non-terminal orders.
func (db *DB) ListOrdersByStatus(ctx context.Context, status OrderStatus) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at ASC`

	rows, err := db.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders by status: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListSweepableOrders returns negotiating orders whose slots are all
// terminal without an acceptance: candidates for the expiry sweep.
func (db *DB) ListSweepableOrders(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT o.id
		FROM orders o
		WHERE o.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM candidate_slots s
			WHERE s.order_id = o.id AND s.status IN ($2, $3, $4)
		  )
		ORDER BY o.created_at ASC
		LIMIT $5
	`

	rows, err := db.pool.Query(ctx, query,
		OrderStatusNegotiating,
		SlotStatusPending, SlotStatusOffered, SlotStatusCounterOffered,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweepable orders: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sweepable orders: %w", err)
	}

	return ids, nil
}

// FlagOrderForReconciliation marks an order whose deadlines could not be
// scheduled so operators can repair it
func (db *DB) FlagOrderForReconciliation(ctx context.Context, orderID uuid.UUID) error {
	query := `UPDATE orders SET needs_reconciliation = TRUE, updated_at = NOW() WHERE id = $1`

	result, err := db.pool.Exec(ctx, query, orderID)
	if err != nil {
		return fmt.Errorf("failed to flag order for reconciliation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", orderID.String())
	}

	log.Warn().
		Str("order_id", orderID.String()).
		Msg("Order flagged for manual reconciliation")

	return nil
}

// scanOrders is a helper to scan multiple order rows
func scanOrders(rows pgx.Rows) ([]*Order, error) {
	var orders []*Order
	for rows.Next() {
		var order Order
		err := rows.Scan(
			&order.ID,
			&order.BuyerID,
			&order.ProductName,
			&order.Description,
			&order.Specifications,
			&order.Quantity,
			&order.Budget,
			&order.DateRequired,
			&order.ResponseTimeLimitDays,
			&order.SelectionMode,
			&order.Status,
			&order.NeedsReconciliation,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// NewOrderID returns a fresh order identifier
func NewOrderID() uuid.UUID {
	return uuid.New()
}

// Now returns the current UTC time, the single clock used for persisted
// timestamps
func Now() time.Time {
	return time.Now().UTC()
}
