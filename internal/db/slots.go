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

const slotColumns = `order_id, seller_id, status, current_price, final_offer,
	       decline_reason, deadline_at, created_at, updated_at`

// GetSlot retrieves a candidate slot by its (order, seller) key
func (db *DB) GetSlot(ctx context.Context, orderID uuid.UUID, sellerID string) (*CandidateSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM candidate_slots WHERE order_id = $1 AND seller_id = $2`

	var slot CandidateSlot
	err := db.pool.QueryRow(ctx, query, orderID, sellerID).Scan(
		&slot.OrderID,
		&slot.SellerID,
		&slot.Status,
		&slot.CurrentPrice,
		&slot.FinalOffer,
		&slot.DeclineReason,
		&slot.DeadlineAt,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("slot %s/%s: %w", orderID.String(), sellerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get candidate slot: %w", err)
	}

	return &slot, nil
}

// ListSlotsByOrder retrieves all candidate slots for an order
func (db *DB) ListSlotsByOrder(ctx context.Context, orderID uuid.UUID) ([]CandidateSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM candidate_slots WHERE order_id = $1 ORDER BY seller_id ASC`

	rows, err := db.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate slots: %w", err)
	}
	defer rows.Close()

	return scanSlots(rows)
}

// UpdateSlotIf applies a conditional slot transition: the update succeeds
// only when the slot is currently in one of the expected statuses. price and
// reason are applied when non-nil; final is always written.
func (db *DB) UpdateSlotIf(ctx context.Context, orderID uuid.UUID, sellerID string, expected []SlotStatus, next SlotStatus, price *Money, final bool, reason *string) (bool, error) {
	if len(expected) == 0 {
		return false, fmt.Errorf("no expected statuses for slot transition")
	}

	query := `
		UPDATE candidate_slots
		SET status = $1,
		    current_price = COALESCE($2, current_price),
		    final_offer = $3,
		    decline_reason = COALESCE($4, decline_reason),
		    updated_at = NOW()
		WHERE order_id = $5 AND seller_id = $6 AND status = ANY($7)
	`

	statuses := make([]string, len(expected))
	for i, s := range expected {
		statuses[i] = string(s)
	}

	result, err := db.pool.Exec(ctx, query, next, price, final, reason, orderID, sellerID, statuses)
	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", orderID.String()).
			Str("seller_id", sellerID).
			Str("next", string(next)).
			Msg("Failed to update candidate slot")
		return false, fmt.Errorf("failed to update candidate slot: %w", err)
	}

	updated := result.RowsAffected() == 1
	if updated {
		log.Debug().
			Str("order_id", orderID.String()).
			Str("seller_id", sellerID).
			Str("to", string(next)).
			Msg("Candidate slot updated")
	}

	return updated, nil
}

// ExpireSlotIf marks a slot EXPIRED if it is still non-terminal. The update
// is idempotent: expiring an already-terminal slot is a no-op returning
// false.
func (db *DB) ExpireSlotIf(ctx context.Context, orderID uuid.UUID, sellerID string) (bool, error) {
	return db.UpdateSlotIf(ctx, orderID, sellerID,
		[]SlotStatus{SlotStatusPending, SlotStatusOffered, SlotStatusCounterOffered},
		SlotStatusExpired, nil, false, nil)
}

// DueSlot identifies a slot whose deadline has passed
type DueSlot struct {
	OrderID    uuid.UUID
	SellerID   string
	DeadlineAt time.Time
}

// ListDueSlots returns non-terminal slots whose deadline_at is at or before
// now. The scheduler recomputes its work from this query after restart
// rather than trusting in-process timers.
func (db *DB) ListDueSlots(ctx context.Context, now time.Time, limit int) ([]DueSlot, error) {
	query := `
		SELECT order_id, seller_id, deadline_at
		FROM candidate_slots
		WHERE status IN ($1, $2, $3) AND deadline_at <= $4
		ORDER BY deadline_at ASC
		LIMIT $5
	`

	rows, err := db.pool.Query(ctx, query,
		SlotStatusPending, SlotStatusOffered, SlotStatusCounterOffered,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due slots: %w", err)
	}
	defer rows.Close()

	var due []DueSlot
	for rows.Next() {
		var d DueSlot
		if err := rows.Scan(&d.OrderID, &d.SellerID, &d.DeadlineAt); err != nil {
			return nil, fmt.Errorf("failed to scan due slot: %w", err)
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due slots: %w", err)
	}

	return due, nil
}

// scanSlots is a helper to scan multiple slot rows
func scanSlots(rows pgx.Rows) ([]CandidateSlot, error) {
	var slots []CandidateSlot
	for rows.Next() {
		var slot CandidateSlot
		err := rows.Scan(
			&slot.OrderID,
			&slot.SellerID,
			&slot.Status,
			&slot.CurrentPrice,
			&slot.FinalOffer,
			&slot.DeclineReason,
			&slot.DeadlineAt,
			&slot.CreatedAt,
			&slot.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate slot: %w", err)
		}
		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate slots: %w", err)
	}

	return slots, nil
}
