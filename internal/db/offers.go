package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// AppendOffer appends an immutable offer record to a slot's history. The
// sequence number is assigned from the current maximum; per-slot writes are
// serialized by the owning negotiation session, so there is no append race
// within a slot.
func (db *DB) AppendOffer(ctx context.Context, offer *Offer) error {
	query := `
		INSERT INTO offers (order_id, seller_id, seq, origin, price, final, created_at)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6
		FROM offers
		WHERE order_id = $1 AND seller_id = $2
	`

	_, err := db.pool.Exec(ctx, query,
		offer.OrderID,
		offer.SellerID,
		offer.Origin,
		offer.Price,
		offer.Final,
		offer.CreatedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("order_id", offer.OrderID.String()).
			Str("seller_id", offer.SellerID).
			Msg("Failed to append offer")
		return fmt.Errorf("failed to append offer: %w", err)
	}

	log.Debug().
		Str("order_id", offer.OrderID.String()).
		Str("seller_id", offer.SellerID).
		Str("origin", string(offer.Origin)).
		Int64("price", int64(offer.Price)).
		Msg("Offer appended")

	return nil
}

const offerColumns = `order_id, seller_id, seq, origin, price, final, created_at`

// ListOffersForSlot retrieves the offer history for one slot in sequence order
func (db *DB) ListOffersForSlot(ctx context.Context, orderID uuid.UUID, sellerID string) ([]Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE order_id = $1 AND seller_id = $2 ORDER BY seq ASC`

	rows, err := db.pool.Query(ctx, query, orderID, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers for slot: %w", err)
	}
	defer rows.Close()

	return scanOffers(rows)
}

// ListOffersByOrder retrieves all offers for an order across slots
func (db *DB) ListOffersByOrder(ctx context.Context, orderID uuid.UUID) ([]Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE order_id = $1 ORDER BY seller_id ASC, seq ASC`

	rows, err := db.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers for order: %w", err)
	}
	defer rows.Close()

	return scanOffers(rows)
}

// scanOffers is a helper to scan multiple offer rows
func scanOffers(rows pgx.Rows) ([]Offer, error) {
	var offers []Offer
	for rows.Next() {
		var offer Offer
		err := rows.Scan(
			&offer.OrderID,
			&offer.SellerID,
			&offer.Seq,
			&offer.Origin,
			&offer.Price,
			&offer.Final,
			&offer.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}

	return offers, nil
}
