package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const sellerColumns = `id, name, accepting_commissions, minimum_budget,
	       acceptable_price_floor, auto_accept_at_floor, negotiation_style`

// GetSeller retrieves a seller by ID
func (db *DB) GetSeller(ctx context.Context, sellerID string) (*Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers WHERE id = $1`

	var seller Seller
	err := db.pool.QueryRow(ctx, query, sellerID).Scan(
		&seller.ID,
		&seller.Name,
		&seller.AcceptingCommissions,
		&seller.MinimumBudget,
		&seller.AcceptablePriceFloor,
		&seller.AutoAcceptAtFloor,
		&seller.NegotiationStyle,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("seller %s: %w", sellerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get seller: %w", err)
	}

	return &seller, nil
}

// ListSellers retrieves every seller in the registry
func (db *DB) ListSellers(ctx context.Context) ([]*Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers ORDER BY id ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sellers: %w", err)
	}
	defer rows.Close()

	return scanSellers(rows)
}

// GetSellersByIDs retrieves the sellers with the given IDs; missing IDs are
// simply absent from the result
func (db *DB) GetSellersByIDs(ctx context.Context, ids []string) ([]*Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers WHERE id = ANY($1) ORDER BY id ASC`

	rows, err := db.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query sellers by ids: %w", err)
	}
	defer rows.Close()

	return scanSellers(rows)
}

// ListSavedSellerIDs retrieves the buyer's saved-seller list
func (db *DB) ListSavedSellerIDs(ctx context.Context, buyerID string) ([]string, error) {
	query := `SELECT seller_id FROM saved_sellers WHERE buyer_id = $1 ORDER BY seller_id ASC`

	rows, err := db.pool.Query(ctx, query, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query saved sellers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan saved seller: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating saved sellers: %w", err)
	}

	return ids, nil
}

// UpsertSeller inserts or updates a seller row. The registry is owned by the
// listing service; this path exists for seeding and tests.
func (db *DB) UpsertSeller(ctx context.Context, seller *Seller) error {
	query := `
		INSERT INTO sellers (
			id, name, accepting_commissions, minimum_budget,
			acceptable_price_floor, auto_accept_at_floor, negotiation_style
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			accepting_commissions = EXCLUDED.accepting_commissions,
			minimum_budget = EXCLUDED.minimum_budget,
			acceptable_price_floor = EXCLUDED.acceptable_price_floor,
			auto_accept_at_floor = EXCLUDED.auto_accept_at_floor,
			negotiation_style = EXCLUDED.negotiation_style
	`

	_, err := db.pool.Exec(ctx, query,
		seller.ID,
		seller.Name,
		seller.AcceptingCommissions,
		seller.MinimumBudget,
		seller.AcceptablePriceFloor,
		seller.AutoAcceptAtFloor,
		seller.NegotiationStyle,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert seller: %w", err)
	}

	log.Debug().Str("seller_id", seller.ID).Msg("Seller upserted")
	return nil
}

// SaveSellerForBuyer adds a seller to a buyer's saved list
func (db *DB) SaveSellerForBuyer(ctx context.Context, buyerID, sellerID string) error {
	query := `
		INSERT INTO saved_sellers (buyer_id, seller_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	if _, err := db.pool.Exec(ctx, query, buyerID, sellerID); err != nil {
		return fmt.Errorf("failed to save seller for buyer: %w", err)
	}
	return nil
}

// scanSellers is a helper to scan multiple seller rows
func scanSellers(rows pgx.Rows) ([]*Seller, error) {
	var sellers []*Seller
	for rows.Next() {
		var seller Seller
		err := rows.Scan(
			&seller.ID,
			&seller.Name,
			&seller.AcceptingCommissions,
			&seller.MinimumBudget,
			&seller.AcceptablePriceFloor,
			&seller.AutoAcceptAtFloor,
			&seller.NegotiationStyle,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan seller: %w", err)
		}
		sellers = append(sellers, &seller)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sellers: %w", err)
	}

	return sellers, nil
}
