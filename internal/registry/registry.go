// Package registry exposes the read-only seller registry consumed by
// candidate selection. The system of record is the sellers table, owned by
// the listing service.
package registry

import (
	"context"

	"github.com/kalaikatha/commissions/internal/db"
)

// Registry is the read interface over the seller registry
type Registry interface {
	// Seller returns a single seller by id
	Seller(ctx context.Context, sellerID string) (*db.Seller, error)

	// AllSellers returns every registered seller
	AllSellers(ctx context.Context) ([]*db.Seller, error)

	// SellersByIDs returns the sellers with the given ids; unknown ids are
	// absent from the result
	SellersByIDs(ctx context.Context, ids []string) ([]*db.Seller, error)

	// SavedSellerIDs returns the buyer's saved-seller list
	SavedSellerIDs(ctx context.Context, buyerID string) ([]string, error)
}

// StoreRegistry reads sellers straight from the order store's database
type StoreRegistry struct {
	store *db.DB
}

// NewStoreRegistry creates a registry backed by the database
func NewStoreRegistry(store *db.DB) *StoreRegistry {
	return &StoreRegistry{store: store}
}

func (r *StoreRegistry) Seller(ctx context.Context, sellerID string) (*db.Seller, error) {
	return r.store.GetSeller(ctx, sellerID)
}

func (r *StoreRegistry) AllSellers(ctx context.Context) ([]*db.Seller, error) {
	return r.store.ListSellers(ctx)
}

func (r *StoreRegistry) SellersByIDs(ctx context.Context, ids []string) ([]*db.Seller, error) {
	return r.store.GetSellersByIDs(ctx, ids)
}

func (r *StoreRegistry) SavedSellerIDs(ctx context.Context, buyerID string) ([]string, error) {
	return r.store.ListSavedSellerIDs(ctx, buyerID)
}
