// Package selector resolves a buyer's artist selection into the candidate
// seller pool an order fans out to. Selection is pure over registry reads:
// no order state is touched here.
package selector

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/registry"
)

// Exclusion reasons surfaced to the buyer when a requested or discovered
// seller cannot receive a slot.
const (
	ReasonNotAccepting   = "not accepting commissions"
	ReasonBudgetTooLow   = "budget below seller minimum"
	ReasonUnknownSeller  = "seller not found"
	ReasonNoSavedSellers = "no saved sellers"
)

// Exclusion records why a seller was left out of the pool.
type Exclusion struct {
	SellerID string `json:"seller_id"`
	Reason   string `json:"reason"`
}

// Result is the outcome of candidate selection. Selected is sorted by
// seller ID so fan-out order is deterministic.
type Result struct {
	Selected []*db.Seller
	Excluded []Exclusion
}

// Empty reports whether no seller survived selection.
func (r *Result) Empty() bool {
	return len(r.Selected) == 0
}

// Select resolves the candidate pool for one order. requested is consulted
// only for the SPECIFIC and SINGLE modes.
func Select(ctx context.Context, reg registry.Registry, mode db.SelectionMode, buyerID string, requested []string, budget db.Money) (*Result, error) {
	var (
		candidates []*db.Seller
		excluded   []Exclusion
		err        error
	)

	switch mode {
	case db.SelectionModeOpen:
		candidates, err = reg.AllSellers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sellers: %w", err)
		}

	case db.SelectionModeSaved:
		var ids []string
		ids, err = reg.SavedSellerIDs(ctx, buyerID)
		if err != nil {
			return nil, fmt.Errorf("failed to list saved sellers: %w", err)
		}
		if len(ids) == 0 {
			return &Result{Excluded: []Exclusion{{SellerID: buyerID, Reason: ReasonNoSavedSellers}}}, nil
		}
		candidates, excluded, err = resolveIDs(ctx, reg, ids)
		if err != nil {
			return nil, err
		}

	case db.SelectionModeSpecific:
		if len(requested) == 0 {
			return nil, fmt.Errorf("specific selection requires at least one seller id")
		}
		candidates, excluded, err = resolveIDs(ctx, reg, requested)
		if err != nil {
			return nil, err
		}

	case db.SelectionModeSingle:
		if len(requested) != 1 {
			return nil, fmt.Errorf("single selection requires exactly one seller id, got %d", len(requested))
		}
		candidates, excluded, err = resolveIDs(ctx, reg, requested)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown selection mode: %s", mode)
	}

	result := &Result{Excluded: excluded}
	seen := make(map[string]bool, len(candidates))
	for _, seller := range candidates {
		if seen[seller.ID] {
			continue
		}
		seen[seller.ID] = true
		switch {
		case !seller.AcceptingCommissions:
			result.Excluded = append(result.Excluded, Exclusion{SellerID: seller.ID, Reason: ReasonNotAccepting})
		case seller.MinimumBudget != nil && budget < *seller.MinimumBudget:
			result.Excluded = append(result.Excluded, Exclusion{SellerID: seller.ID, Reason: ReasonBudgetTooLow})
		default:
			result.Selected = append(result.Selected, seller)
		}
	}

	sort.Slice(result.Selected, func(i, j int) bool {
		return result.Selected[i].ID < result.Selected[j].ID
	})

	log.Debug().
		Str("mode", string(mode)).
		Str("buyer_id", buyerID).
		Int("selected", len(result.Selected)).
		Int("excluded", len(result.Excluded)).
		Msg("Candidate pool resolved")

	return result, nil
}

// resolveIDs looks up a requested id list, recording ids absent from the
// registry as exclusions rather than failing the order. Repeated ids
// collapse to one lookup so they cannot yield duplicate candidates.
func resolveIDs(ctx context.Context, reg registry.Registry, ids []string) ([]*db.Seller, []Exclusion, error) {
	ids = dedupe(ids)
	sellers, err := reg.SellersByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve sellers: %w", err)
	}

	found := make(map[string]bool, len(sellers))
	for _, seller := range sellers {
		found[seller.ID] = true
	}

	var excluded []Exclusion
	for _, id := range ids {
		if !found[id] {
			excluded = append(excluded, Exclusion{SellerID: id, Reason: ReasonUnknownSeller})
		}
	}

	return sellers, excluded, nil
}

// dedupe collapses repeated ids preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
