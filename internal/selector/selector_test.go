package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalaikatha/commissions/internal/db"
)

type fakeRegistry struct {
	sellers map[string]*db.Seller
	saved   map[string][]string
}

func (f *fakeRegistry) Seller(ctx context.Context, sellerID string) (*db.Seller, error) {
	seller, ok := f.sellers[sellerID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return seller, nil
}

func (f *fakeRegistry) AllSellers(ctx context.Context) ([]*db.Seller, error) {
	out := make([]*db.Seller, 0, len(f.sellers))
	for _, seller := range f.sellers {
		out = append(out, seller)
	}
	return out, nil
}

func (f *fakeRegistry) SellersByIDs(ctx context.Context, ids []string) ([]*db.Seller, error) {
	var out []*db.Seller
	for _, id := range ids {
		if seller, ok := f.sellers[id]; ok {
			out = append(out, seller)
		}
	}
	return out, nil
}

func (f *fakeRegistry) SavedSellerIDs(ctx context.Context, buyerID string) ([]string, error) {
	return f.saved[buyerID], nil
}

func money(v int64) *db.Money {
	m := db.Money(v)
	return &m
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		sellers: map[string]*db.Seller{
			"seller-a": {ID: "seller-a", Name: "Asha Pottery", AcceptingCommissions: true, NegotiationStyle: "friendly"},
			"seller-b": {ID: "seller-b", Name: "Bharat Weaves", AcceptingCommissions: true, MinimumBudget: money(500000), NegotiationStyle: "firm"},
			"seller-c": {ID: "seller-c", Name: "Chitra Crafts", AcceptingCommissions: false, NegotiationStyle: "flexible"},
		},
		saved: map[string][]string{
			"buyer-1": {"seller-a", "seller-b"},
		},
	}
}

func TestSelectOpenMode(t *testing.T) {
	reg := newFakeRegistry()

	result, err := Select(context.Background(), reg, db.SelectionModeOpen, "buyer-1", nil, 100000)
	require.NoError(t, err)

	require.Len(t, result.Selected, 1)
	assert.Equal(t, "seller-a", result.Selected[0].ID)

	reasons := map[string]string{}
	for _, e := range result.Excluded {
		reasons[e.SellerID] = e.Reason
	}
	assert.Equal(t, ReasonBudgetTooLow, reasons["seller-b"])
	assert.Equal(t, ReasonNotAccepting, reasons["seller-c"])
}

func TestSelectOpenModeHighBudget(t *testing.T) {
	reg := newFakeRegistry()

	result, err := Select(context.Background(), reg, db.SelectionModeOpen, "buyer-1", nil, 600000)
	require.NoError(t, err)

	require.Len(t, result.Selected, 2)
	// Deterministic order by seller id.
	assert.Equal(t, "seller-a", result.Selected[0].ID)
	assert.Equal(t, "seller-b", result.Selected[1].ID)
}

func TestSelectSavedMode(t *testing.T) {
	reg := newFakeRegistry()

	result, err := Select(context.Background(), reg, db.SelectionModeSaved, "buyer-1", nil, 600000)
	require.NoError(t, err)
	require.Len(t, result.Selected, 2)
	assert.False(t, result.Empty())
}

func TestSelectSavedModeEmptyList(t *testing.T) {
	reg := newFakeRegistry()

	result, err := Select(context.Background(), reg, db.SelectionModeSaved, "buyer-without-saved", nil, 600000)
	require.NoError(t, err)
	assert.True(t, result.Empty())
	require.Len(t, result.Excluded, 1)
	assert.Equal(t, ReasonNoSavedSellers, result.Excluded[0].Reason)
}

func TestSelectSpecificMode(t *testing.T) {
	reg := newFakeRegistry()

	result, err := Select(context.Background(), reg, db.SelectionModeSpecific, "buyer-1",
		[]string{"seller-a", "seller-c", "seller-missing"}, 100000)
	require.NoError(t, err)

	require.Len(t, result.Selected, 1)
	assert.Equal(t, "seller-a", result.Selected[0].ID)

	reasons := map[string]string{}
	for _, e := range result.Excluded {
		reasons[e.SellerID] = e.Reason
	}
	assert.Equal(t, ReasonNotAccepting, reasons["seller-c"])
	assert.Equal(t, ReasonUnknownSeller, reasons["seller-missing"])
}

func TestSelectSpecificModeRepeatedIDs(t *testing.T) {
	reg := newFakeRegistry()

	result, err := Select(context.Background(), reg, db.SelectionModeSpecific, "buyer-1",
		[]string{"seller-a", "seller-a", "seller-missing", "seller-missing"}, 100000)
	require.NoError(t, err)

	// A repeated id yields one candidate slot, not two.
	require.Len(t, result.Selected, 1)
	assert.Equal(t, "seller-a", result.Selected[0].ID)
	require.Len(t, result.Excluded, 1)
	assert.Equal(t, ReasonUnknownSeller, result.Excluded[0].Reason)
}

func TestSelectSpecificModeRequiresIDs(t *testing.T) {
	reg := newFakeRegistry()

	_, err := Select(context.Background(), reg, db.SelectionModeSpecific, "buyer-1", nil, 100000)
	assert.Error(t, err)
}

func TestSelectSingleMode(t *testing.T) {
	reg := newFakeRegistry()

	result, err := Select(context.Background(), reg, db.SelectionModeSingle, "buyer-1", []string{"seller-a"}, 100000)
	require.NoError(t, err)
	require.Len(t, result.Selected, 1)
	assert.Equal(t, "seller-a", result.Selected[0].ID)

	_, err = Select(context.Background(), reg, db.SelectionModeSingle, "buyer-1", []string{"seller-a", "seller-b"}, 100000)
	assert.Error(t, err)
}

func TestSelectBudgetBelowEveryMinimum(t *testing.T) {
	reg := &fakeRegistry{
		sellers: map[string]*db.Seller{
			"seller-b": {ID: "seller-b", AcceptingCommissions: true, MinimumBudget: money(500000)},
		},
	}

	result, err := Select(context.Background(), reg, db.SelectionModeOpen, "buyer-1", nil, 100)
	require.NoError(t, err)
	assert.True(t, result.Empty())
	require.Len(t, result.Excluded, 1)
	assert.Equal(t, ReasonBudgetTooLow, result.Excluded[0].Reason)
}

func TestSelectUnknownMode(t *testing.T) {
	reg := newFakeRegistry()

	_, err := Select(context.Background(), reg, db.SelectionMode("RANDOM"), "buyer-1", nil, 100000)
	assert.Error(t, err)
}
