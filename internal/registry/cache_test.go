package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalaikatha/commissions/internal/db"
)

// stubRegistry counts calls so tests can assert cache hits skip the store.
type stubRegistry struct {
	sellers map[string]*db.Seller
	saved   map[string][]string
	calls   int
}

func (s *stubRegistry) Seller(ctx context.Context, sellerID string) (*db.Seller, error) {
	s.calls++
	seller, ok := s.sellers[sellerID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return seller, nil
}

func (s *stubRegistry) AllSellers(ctx context.Context) ([]*db.Seller, error) {
	s.calls++
	out := make([]*db.Seller, 0, len(s.sellers))
	for _, seller := range s.sellers {
		out = append(out, seller)
	}
	return out, nil
}

func (s *stubRegistry) SellersByIDs(ctx context.Context, ids []string) ([]*db.Seller, error) {
	s.calls++
	var out []*db.Seller
	for _, id := range ids {
		if seller, ok := s.sellers[id]; ok {
			out = append(out, seller)
		}
	}
	return out, nil
}

func (s *stubRegistry) SavedSellerIDs(ctx context.Context, buyerID string) ([]string, error) {
	s.calls++
	return s.saved[buyerID], nil
}

func newTestCache(t *testing.T, inner Registry) (*CachedRegistry, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCachedRegistry(inner, client, time.Minute), mr
}

func testSellers() map[string]*db.Seller {
	floor := db.Money(280000)
	return map[string]*db.Seller{
		"seller-a": {
			ID:                   "seller-a",
			Name:                 "Asha Pottery",
			AcceptingCommissions: true,
			AcceptablePriceFloor: &floor,
			NegotiationStyle:     "friendly",
		},
		"seller-b": {
			ID:                   "seller-b",
			Name:                 "Bharat Weaves",
			AcceptingCommissions: true,
			NegotiationStyle:     "firm",
		},
	}
}

func TestSellerCachesSecondRead(t *testing.T) {
	stub := &stubRegistry{sellers: testSellers()}
	cache, _ := newTestCache(t, stub)
	ctx := context.Background()

	first, err := cache.Seller(ctx, "seller-a")
	require.NoError(t, err)
	assert.Equal(t, "Asha Pottery", first.Name)
	assert.Equal(t, 1, stub.calls)

	second, err := cache.Seller(ctx, "seller-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, stub.calls, "second read should be served from cache")
}

func TestSellerCacheExpiry(t *testing.T) {
	stub := &stubRegistry{sellers: testSellers()}
	cache, mr := newTestCache(t, stub)
	ctx := context.Background()

	_, err := cache.Seller(ctx, "seller-a")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.Seller(ctx, "seller-a")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls, "expired entry should fall through to the store")
}

func TestAllSellersCaches(t *testing.T) {
	stub := &stubRegistry{sellers: testSellers()}
	cache, _ := newTestCache(t, stub)
	ctx := context.Background()

	sellers, err := cache.AllSellers(ctx)
	require.NoError(t, err)
	assert.Len(t, sellers, 2)

	_, err = cache.AllSellers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestSellersByIDsPartialHit(t *testing.T) {
	stub := &stubRegistry{sellers: testSellers()}
	cache, _ := newTestCache(t, stub)
	ctx := context.Background()

	// Warm one of the two entries.
	_, err := cache.Seller(ctx, "seller-a")
	require.NoError(t, err)
	require.Equal(t, 1, stub.calls)

	sellers, err := cache.SellersByIDs(ctx, []string{"seller-a", "seller-b"})
	require.NoError(t, err)
	assert.Len(t, sellers, 2)
	assert.Equal(t, 2, stub.calls, "only the miss should reach the store")

	// Both entries are warm now.
	sellers, err = cache.SellersByIDs(ctx, []string{"seller-a", "seller-b"})
	require.NoError(t, err)
	assert.Len(t, sellers, 2)
	assert.Equal(t, 2, stub.calls)
}

func TestCacheDegradesWithoutRedis(t *testing.T) {
	stub := &stubRegistry{sellers: testSellers()}
	cache := NewCachedRegistry(stub, nil, time.Minute)
	ctx := context.Background()

	seller, err := cache.Seller(ctx, "seller-b")
	require.NoError(t, err)
	assert.Equal(t, "Bharat Weaves", seller.Name)

	_, err = cache.Seller(ctx, "seller-b")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
}

func TestSavedSellerIDsBypassesCache(t *testing.T) {
	stub := &stubRegistry{
		sellers: testSellers(),
		saved:   map[string][]string{"buyer-1": {"seller-a"}},
	}
	cache, _ := newTestCache(t, stub)

	ids, err := cache.SavedSellerIDs(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"seller-a"}, ids)
}
