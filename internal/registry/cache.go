package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kalaikatha/commissions/internal/db"
)

// CachedRegistry wraps a Registry with Redis read-through caching. Seller
// rows are read on every order intake, so the hot path avoids the database.
// Cache errors degrade to the inner registry, never to request failures.
type CachedRegistry struct {
	inner  Registry
	client *redis.Client
	ttl    time.Duration
}

// NewCachedRegistry creates a cached registry. If client is nil the inner
// registry is returned unwrapped behavior-wise (all calls pass through).
func NewCachedRegistry(inner Registry, client *redis.Client, ttl time.Duration) *CachedRegistry {
	if ttl == 0 {
		ttl = 2 * time.Minute
	}
	return &CachedRegistry{
		inner:  inner,
		client: client,
		ttl:    ttl,
	}
}

func sellerKey(sellerID string) string {
	return fmt.Sprintf("registry:seller:%s", sellerID)
}

const allSellersKey = "registry:sellers:all"

// Seller returns a seller, preferring the cache
func (c *CachedRegistry) Seller(ctx context.Context, sellerID string) (*db.Seller, error) {
	if c.client != nil {
		cached, err := c.client.Get(ctx, sellerKey(sellerID)).Result()
		if err == nil {
			var seller db.Seller
			if err := json.Unmarshal([]byte(cached), &seller); err == nil {
				return &seller, nil
			}
			log.Warn().Str("seller_id", sellerID).Msg("Failed to unmarshal cached seller, fetching fresh")
		} else if err != redis.Nil {
			log.Warn().Err(err).Msg("Redis error during seller cache lookup")
		}
	}

	seller, err := c.inner.Seller(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	c.put(ctx, sellerKey(sellerID), seller)
	return seller, nil
}

// AllSellers returns the full registry, preferring the cache
func (c *CachedRegistry) AllSellers(ctx context.Context) ([]*db.Seller, error) {
	if c.client != nil {
		cached, err := c.client.Get(ctx, allSellersKey).Result()
		if err == nil {
			var sellers []*db.Seller
			if err := json.Unmarshal([]byte(cached), &sellers); err == nil {
				return sellers, nil
			}
			log.Warn().Msg("Failed to unmarshal cached seller list, fetching fresh")
		} else if err != redis.Nil {
			log.Warn().Err(err).Msg("Redis error during seller list cache lookup")
		}
	}

	sellers, err := c.inner.AllSellers(ctx)
	if err != nil {
		return nil, err
	}

	c.put(ctx, allSellersKey, sellers)
	return sellers, nil
}

// SellersByIDs resolves each id via the per-seller cache
func (c *CachedRegistry) SellersByIDs(ctx context.Context, ids []string) ([]*db.Seller, error) {
	if c.client == nil {
		return c.inner.SellersByIDs(ctx, ids)
	}

	var sellers []*db.Seller
	var missing []string
	for _, id := range ids {
		cached, err := c.client.Get(ctx, sellerKey(id)).Result()
		if err != nil {
			if err != redis.Nil {
				log.Warn().Err(err).Msg("Redis error during seller cache lookup")
			}
			missing = append(missing, id)
			continue
		}
		var seller db.Seller
		if err := json.Unmarshal([]byte(cached), &seller); err != nil {
			missing = append(missing, id)
			continue
		}
		sellers = append(sellers, &seller)
	}

	if len(missing) > 0 {
		fetched, err := c.inner.SellersByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, seller := range fetched {
			c.put(ctx, sellerKey(seller.ID), seller)
			sellers = append(sellers, seller)
		}
	}

	return sellers, nil
}

// SavedSellerIDs is a buyer-keyed read; saved lists change often enough that
// it always hits the inner registry
func (c *CachedRegistry) SavedSellerIDs(ctx context.Context, buyerID string) ([]string, error) {
	return c.inner.SavedSellerIDs(ctx, buyerID)
}

// put stores a value in the cache, logging and continuing on failure
func (c *CachedRegistry) put(ctx context.Context, key string, value interface{}) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to marshal registry cache entry")
		return
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to store registry cache entry")
	}
}
