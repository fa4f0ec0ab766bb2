package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/metergate/metergate/pkg/store"
)

// CachedUserStore is a read-through cache in front of a UserStore. User
// records are cached by id with a bounded TTL; every subscription write
// invalidates the cached entry before hitting the backing store, so the
// cache never holds a state newer than the store. Lookups by provider
// identity always go to the backing store: they sit on the reconcile path
// where a stale binding would be worse than an extra query.
type CachedUserStore struct {
	backing UserStore
	cache   *store.RedisClient
}

// NewCachedUserStore wraps backing with a redis read-through cache
func NewCachedUserStore(backing UserStore, cache *store.RedisClient) *CachedUserStore {
	return &CachedUserStore{backing: backing, cache: cache}
}

func userCacheKey(id int64) string {
	return fmt.Sprintf("user:%d", id)
}

// GetUser returns the cached record when fresh, falling back to the store.
// Cache failures degrade to store reads rather than failing the request.
func (c *CachedUserStore) GetUser(ctx context.Context, id int64) (*User, error) {
	key := userCacheKey(id)

	if data, err := c.cache.Get(ctx, key); err == nil && data != nil {
		var u User
		if err := json.Unmarshal(data, &u); err == nil {
			return &u, nil
		}
		// Corrupt entry; drop it and fall through to the store
		c.cache.Delete(ctx, key)
	}

	u, err := c.backing.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(u); err == nil {
		c.cache.Set(ctx, key, data)
	}

	return u, nil
}

// GetUserByEmail delegates to the backing store
func (c *CachedUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return c.backing.GetUserByEmail(ctx, email)
}

// GetUserByStripeCustomerID delegates to the backing store
func (c *CachedUserStore) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	return c.backing.GetUserByStripeCustomerID(ctx, customerID)
}

// GetUserByStripeSubscriptionID delegates to the backing store
func (c *CachedUserStore) GetUserByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*User, error) {
	return c.backing.GetUserByStripeSubscriptionID(ctx, subscriptionID)
}

// UpdateSubscription invalidates the cached record, writes through to the
// backing store, and repopulates the cache with the returned state.
func (c *CachedUserStore) UpdateSubscription(ctx context.Context, userID int64, sub Subscription) (*User, error) {
	c.cache.Delete(ctx, userCacheKey(userID))

	u, err := c.backing.UpdateSubscription(ctx, userID, sub)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(u); err == nil {
		c.cache.Set(ctx, userCacheKey(userID), data)
	}

	return u, nil
}

// ListUserIDs delegates to the backing store
func (c *CachedUserStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	return c.backing.ListUserIDs(ctx)
}
