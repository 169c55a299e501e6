package cache

import (
	"context"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/code-payments/premium-server/billing"
)

// Catalog serves sku details from a ttl cache in front of another catalog.
// Failed lookups are not cached.
type Catalog struct {
	db    billing.Catalog
	cache *ttlcache.Cache
}

func NewInCache(db billing.Catalog, ttl time.Duration) *Catalog {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	cache.SkipTtlExtensionOnHit(true)
	return &Catalog{
		db:    db,
		cache: cache,
	}
}

func (c *Catalog) GetSkuDetails(ctx context.Context, sku string) (*billing.SkuDetails, error) {
	cached, ok := c.cache.Get(sku)
	if ok {
		return cached.(*billing.SkuDetails).Clone(), nil
	}

	details, err := c.db.GetSkuDetails(ctx, sku)
	if err != nil {
		return nil, err
	}

	c.cache.Set(sku, details.Clone())
	return details, nil
}

// Invalidate drops the cached details of sku.
func (c *Catalog) Invalidate(sku string) {
	c.cache.Remove(sku)
}

func (c *Catalog) Close() {
	c.cache.Close()
}
