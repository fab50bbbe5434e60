package tenants

import (
	"context"
	"sync"
	"time"
)

type cachedTenant struct {
	loadedAt time.Time
	tenant   Tenant
}

// Cache fronts a Provider with a per-tenant TTL cache for the by-id lookup
// that runs on every authenticated request. Writes through the cache
// invalidate the entry.
type Cache struct {
	Provider
	mu   sync.RWMutex
	byID map[string]cachedTenant
	ttl  time.Duration
	now  func() time.Time
}

func NewCache(p Provider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{Provider: p, byID: map[string]cachedTenant{}, ttl: ttl, now: time.Now}
}

func (c *Cache) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	c.mu.RLock()
	e, ok := c.byID[id]
	if ok && c.now().Sub(e.loadedAt) < c.ttl {
		c.mu.RUnlock()
		return clone(e.tenant), nil
	}
	c.mu.RUnlock()
	t, err := c.Provider.ResolveTenantByID(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	c.mu.Lock()
	c.byID[id] = cachedTenant{loadedAt: c.now(), tenant: clone(t)}
	c.mu.Unlock()
	return t, nil
}

func (c *Cache) UpdateTenant(ctx context.Context, id string, p Patch) (Tenant, error) {
	t, err := c.Provider.UpdateTenant(ctx, id, p)
	c.Invalidate(id)
	return t, err
}

func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
}
