package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/quietgrove/gatehouse/pkg/config"
	"github.com/quietgrove/gatehouse/pkg/observability"
)

// ErrNotFound means no organization carries the external identifier.
// Provisioning a tenant is a database insert, so this resolves itself the
// moment an admin adds the row (negative results are not cached by default).
var ErrNotFound = errors.New("tenant not found")

// Store looks up the internal tenant behind an external organization
// identifier. The database is the source of truth; the resolver only
// caches its answers.
type Store interface {
	LookupByExternalID(ctx context.Context, externalOrgID string) (uuid.UUID, error)
}

// Resolver maps external organization identifiers to internal tenant IDs
// through a process-wide cache with a bounded TTL.
//
// Concurrent misses for the same identifier are collapsed into one store
// query. Cache writes are last-write-wins; that race is acceptable because
// every write carries a value freshly read from the store.
type Resolver struct {
	store    Store
	cache    *lru.LRU[string, uuid.UUID]
	negative *lru.LRU[string, struct{}]
	group    singleflight.Group
	metrics  *observability.Metrics
}

// NewResolver creates a resolver with the configured cache TTL and size.
// A non-zero NegativeCacheTTL additionally caches not-found answers, which
// blunts enumeration probing at the cost of delaying brand-new tenants by
// up to that TTL.
func NewResolver(store Store, cfg config.TenantConfig, metrics *observability.Metrics) *Resolver {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	r := &Resolver{
		store:   store,
		cache:   lru.NewLRU[string, uuid.UUID](size, nil, ttl),
		metrics: metrics,
	}
	if cfg.NegativeCacheTTL > 0 {
		r.negative = lru.NewLRU[string, struct{}](size, nil, cfg.NegativeCacheTTL)
	}
	return r
}

// Resolve returns the internal tenant ID for an external organization
// identifier.
func (r *Resolver) Resolve(ctx context.Context, externalOrgID string) (uuid.UUID, error) {
	if externalOrgID == "" {
		return uuid.Nil, fmt.Errorf("%w: empty organization identifier", ErrNotFound)
	}

	// Internally issued tokens carry the tenant UUID directly; skip the
	// cache and store entirely.
	if id, err := uuid.Parse(externalOrgID); err == nil {
		return id, nil
	}

	if id, ok := r.cache.Get(externalOrgID); ok {
		r.recordHit()
		return id, nil
	}
	if r.negative != nil {
		if _, ok := r.negative.Get(externalOrgID); ok {
			r.recordHit()
			return uuid.Nil, ErrNotFound
		}
	}
	r.recordMiss()

	v, err, _ := r.group.Do(externalOrgID, func() (interface{}, error) {
		id, err := r.store.LookupByExternalID(ctx, externalOrgID)
		if err != nil {
			if errors.Is(err, ErrNotFound) && r.negative != nil {
				r.negative.Add(externalOrgID, struct{}{})
			}
			return uuid.Nil, err
		}
		r.cache.Add(externalOrgID, id)
		return id, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return v.(uuid.UUID), nil
}

// Invalidate drops a single cache entry, used after administrative changes
// to an organization's provider mapping.
func (r *Resolver) Invalidate(externalOrgID string) {
	r.cache.Remove(externalOrgID)
	if r.negative != nil {
		r.negative.Remove(externalOrgID)
	}
}

// ClearAll drops every cached mapping. Operational recovery only.
func (r *Resolver) ClearAll() {
	r.cache.Purge()
	if r.negative != nil {
		r.negative.Purge()
	}
}

func (r *Resolver) recordHit() {
	if r.metrics != nil {
		r.metrics.TenantCacheHitsTotal.Inc()
	}
}

func (r *Resolver) recordMiss() {
	if r.metrics != nil {
		r.metrics.TenantCacheMissesTotal.Inc()
	}
}
