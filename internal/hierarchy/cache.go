package hierarchy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-promo/internal/promo"
)

// CachedStore is a look-aside Redis cache in front of another HierarchyStore.
// Group hierarchies change rarely, so a short TTL keeps the hot path off the
// database without an explicit invalidation protocol.
type CachedStore struct {
	Next   promo.HierarchyStore
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (c *CachedStore) key(group string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "promo:chain:"
	}
	return prefix + group
}

// AncestorsInclusive serves the chain from Redis when present, otherwise
// delegates and caches the result. Cache failures degrade to the underlying
// store rather than failing the call.
func (c *CachedStore) AncestorsInclusive(ctx context.Context, group string) ([]string, error) {
	if c.R != nil {
		if raw, err := c.R.Get(ctx, c.key(group)).Bytes(); err == nil {
			var chain []string
			if json.Unmarshal(raw, &chain) == nil && len(chain) > 0 {
				return chain, nil
			}
		}
	}

	chain, err := c.Next.AncestorsInclusive(ctx, group)
	if err != nil {
		return nil, err
	}

	if c.R != nil && c.TTL > 0 {
		if raw, err := json.Marshal(chain); err == nil {
			_ = c.R.Set(ctx, c.key(group), raw, c.TTL).Err()
		}
	}
	return chain, nil
}

// Invalidate drops the cached chain for one group. Called after hierarchy
// edits so the next resolution sees fresh data before the TTL expires.
func (c *CachedStore) Invalidate(ctx context.Context, group string) error {
	if c.R == nil {
		return nil
	}
	return c.R.Del(ctx, c.key(group)).Err()
}
