package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SkuMapKey is the redis hash mapping SKU id to target partner. The hash is
// maintained elsewhere; the gateway only reads it.
const SkuMapKey = "sku-id.to.partner"

// HashGetter is the slice of the redis client the SKU map needs.
type HashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// RedisSkuMap resolves SKUs against the shared redis hash.
type RedisSkuMap struct {
	client HashGetter
	key    string
}

func NewRedisSkuMap(client HashGetter) *RedisSkuMap {
	return &RedisSkuMap{client: client, key: SkuMapKey}
}

// Resolve implements SkuResolver. A missing hash field means the SKU is not
// ours; a present but unparseable value falls back to TargetPartnerUnmapped.
func (m *RedisSkuMap) Resolve(ctx context.Context, skuID string) (TargetPartner, bool, error) {
	val, err := m.client.HGet(ctx, m.key, skuID).Result()
	if errors.Is(err, redis.Nil) {
		return TargetPartnerUnmapped, false, nil
	}
	if err != nil {
		return TargetPartnerUnmapped, false, fmt.Errorf("sku map lookup %q: %w", skuID, err)
	}
	partner, _ := ParseTargetPartner(val)
	return partner, true, nil
}
