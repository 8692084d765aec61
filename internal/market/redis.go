package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisSource reads prices an external oracle publishes into Redis. Each
// asset lives in a hash at "price:{asset}" with a "price" field.
type RedisSource struct {
	rdb *redis.Client
}

// NewRedisSource wraps an existing client.
func NewRedisSource(rdb *redis.Client) *RedisSource {
	return &RedisSource{rdb: rdb}
}

func priceKey(asset string) string {
	return "price:" + asset
}

// Fetch reads all assets in one pipeline. Missing, mistyped or malformed
// keys are skipped; only transport failures are returned.
func (s *RedisSource) Fetch(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	if len(assets) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(assets))
	for i, asset := range assets {
		cmds[i] = pipe.HGetAll(ctx, priceKey(NormalizeAsset(asset)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		var replyErr redis.Error
		if !errors.As(err, &replyErr) {
			return nil, fmt.Errorf("redis: get prices: %w", err)
		}
	}

	out := make(map[string]decimal.Decimal, len(assets))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		raw, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		out[NormalizeAsset(assets[i])] = price
	}
	return out, nil
}

// Publish writes a price in the layout Fetch reads, standing in for the
// oracle.
func (s *RedisSource) Publish(ctx context.Context, asset string, price decimal.Decimal) error {
	if err := s.rdb.HSet(ctx, priceKey(NormalizeAsset(asset)), "price", price.String()).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}
