package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const wipeBatch = 500

// WipeSession deletes every key of the session using SCAN, never KEYS,
// and returns how many keys were removed.
func WipeSession(ctx context.Context, rdb redis.UniversalClient, ks Keyspace) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := rdb.Scan(ctx, cursor, ks.Pattern(), wipeBatch).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
