package store

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// GiftBreakdown tracks per-viewer quantities by gift id.
type GiftBreakdown struct {
	rdb redis.UniversalClient
	ks  Keyspace
}

func NewGiftBreakdown(rdb redis.UniversalClient, ks Keyspace) *GiftBreakdown {
	return &GiftBreakdown{rdb: rdb, ks: ks}
}

func (g *GiftBreakdown) QueueAdd(ctx context.Context, pipe redis.Pipeliner, viewerID, giftID string, quantity int64) {
	pipe.HIncrBy(ctx, g.ks.UserGifts(viewerID), giftID, quantity)
}

func (g *GiftBreakdown) Read(ctx context.Context, viewerID string) (map[string]int64, error) {
	return ParseBreakdown(g.rdb.HGetAll(ctx, g.ks.UserGifts(viewerID)))
}

func (g *GiftBreakdown) QueueRead(ctx context.Context, pipe redis.Pipeliner, viewerID string) *redis.MapStringStringCmd {
	return pipe.HGetAll(ctx, g.ks.UserGifts(viewerID))
}

// ParseBreakdown decodes gift id -> quantity. Non-numeric values are skipped.
func ParseBreakdown(cmd *redis.MapStringStringCmd) (map[string]int64, error) {
	raw, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for giftID, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[giftID] = n
	}
	return out, nil
}
