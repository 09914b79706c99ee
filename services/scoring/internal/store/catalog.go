package store

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const unknownGiftName = "Unknown"

// GiftMeta is the catalog record of one gift type.
type GiftMeta struct {
	Name      string  `json:"name"`
	UnitValue int64   `json:"unit_value"`
	Icon      *string `json:"icon"`
}

// UnknownGift is returned for ids the catalog has never seen.
func UnknownGift() GiftMeta {
	return GiftMeta{Name: unknownGiftName}
}

// GiftCatalog is session-wide gift metadata. Last write wins.
type GiftCatalog struct {
	rdb redis.UniversalClient
	key string
}

func NewGiftCatalog(rdb redis.UniversalClient, ks Keyspace) *GiftCatalog {
	return &GiftCatalog{rdb: rdb, key: ks.GiftMeta()}
}

func (c *GiftCatalog) Upsert(ctx context.Context, giftID string, meta GiftMeta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode gift meta: %w", err)
	}
	return c.rdb.HSet(ctx, c.key, giftID, b).Err()
}

func (c *GiftCatalog) QueueUpsert(ctx context.Context, pipe redis.Pipeliner, giftID string, meta GiftMeta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode gift meta: %w", err)
	}
	pipe.HSet(ctx, c.key, giftID, b)
	return nil
}

// Lookup never fails on missing or corrupt entries; it falls back to UnknownGift.
func (c *GiftCatalog) Lookup(ctx context.Context, giftID string) (GiftMeta, error) {
	raw, err := c.rdb.HGet(ctx, c.key, giftID).Result()
	if err == redis.Nil {
		return UnknownGift(), nil
	}
	if err != nil {
		return GiftMeta{}, err
	}
	return decodeMeta(raw), nil
}

func (c *GiftCatalog) LookupAll(ctx context.Context) (Catalog, error) {
	return ParseCatalog(c.rdb.HGetAll(ctx, c.key))
}

func (c *GiftCatalog) QueueReadAll(ctx context.Context, pipe redis.Pipeliner) *redis.MapStringStringCmd {
	return pipe.HGetAll(ctx, c.key)
}

// Catalog is a decoded snapshot of the gift_meta hash.
type Catalog map[string]GiftMeta

// Resolve returns the entry for giftID or the Unknown placeholder.
func (c Catalog) Resolve(giftID string) GiftMeta {
	if m, ok := c[giftID]; ok {
		return m
	}
	return UnknownGift()
}

func ParseCatalog(cmd *redis.MapStringStringCmd) (Catalog, error) {
	raw, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	out := make(Catalog, len(raw))
	for giftID, v := range raw {
		out[giftID] = decodeMeta(v)
	}
	return out, nil
}

func decodeMeta(raw string) GiftMeta {
	var m GiftMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.Name == "" {
		return UnknownGift()
	}
	return m
}
