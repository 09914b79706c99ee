package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Leaderboard is the session sorted set.
type Leaderboard struct {
	rdb redis.UniversalClient
	key string
}

func NewLeaderboard(rdb redis.UniversalClient, ks Keyspace) *Leaderboard {
	return &Leaderboard{rdb: rdb, key: ks.Leaderboard()}
}

// Ranked is one member of the ranked view.
type Ranked struct {
	Member string
	Score  float64
}

func (l *Leaderboard) Key() string { return l.key }

func (l *Leaderboard) Increment(ctx context.Context, member string, delta float64) (float64, error) {
	return l.rdb.ZIncrBy(ctx, l.key, delta, member).Result()
}

// QueueIncrement adds a ZINCRBY to an open pipeline or transaction.
func (l *Leaderboard) QueueIncrement(ctx context.Context, pipe redis.Pipeliner, member string, delta float64) {
	pipe.ZIncrBy(ctx, l.key, delta, member)
}

// Ranked returns members by descending score. limit <= 0 returns all.
// Equal scores come back in descending lexicographic member order, which
// is how ZREVRANGE breaks ties.
func (l *Leaderboard) Ranked(ctx context.Context, limit int) ([]Ranked, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	zs, err := l.rdb.ZRevRangeWithScores(ctx, l.key, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Ranked, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Ranked{Member: member, Score: z.Score})
	}
	return out, nil
}

// Score returns the member's score and whether it is present.
func (l *Leaderboard) Score(ctx context.Context, member string) (float64, bool, error) {
	s, err := l.rdb.ZScore(ctx, l.key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return s, true, nil
}

// Zero sets an existing member's score to 0. Absent members are not created.
func (l *Leaderboard) Zero(ctx context.Context, member string) error {
	return l.rdb.ZAddXX(ctx, l.key, redis.Z{Score: 0, Member: member}).Err()
}

// Remove deletes the member. Only winner selection uses this.
func (l *Leaderboard) Remove(ctx context.Context, member string) (bool, error) {
	n, err := l.rdb.ZRem(ctx, l.key, member).Result()
	return n > 0, err
}

func (l *Leaderboard) Size(ctx context.Context) (int64, error) {
	return l.rdb.ZCard(ctx, l.key).Result()
}
