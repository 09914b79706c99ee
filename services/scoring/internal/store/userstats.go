package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Hash fields of session:{id}:user_data:{viewer}.
const (
	FieldNickname            = "nickname"
	FieldAvatarURL           = "avatar_url"
	FieldTotalLikes          = "total_likes"
	FieldLikesAsFollower     = "likes_as_follower"
	FieldLikesAsNonFollower  = "likes_as_non_follower"
	FieldPointsFromLikes     = "points_from_likes"
	FieldTotalGiftCoins      = "total_gift_coins"
	FieldTotalGiftsSent      = "total_gifts_sent"
	FieldPointsFromGifts     = "points_from_gifts"
	FieldTotalComments       = "total_comments"
	FieldUniqueCommentsCount = "unique_comments_count"
	FieldUsedCommentsCount   = "used_comments_count"
	FieldUsedLikes           = "used_likes"
	FieldUsedGiftsSent       = "used_gifts_sent"
	FieldUsedGiftCoins       = "used_gift_coins"
)

// UserStats is the typed view of a viewer's stats hash. Missing fields read as zero.
type UserStats struct {
	Nickname            string  `redis:"nickname" json:"nickname"`
	AvatarURL           string  `redis:"avatar_url" json:"avatar_url"`
	TotalLikes          int64   `redis:"total_likes" json:"total_likes"`
	LikesAsFollower     int64   `redis:"likes_as_follower" json:"likes_as_follower"`
	LikesAsNonFollower  int64   `redis:"likes_as_non_follower" json:"likes_as_non_follower"`
	PointsFromLikes     float64 `redis:"points_from_likes" json:"points_from_likes"`
	TotalGiftCoins      int64   `redis:"total_gift_coins" json:"total_gift_coins"`
	TotalGiftsSent      int64   `redis:"total_gifts_sent" json:"total_gifts_sent"`
	PointsFromGifts     float64 `redis:"points_from_gifts" json:"points_from_gifts"`
	TotalComments       int64   `redis:"total_comments" json:"total_comments"`
	UniqueCommentsCount int64   `redis:"unique_comments_count" json:"unique_comments_count"`
	UsedCommentsCount   int64   `redis:"used_comments_count" json:"used_comments_count"`
	UsedLikes           int64   `redis:"used_likes" json:"used_likes"`
	UsedGiftsSent       int64   `redis:"used_gifts_sent" json:"used_gifts_sent"`
	UsedGiftCoins       int64   `redis:"used_gift_coins" json:"used_gift_coins"`
}

// AvailableComments is total minus used.
func (s UserStats) AvailableComments() int64 {
	return s.TotalComments - s.UsedCommentsCount
}

// Points is the sum the leaderboard score should track.
func (s UserStats) Points() float64 {
	return s.PointsFromLikes + s.PointsFromGifts
}

// Delta is one atomic update. Identity fields are written only when
// non-empty; counters are incremented by the given amounts.
type Delta struct {
	Nickname  string
	AvatarURL string
	Ints      map[string]int64
	Floats    map[string]float64
}

// UserStatsStore owns the per-viewer stats hashes.
type UserStatsStore struct {
	rdb redis.UniversalClient
	ks  Keyspace
}

func NewUserStatsStore(rdb redis.UniversalClient, ks Keyspace) *UserStatsStore {
	return &UserStatsStore{rdb: rdb, ks: ks}
}

// ApplyDelta commits d in a single MULTI/EXEC.
func (s *UserStatsStore) ApplyDelta(ctx context.Context, viewerID string, d Delta) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.QueueDelta(ctx, pipe, viewerID, d)
		return nil
	})
	return err
}

// QueueDelta adds d to an open pipeline or transaction.
func (s *UserStatsStore) QueueDelta(ctx context.Context, pipe redis.Pipeliner, viewerID string, d Delta) {
	key := s.ks.UserData(viewerID)
	identity := make([]any, 0, 4)
	if d.Nickname != "" {
		identity = append(identity, FieldNickname, d.Nickname)
	}
	if d.AvatarURL != "" {
		identity = append(identity, FieldAvatarURL, d.AvatarURL)
	}
	if len(identity) > 0 {
		pipe.HSet(ctx, key, identity...)
	}
	for field, n := range d.Ints {
		pipe.HIncrBy(ctx, key, field, n)
	}
	for field, f := range d.Floats {
		pipe.HIncrByFloat(ctx, key, field, f)
	}
}

// Read returns the typed stats and whether the viewer has any record.
func (s *UserStatsStore) Read(ctx context.Context, viewerID string) (UserStats, bool, error) {
	return ParseStats(s.rdb.HGetAll(ctx, s.ks.UserData(viewerID)))
}

// QueueRead adds an HGETALL to a pipeline; decode it with ParseStats after Exec.
func (s *UserStatsStore) QueueRead(ctx context.Context, pipe redis.Pipeliner, viewerID string) *redis.MapStringStringCmd {
	return pipe.HGetAll(ctx, s.ks.UserData(viewerID))
}

func ParseStats(cmd *redis.MapStringStringCmd) (UserStats, bool, error) {
	var st UserStats
	if err := cmd.Err(); err != nil {
		return st, false, err
	}
	if len(cmd.Val()) == 0 {
		return st, false, nil
	}
	if err := cmd.Scan(&st); err != nil {
		return st, true, fmt.Errorf("scan user stats: %w", err)
	}
	return st, true, nil
}

func (s *UserStatsStore) IncrementUsedComments(ctx context.Context, viewerID string) (int64, error) {
	return s.rdb.HIncrBy(ctx, s.ks.UserData(viewerID), FieldUsedCommentsCount, 1).Result()
}

var decrementUsedScript = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0') or 0
if v <= 0 then
  return {0, 0}
end
return {1, redis.call('HINCRBY', KEYS[1], ARGV[1], -1)}
`)

// DecrementUsedComments lowers used_comments_count by one unless it is
// already zero. It reports whether anything changed and the new value.
func (s *UserStatsStore) DecrementUsedComments(ctx context.Context, viewerID string) (bool, int64, error) {
	res, err := decrementUsedScript.Run(ctx, s.rdb, []string{s.ks.UserData(viewerID)}, FieldUsedCommentsCount).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("decrement used comments: unexpected reply %v", res)
	}
	return res[0] == 1, res[1], nil
}
