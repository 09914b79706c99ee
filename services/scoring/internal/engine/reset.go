package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// resetScript runs the whole reset atomically.
// KEYS: user_data, user_gifts, leaderboard. ARGV: viewer id.
// Reply: {found, likes, gifts_sent, gift_coins, zeroed, nickname}.
var resetScript = redis.NewScript(`
local data = KEYS[1]
if redis.call('EXISTS', data) == 0 then
  return {0, 0, 0, 0, 0, ''}
end
local function num(field)
  return tonumber(redis.call('HGET', data, field) or '0') or 0
end
local likes = num('total_likes')
local sent = num('total_gifts_sent')
local coins = num('total_gift_coins')
redis.call('HINCRBY', data, 'used_likes', likes)
redis.call('HINCRBY', data, 'used_gifts_sent', sent)
redis.call('HINCRBY', data, 'used_gift_coins', coins)
redis.call('HSET', data,
  'total_likes', 0, 'likes_as_follower', 0, 'likes_as_non_follower', 0,
  'points_from_likes', 0, 'total_gift_coins', 0, 'total_gifts_sent', 0,
  'points_from_gifts', 0, 'total_comments', 0, 'unique_comments_count', 0,
  'used_comments_count', 0)
redis.call('DEL', KEYS[2])
local nick = redis.call('HGET', data, 'nickname') or ''
local zeroed = 0
if nick ~= '' then
  local member = ARGV[1] .. '|' .. nick
  if redis.call('ZSCORE', KEYS[3], member) then
    redis.call('ZADD', KEYS[3], 0, member)
    zeroed = 1
  end
end
return {1, likes, sent, coins, zeroed, nick}
`)

// ResetUser moves the viewer's current totals into the used mirrors,
// zeroes every running counter, discards the gift breakdown and sets the
// viewer's leaderboard score to 0. The leaderboard step is skipped when no
// nickname is stored. The comment log is kept. Unknown viewers are a no-op.
func (s *Service) ResetUser(ctx context.Context, viewerID string) (ResetResult, error) {
	res := ResetResult{ViewerID: viewerID, At: s.now().UTC()}
	if strings.TrimSpace(viewerID) == "" {
		return res, nil
	}
	keys := []string{s.ks.UserData(viewerID), s.ks.UserGifts(viewerID), s.ks.Leaderboard()}
	reply, err := resetScript.Run(ctx, s.rdb, keys, viewerID).Slice()
	if err != nil {
		return res, fmt.Errorf("reset user: %w", err)
	}
	if len(reply) != 6 {
		return res, fmt.Errorf("reset user: unexpected reply %v", reply)
	}
	ints := make([]int64, 5)
	for i := range ints {
		n, ok := reply[i].(int64)
		if !ok {
			return res, fmt.Errorf("reset user: reply[%d] is %T", i, reply[i])
		}
		ints[i] = n
	}
	res.Found = ints[0] == 1
	res.ArchivedLikes = ints[1]
	res.ArchivedGiftsSent = ints[2]
	res.ArchivedGiftCoins = ints[3]
	res.LeaderboardZeroed = ints[4] == 1
	res.Nickname, _ = reply[5].(string)
	return res, nil
}
