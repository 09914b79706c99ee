package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/example/liveshow/services/scoring/internal/store"
)

// scoreEpsilon absorbs float drift from fractional like points so that an
// exact integer total does not round up to the next point.
const scoreEpsilon = 1e-9

// PresentScore is the rounded-up score shown to viewers.
func PresentScore(raw float64) int64 {
	if raw <= 0 {
		return 0
	}
	return int64(math.Ceil(raw - scoreEpsilon))
}

// Ranking returns the top limit viewers (all when limit <= 0) joined with
// their stats, gift breakdown and the gift catalog. Stats and breakdowns
// are fetched in one pipeline.
func (s *Service) Ranking(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	ranked, err := s.board.Ranked(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard ranked: %w", err)
	}
	if len(ranked) == 0 {
		return []LeaderboardEntry{}, nil
	}

	statsCmds := make([]*redis.MapStringStringCmd, len(ranked))
	giftCmds := make([]*redis.MapStringStringCmd, len(ranked))
	pipe := s.rdb.Pipeline()
	for i, r := range ranked {
		id, _ := store.SplitViewerKey(r.Member)
		statsCmds[i] = s.stats.QueueRead(ctx, pipe, id)
		giftCmds[i] = s.gifts.QueueRead(ctx, pipe, id)
	}
	metaCmd := s.catalog.QueueReadAll(ctx, pipe)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("leaderboard join: %w", err)
	}

	catalog, err := store.ParseCatalog(metaCmd)
	if err != nil {
		return nil, fmt.Errorf("leaderboard catalog: %w", err)
	}

	out := make([]LeaderboardEntry, 0, len(ranked))
	for i, r := range ranked {
		id, nick := store.SplitViewerKey(r.Member)
		st, _, err := store.ParseStats(statsCmds[i])
		if err != nil {
			return nil, fmt.Errorf("leaderboard stats %s: %w", id, err)
		}
		breakdown, err := store.ParseBreakdown(giftCmds[i])
		if err != nil {
			return nil, fmt.Errorf("leaderboard gifts %s: %w", id, err)
		}
		if st.Nickname != "" {
			nick = st.Nickname
		}
		out = append(out, LeaderboardEntry{
			Rank:           i + 1,
			UserKey:        r.Member,
			UserID:         id,
			Nickname:       nick,
			Score:          PresentScore(r.Score),
			AvatarURL:      st.AvatarURL,
			Comments:       st.AvailableComments(),
			Likes:          st.TotalLikes,
			Gifts:          st.TotalGiftsSent,
			GiftsBreakdown: joinGifts(breakdown, catalog),
		})
	}
	return out, nil
}

// UserDetail returns raw stats, the full comment log and the gift breakdown.
func (s *Service) UserDetail(ctx context.Context, viewerID string) (UserDetail, error) {
	pipe := s.rdb.Pipeline()
	statsCmd := s.stats.QueueRead(ctx, pipe, viewerID)
	commentsCmd := s.comments.QueueReadAll(ctx, pipe, viewerID)
	giftsCmd := s.gifts.QueueRead(ctx, pipe, viewerID)
	metaCmd := s.catalog.QueueReadAll(ctx, pipe)
	if _, err := pipe.Exec(ctx); err != nil {
		return UserDetail{}, fmt.Errorf("user detail: %w", err)
	}

	st, found, err := store.ParseStats(statsCmd)
	if err != nil {
		return UserDetail{}, fmt.Errorf("user detail stats: %w", err)
	}
	comments, err := store.ParseComments(commentsCmd)
	if err != nil {
		return UserDetail{}, fmt.Errorf("user detail comments: %w", err)
	}
	breakdown, err := store.ParseBreakdown(giftsCmd)
	if err != nil {
		return UserDetail{}, fmt.Errorf("user detail gifts: %w", err)
	}
	catalog, err := store.ParseCatalog(metaCmd)
	if err != nil {
		return UserDetail{}, fmt.Errorf("user detail catalog: %w", err)
	}
	return UserDetail{
		ViewerID: viewerID,
		Found:    found || len(comments) > 0,
		Stats:    st,
		Comments: comments,
		Gifts:    joinGifts(breakdown, catalog),
	}, nil
}

// joinGifts orders lines by count descending, then gift id.
func joinGifts(breakdown map[string]int64, catalog store.Catalog) []GiftLine {
	lines := make([]GiftLine, 0, len(breakdown))
	for giftID, n := range breakdown {
		meta := catalog.Resolve(giftID)
		lines = append(lines, GiftLine{
			GiftID:    giftID,
			Name:      meta.Name,
			Count:     n,
			UnitValue: meta.UnitValue,
			Icon:      meta.Icon,
		})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Count != lines[j].Count {
			return lines[i].Count > lines[j].Count
		}
		return lines[i].GiftID < lines[j].GiftID
	})
	return lines
}
