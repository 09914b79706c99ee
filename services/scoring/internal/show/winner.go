package show

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/liveshow/internal/platform/analytics"
	"github.com/example/liveshow/services/scoring/internal/engine"
	"github.com/example/liveshow/services/scoring/internal/store"
)

type Winner struct {
	UserID         string            `json:"user_id"`
	Nickname       string            `json:"nickname"`
	Score          int64             `json:"score"`
	Stats          store.UserStats   `json:"stats"`
	Comments       []store.Comment   `json:"comments"`
	GiftsBreakdown []engine.GiftLine `json:"gifts_breakdown"`
}

// SelectWinner closes scoring, takes the top viewer and removes them from
// the leaderboard so the next round starts without them. Their stats stay.
func (c *Controller) SelectWinner(ctx context.Context) (Winner, error) {
	c.scoring.Store(false)
	eng := c.Engine()

	top, err := eng.Ranking(ctx, 1)
	if err != nil {
		return Winner{}, err
	}
	if len(top) == 0 {
		return Winner{}, ErrNoWinner
	}
	entry := top[0]

	detail, err := eng.UserDetail(ctx, entry.UserID)
	if err != nil {
		return Winner{}, err
	}
	if _, err := eng.Leaderboard().Remove(ctx, entry.UserKey); err != nil {
		c.cfg.Metrics.IncStoreError("remove_winner")
		return Winner{}, fmt.Errorf("remove winner %s: %w", entry.UserKey, err)
	}

	w := Winner{
		UserID:         entry.UserID,
		Nickname:       entry.Nickname,
		Score:          entry.Score,
		Stats:          detail.Stats,
		Comments:       detail.Comments,
		GiftsBreakdown: detail.Gifts,
	}
	c.cfg.Analytics.Publish(analytics.SubjectWinnerSelected, "winner_selected", eng.SessionID(), w.UserID, map[string]any{
		"nickname": w.Nickname,
		"score":    w.Score,
	})
	c.log.Info("winner selected", zap.String("session_id", eng.SessionID()), zap.String("viewer_id", w.UserID), zap.Int64("score", w.Score))
	return w, nil
}
