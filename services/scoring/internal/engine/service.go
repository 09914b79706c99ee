// Package engine is the scoring contract of one live session: it turns
// normalized engagement into points and keeps the leaderboard consistent
// with per-viewer stats.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/liveshow/services/scoring/internal/scoring"
	"github.com/example/liveshow/services/scoring/internal/store"
)

// Service is bound to exactly one session. It holds no mutable state of
// its own; every call is a Redis round trip.
type Service struct {
	rdb      redis.UniversalClient
	ks       store.Keyspace
	calc     scoring.Calculator
	board    *store.Leaderboard
	stats    *store.UserStatsStore
	gifts    *store.GiftBreakdown
	catalog  *store.GiftCatalog
	comments *store.CommentLog
	now      func() time.Time
}

type Option func(*Service)

func WithCalculator(c scoring.Calculator) Option {
	return func(s *Service) { s.calc = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(rdb redis.UniversalClient, sessionID string, opts ...Option) *Service {
	ks := store.NewKeyspace(sessionID)
	s := &Service{
		rdb:      rdb,
		ks:       ks,
		calc:     scoring.Default(),
		board:    store.NewLeaderboard(rdb, ks),
		stats:    store.NewUserStatsStore(rdb, ks),
		gifts:    store.NewGiftBreakdown(rdb, ks),
		catalog:  store.NewGiftCatalog(rdb, ks),
		comments: store.NewCommentLog(rdb, ks),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) SessionID() string { return s.ks.SessionID() }

func (s *Service) Keyspace() store.Keyspace { return s.ks }

func (s *Service) Leaderboard() *store.Leaderboard { return s.board }

// ProcessLike awards count/divisor points depending on follower status.
func (s *Service) ProcessLike(ctx context.Context, l Like) (Outcome, error) {
	if strings.TrimSpace(l.ViewerID) == "" {
		return skipped("missing viewer id"), nil
	}
	points := s.calc.LikePoints(l.Count, l.IsFollower)
	if points <= 0 {
		return skipped("non-positive like count"), nil
	}

	ints := map[string]int64{store.FieldTotalLikes: l.Count}
	if l.IsFollower {
		ints[store.FieldLikesAsFollower] = l.Count
	} else {
		ints[store.FieldLikesAsNonFollower] = l.Count
	}
	delta := store.Delta{
		Nickname:  l.Nickname,
		AvatarURL: l.AvatarURL,
		Ints:      ints,
		Floats:    map[string]float64{store.FieldPointsFromLikes: points},
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.board.QueueIncrement(ctx, pipe, store.ViewerKey(l.ViewerID, l.Nickname), points)
		s.stats.QueueDelta(ctx, pipe, l.ViewerID, delta)
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("process like: %w", err)
	}
	return Outcome{Points: points}, nil
}

// ProcessGift awards unit × multiplier × quantity and records the gift in
// the catalog and the viewer's breakdown.
func (s *Service) ProcessGift(ctx context.Context, g Gift) (Outcome, error) {
	if strings.TrimSpace(g.ViewerID) == "" {
		return skipped("missing viewer id"), nil
	}
	if strings.TrimSpace(g.GiftID) == "" {
		return skipped("missing gift id"), nil
	}
	if g.UnitValue <= 0 || g.Quantity <= 0 {
		return skipped("non-positive gift value or quantity"), nil
	}
	if !scoring.GiftFits(g.UnitValue, g.Quantity) {
		return skipped("gift value overflows"), nil
	}
	points := scoring.GiftPoints(g.UnitValue, g.Quantity)

	meta := store.GiftMeta{Name: g.GiftName, UnitValue: g.UnitValue}
	if meta.Name == "" {
		meta.Name = g.GiftID
	}
	if g.Icon != "" {
		icon := g.Icon
		meta.Icon = &icon
	}
	delta := store.Delta{
		Nickname:  g.Nickname,
		AvatarURL: g.AvatarURL,
		Ints: map[string]int64{
			store.FieldTotalGiftCoins: g.UnitValue * g.Quantity,
			store.FieldTotalGiftsSent: g.Quantity,
		},
		Floats: map[string]float64{store.FieldPointsFromGifts: points},
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.catalog.QueueUpsert(ctx, pipe, g.GiftID, meta); err != nil {
			return err
		}
		s.gifts.QueueAdd(ctx, pipe, g.ViewerID, g.GiftID, g.Quantity)
		s.board.QueueIncrement(ctx, pipe, store.ViewerKey(g.ViewerID, g.Nickname), points)
		s.stats.QueueDelta(ctx, pipe, g.ViewerID, delta)
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("process gift: %w", err)
	}
	return Outcome{Points: points}, nil
}

// ProcessComment logs the comment and bumps total_comments. Comments never score.
func (s *Service) ProcessComment(ctx context.Context, c Comment) (Outcome, error) {
	if strings.TrimSpace(c.ViewerID) == "" {
		return skipped("missing viewer id"), nil
	}
	if strings.TrimSpace(c.Text) == "" {
		return skipped("empty comment"), nil
	}

	entry := store.Comment{Text: c.Text, Timestamp: s.now().UTC()}
	delta := store.Delta{
		Nickname:  c.Nickname,
		AvatarURL: c.AvatarURL,
		Ints:      map[string]int64{store.FieldTotalComments: 1},
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.comments.QueueAppend(ctx, pipe, c.ViewerID, entry); err != nil {
			return err
		}
		s.stats.QueueDelta(ctx, pipe, c.ViewerID, delta)
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("process comment: %w", err)
	}
	return Outcome{}, nil
}

// IncrementUsedComments records that one of the viewer's comments was used on air.
func (s *Service) IncrementUsedComments(ctx context.Context, viewerID string) (int64, error) {
	if strings.TrimSpace(viewerID) == "" {
		return 0, nil
	}
	n, err := s.stats.IncrementUsedComments(ctx, viewerID)
	if err != nil {
		return 0, fmt.Errorf("increment used comments: %w", err)
	}
	return n, nil
}

// DecrementUsedComments undoes IncrementUsedComments. It is a no-op at zero.
func (s *Service) DecrementUsedComments(ctx context.Context, viewerID string) (int64, error) {
	if strings.TrimSpace(viewerID) == "" {
		return 0, nil
	}
	_, n, err := s.stats.DecrementUsedComments(ctx, viewerID)
	if err != nil {
		return 0, fmt.Errorf("decrement used comments: %w", err)
	}
	return n, nil
}
