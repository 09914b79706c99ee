package show

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/liveshow/services/scoring/internal/archive"
	"github.com/example/liveshow/services/scoring/internal/engine"
	"github.com/example/liveshow/services/scoring/internal/ingest"
)

func newController(t *testing.T, sources map[Mode]Source) (*Controller, *archive.Memory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	arch := archive.NewMemory()
	c := New(Config{Redis: rdb, Archive: arch, Sources: sources}, "show-1")
	return c, arch, mr
}

func gift(viewer, nick string, unit, qty int64) engine.Gift {
	return engine.Gift{ViewerID: viewer, Nickname: nick, GiftID: "g", GiftName: "Rose", UnitValue: unit, Quantity: qty}
}

func TestSetSession_ResetWipesOnlyThatSession(t *testing.T) {
	c, arch, mr := newController(t, nil)
	ctx := context.Background()

	_, err := c.ProcessGift(ctx, gift("1", "a", 10, 1))
	require.NoError(t, err)
	mr.Set("session:other:leaderboard", "keep")

	res, err := c.SetSession(ctx, "show-1", true)
	require.NoError(t, err)
	assert.Positive(t, res.KeysRemoved)
	assert.True(t, mr.Exists("session:other:leaderboard"))

	board, err := c.Engine().Ranking(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, board)

	s, err := arch.GetSession(ctx, "show-1")
	require.NoError(t, err)
	assert.True(t, s.Active)

	_, err = c.SetSession(ctx, "  ", false)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSetSession_SwitchesEngine(t *testing.T) {
	c, _, _ := newController(t, nil)
	ctx := context.Background()

	_, _ = c.ProcessGift(ctx, gift("1", "a", 10, 1))
	_, err := c.SetSession(ctx, "show-2", false)
	require.NoError(t, err)
	assert.Equal(t, "show-2", c.SessionID())

	board, _ := c.Engine().Ranking(ctx, 0)
	assert.Empty(t, board)
}

func TestStartStop(t *testing.T) {
	started := make(chan string, 1)
	src := func(ctx context.Context, target string, handle ingest.Handler) error {
		err := handle(ctx, ingest.Event{
			Kind:   ingest.KindLike,
			Viewer: ingest.Viewer{ID: "7", Nickname: "zed"},
			Like:   &ingest.LikePayload{Count: 20, IsFollower: true},
		})
		started <- target
		if err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
	c, _, _ := newController(t, map[Mode]Source{ModeMock: src})
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, ModeMock, "capture.jsonl"))
	assert.Equal(t, "capture.jsonl", <-started)
	assert.ErrorIs(t, c.Start(ctx, ModeMock, "again"), ErrAlreadyRunning)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.True(t, st.ScoringActive)
	assert.Equal(t, "mock", st.Mode)
	assert.Equal(t, int64(1), st.LeaderboardSize)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))

	st, _ = c.Status(ctx)
	assert.False(t, st.Connected)
	assert.False(t, st.ScoringActive)

	assert.ErrorIs(t, c.Start(ctx, "tiktok", ""), ErrUnknownMode)
}

func TestStart_RejectsUncheckedTarget(t *testing.T) {
	ran := make(chan string, 1)
	src := func(ctx context.Context, target string, _ ingest.Handler) error {
		ran <- target
		<-ctx.Done()
		return ctx.Err()
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := New(Config{
		Redis:   rdb,
		Sources: map[Mode]Source{ModeMock: src},
		CheckTarget: func(mode Mode, target string) (string, error) {
			if mode == ModeMock {
				return ingest.ReplayPath(target)
			}
			return target, nil
		},
	}, "show-1")
	ctx := context.Background()

	for _, bad := range []string{"/etc/passwd", "../secrets.jsonl", ""} {
		err := c.Start(ctx, ModeMock, bad)
		assert.ErrorIs(t, err, ErrInvalidTarget, bad)
		assert.ErrorIs(t, err, ingest.ErrReplayPath, bad)
	}
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Connected)
	assert.False(t, st.ScoringActive)

	require.NoError(t, c.Start(ctx, ModeMock, "captures/./night.jsonl"))
	assert.Equal(t, "captures/night.jsonl", <-ran)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))
}

func TestScoringGate(t *testing.T) {
	c, _, _ := newController(t, nil)
	ctx := context.Background()
	d := c.Dispatcher()
	ev := ingest.Event{Kind: ingest.KindLike, Viewer: ingest.Viewer{ID: "1", Nickname: "a"}, Like: &ingest.LikePayload{Count: 10, IsFollower: true}}

	require.NoError(t, d.Dispatch(ctx, ev))
	board, _ := c.Engine().Ranking(ctx, 0)
	assert.Empty(t, board, "scoring starts closed")

	c.SetScoring(true)
	require.NoError(t, d.Dispatch(ctx, ev))
	board, _ = c.Engine().Ranking(ctx, 0)
	require.Len(t, board, 1)
	assert.Equal(t, int64(1), board[0].Score)
}

func TestSelectWinner(t *testing.T) {
	c, _, _ := newController(t, nil)
	ctx := context.Background()
	c.SetScoring(true)

	_, err := c.SelectWinner(ctx)
	assert.ErrorIs(t, err, ErrNoWinner)

	_, _ = c.ProcessGift(ctx, gift("1", "alice", 10, 5))
	_, _ = c.ProcessGift(ctx, gift("2", "bob", 1, 1))
	_, _ = c.ProcessComment(ctx, engine.Comment{ViewerID: "1", Nickname: "alice", Text: "pick me"})

	w, err := c.SelectWinner(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", w.UserID)
	assert.Equal(t, "alice", w.Nickname)
	assert.Equal(t, int64(350), w.Score)
	require.Len(t, w.Comments, 1)
	require.Len(t, w.GiftsBreakdown, 1)
	assert.False(t, c.ScoringActive())

	board, _ := c.Engine().Ranking(ctx, 0)
	require.Len(t, board, 1)
	assert.Equal(t, "2", board[0].UserID)

	detail, _ := c.Engine().UserDetail(ctx, "1")
	assert.True(t, detail.Found, "stats survive winner removal")
}

func TestMarkCommentUsed(t *testing.T) {
	c, arch, _ := newController(t, nil)
	ctx := context.Background()

	_, err := c.MarkCommentUsed(ctx, "missing", true)
	assert.ErrorIs(t, err, archive.ErrNotFound)

	_, _ = c.ProcessComment(ctx, engine.Comment{ViewerID: "1", Nickname: "a", Text: "q1"})
	cm, err := arch.SaveComment(ctx, archive.Comment{SessionID: "show-1", ViewerID: "1", Content: "q1"})
	require.NoError(t, err)

	use, err := c.MarkCommentUsed(ctx, cm.ID, true)
	require.NoError(t, err)
	assert.True(t, use.Changed)
	assert.Equal(t, int64(1), use.UsedComments)

	use, err = c.MarkCommentUsed(ctx, cm.ID, true)
	require.NoError(t, err)
	assert.False(t, use.Changed)

	use, err = c.MarkCommentUsed(ctx, cm.ID, false)
	require.NoError(t, err)
	assert.True(t, use.Changed)
	assert.Equal(t, int64(0), use.UsedComments)
}

func TestEndSession_StoresSnapshot(t *testing.T) {
	c, arch, _ := newController(t, nil)
	ctx := context.Background()

	_, _ = c.ProcessGift(ctx, gift("1", "alice", 10, 5))
	_, _ = c.ProcessGift(ctx, gift("2", "bob", 1, 2))

	snap, err := c.EndSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "show-1", snap.SessionID)
	assert.Equal(t, int64(360), snap.TotalScore)
	assert.Equal(t, int64(7), snap.TotalGifts)
	require.Len(t, snap.Entries, 2)

	s, err := arch.GetSession(ctx, "show-1")
	require.NoError(t, err)
	assert.False(t, s.Active)

	codec, err := NewCodec()
	require.NoError(t, err)
	decoded, err := codec.Decode(s.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, snap.TotalScore, decoded.TotalScore)
	assert.Len(t, decoded.Entries, 2)
}

func TestResetUser_UnknownViewer(t *testing.T) {
	c, _, _ := newController(t, nil)
	res, err := c.ResetUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, res.Found)
}
