// Package show owns the lifecycle of a live show: which session is being
// scored, whether an ingestion source is running, and whether scoring is
// open.
package show

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/liveshow/internal/platform/analytics"
	"github.com/example/liveshow/services/scoring/internal/archive"
	"github.com/example/liveshow/services/scoring/internal/engine"
	"github.com/example/liveshow/services/scoring/internal/ingest"
	"github.com/example/liveshow/services/scoring/internal/metrics"
	"github.com/example/liveshow/services/scoring/internal/scoring"
	"github.com/example/liveshow/services/scoring/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("ingestion already running")
	ErrUnknownMode    = errors.New("unknown ingestion mode")
	ErrNoWinner       = errors.New("leaderboard is empty")
	ErrNoArchive      = errors.New("archive is not configured")
	ErrInvalidSession = errors.New("session id is required")
	ErrInvalidTarget  = errors.New("invalid ingestion target")
)

type Mode string

const (
	ModeMock Mode = "mock"
	ModeNATS Mode = "nats"
)

// Source runs one ingestion source until ctx is cancelled, feeding events to
// handle. target is mode specific: a capture file or a subject.
type Source func(ctx context.Context, target string, handle ingest.Handler) error

type Config struct {
	Redis      redis.UniversalClient
	Archive    archive.Store
	Analytics  *analytics.Publisher
	Metrics    metrics.Recorder
	Log        *zap.Logger
	Calculator scoring.Calculator
	Sources    map[Mode]Source
	// CheckTarget vets and normalizes a target before its source starts.
	// Nil accepts every target.
	CheckTarget func(mode Mode, target string) (string, error)
	Now         func() time.Time
}

type ingestion struct {
	mode   Mode
	target string
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is safe for concurrent use by HTTP handlers and the running
// ingestion source.
type Controller struct {
	cfg Config
	log *zap.Logger

	mu      sync.RWMutex
	engine  *engine.Service
	running *ingestion

	scoring atomic.Bool
}

func New(cfg Config, sessionID string) *Controller {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Calculator == (scoring.Calculator{}) {
		cfg.Calculator = scoring.Default()
	}
	c := &Controller{cfg: cfg, log: cfg.Log}
	c.engine = c.newEngine(sessionID)
	return c
}

func (c *Controller) newEngine(sessionID string) *engine.Service {
	return engine.New(c.cfg.Redis, sessionID,
		engine.WithCalculator(c.cfg.Calculator),
		engine.WithClock(c.cfg.Now))
}

// Engine returns the engine of the current session.
func (c *Controller) Engine() *engine.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine
}

func (c *Controller) SessionID() string { return c.Engine().SessionID() }

func (c *Controller) ScoringActive() bool { return c.scoring.Load() }

// SetScoring opens or closes scoring without touching the ingestion source.
func (c *Controller) SetScoring(active bool) bool {
	c.scoring.Store(active)
	c.log.Info("scoring toggled", zap.String("session_id", c.SessionID()), zap.Bool("active", active))
	return active
}

// The Process methods let the controller stand in as the dispatcher's
// scorer, so a session switch takes effect for a running source.

func (c *Controller) ProcessLike(ctx context.Context, l engine.Like) (engine.Outcome, error) {
	return c.Engine().ProcessLike(ctx, l)
}

func (c *Controller) ProcessGift(ctx context.Context, g engine.Gift) (engine.Outcome, error) {
	return c.Engine().ProcessGift(ctx, g)
}

func (c *Controller) ProcessComment(ctx context.Context, cm engine.Comment) (engine.Outcome, error) {
	return c.Engine().ProcessComment(ctx, cm)
}

// Dispatcher builds the ingestion entry point bound to this controller.
func (c *Controller) Dispatcher() *ingest.Dispatcher {
	return &ingest.Dispatcher{
		Scorer:  c,
		Archive: c.cfg.Archive,
		Active:  c.ScoringActive,
		Metrics: c.cfg.Metrics,
		Log:     c.log,
	}
}

type SessionResult struct {
	SessionID   string `json:"session_id"`
	Reset       bool   `json:"reset"`
	KeysRemoved int64  `json:"keys_removed"`
}

// SetSession switches scoring to id. With reset, every key of that session
// is removed first.
func (c *Controller) SetSession(ctx context.Context, id string, reset bool) (SessionResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionResult{}, ErrInvalidSession
	}

	next := c.newEngine(id)
	res := SessionResult{SessionID: id, Reset: reset}
	if reset {
		n, err := store.WipeSession(ctx, c.cfg.Redis, next.Keyspace())
		if err != nil {
			c.cfg.Metrics.IncStoreError("wipe_session")
			return SessionResult{}, fmt.Errorf("reset session %s: %w", id, err)
		}
		res.KeysRemoved = n
	}

	c.mu.Lock()
	c.engine = next
	c.mu.Unlock()

	if c.cfg.Archive != nil {
		if _, err := c.cfg.Archive.StartSession(ctx, id); err != nil {
			c.cfg.Metrics.IncStoreError("archive_start_session")
			c.log.Warn("archive start session failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	c.cfg.Analytics.Publish(analytics.SubjectSessionStarted, "session_started", id, "", map[string]any{"reset": reset})
	c.log.Info("session set", zap.String("session_id", id), zap.Bool("reset", reset), zap.Int64("keys_removed", res.KeysRemoved))
	return res, nil
}

// Start launches an ingestion source in the background and opens scoring.
// The source outlives ctx; Stop ends it.
func (c *Controller) Start(ctx context.Context, mode Mode, target string) error {
	src, ok := c.cfg.Sources[mode]
	if !ok || src == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if c.cfg.CheckTarget != nil {
		checked, err := c.cfg.CheckTarget(mode, target)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
		}
		target = checked
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ing := &ingestion{mode: mode, target: target, cancel: cancel, done: make(chan struct{})}
	c.running = ing
	c.scoring.Store(true)

	handle := c.Dispatcher().Dispatch
	go func() {
		defer close(ing.done)
		err := src(runCtx, target, handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error("ingestion source stopped", zap.String("mode", string(mode)), zap.Error(err))
		} else {
			c.log.Info("ingestion source stopped", zap.String("mode", string(mode)))
		}
		c.mu.Lock()
		if c.running == ing {
			c.running = nil
		}
		c.mu.Unlock()
	}()

	c.log.Info("ingestion started", zap.String("mode", string(mode)), zap.String("target", target),
		zap.String("session_id", c.engine.SessionID()))
	return nil
}

// Stop cancels the running source, waits for it to exit and closes scoring.
// Stopping when nothing runs is not an error.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	ing := c.running
	c.running = nil
	c.mu.Unlock()
	c.scoring.Store(false)

	if ing == nil {
		return nil
	}
	ing.cancel()
	select {
	case <-ing.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Status struct {
	SessionID       string `json:"session_id"`
	Connected       bool   `json:"is_connected"`
	ScoringActive   bool   `json:"is_scoring_active"`
	Mode            string `json:"mode,omitempty"`
	Target          string `json:"target,omitempty"`
	LeaderboardSize int64  `json:"leaderboard_size"`
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	c.mu.RLock()
	eng, ing := c.engine, c.running
	c.mu.RUnlock()

	st := Status{SessionID: eng.SessionID(), Connected: ing != nil, ScoringActive: c.scoring.Load()}
	if ing != nil {
		st.Mode, st.Target = string(ing.mode), ing.target
	}
	n, err := eng.Leaderboard().Size(ctx)
	if err != nil {
		return st, fmt.Errorf("leaderboard size: %w", err)
	}
	st.LeaderboardSize = n
	return st, nil
}

// ResetUser archives and zeroes a viewer's counters in the current session.
func (c *Controller) ResetUser(ctx context.Context, viewerID string) (engine.ResetResult, error) {
	eng := c.Engine()
	res, err := eng.ResetUser(ctx, viewerID)
	if err != nil {
		c.cfg.Metrics.IncStoreError("reset_user")
		return res, err
	}
	if res.Found {
		c.cfg.Analytics.Publish(analytics.SubjectViewerReset, "viewer_reset", eng.SessionID(), viewerID, map[string]any{
			"archived_likes":      res.ArchivedLikes,
			"archived_gifts_sent": res.ArchivedGiftsSent,
			"archived_gift_coins": res.ArchivedGiftCoins,
		})
	}
	return res, nil
}

type CommentUse struct {
	Comment      archive.Comment `json:"comment"`
	Changed      bool            `json:"changed"`
	UsedComments int64           `json:"used_comments_count"`
}

// MarkCommentUsed flips the archived comment flag and keeps the viewer's
// used-comment counter in step. Comments of other sessions only update the
// archive.
func (c *Controller) MarkCommentUsed(ctx context.Context, commentID string, used bool) (CommentUse, error) {
	if c.cfg.Archive == nil {
		return CommentUse{}, ErrNoArchive
	}
	cm, changed, err := c.cfg.Archive.SetCommentUsed(ctx, commentID, used)
	if err != nil {
		return CommentUse{}, err
	}
	out := CommentUse{Comment: cm, Changed: changed}

	eng := c.Engine()
	if !changed || cm.SessionID != eng.SessionID() {
		return out, nil
	}
	if used {
		out.UsedComments, err = eng.IncrementUsedComments(ctx, cm.ViewerID)
	} else {
		out.UsedComments, err = eng.DecrementUsedComments(ctx, cm.ViewerID)
	}
	if err != nil {
		c.cfg.Metrics.IncStoreError("used_comments")
		return out, fmt.Errorf("sync used comments for %s: %w", cm.ViewerID, err)
	}
	return out, nil
}
