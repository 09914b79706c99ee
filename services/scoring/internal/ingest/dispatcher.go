package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/liveshow/services/scoring/internal/archive"
	"github.com/example/liveshow/services/scoring/internal/engine"
	"github.com/example/liveshow/services/scoring/internal/metrics"
)

// Scorer is the slice of engine.Service the dispatcher drives.
type Scorer interface {
	SessionID() string
	ProcessLike(ctx context.Context, l engine.Like) (engine.Outcome, error)
	ProcessGift(ctx context.Context, g engine.Gift) (engine.Outcome, error)
	ProcessComment(ctx context.Context, c engine.Comment) (engine.Outcome, error)
}

// Handler consumes one normalized event.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher is the single entry point from any event source into the
// engine. Archive and activity log writes are best effort and only follow a
// successful engine call; engine failures are returned so the source can
// retry.
type Dispatcher struct {
	Scorer  Scorer
	Archive archive.Store
	// Active gates scoring. A nil func means always active.
	Active  func() bool
	Metrics metrics.Recorder
	Log     *zap.Logger
}

func (d *Dispatcher) recorder() metrics.Recorder {
	if d.Metrics == nil {
		return metrics.Nop()
	}
	return d.Metrics
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// Dispatch validates ev and routes it by kind.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	rec := d.recorder()
	if err := ev.Validate(); err != nil {
		rec.ObserveEvent(string(ev.Kind), metrics.ResultSkipped)
		return err
	}

	switch ev.Kind {
	case KindConnect:
		d.logger().Info("live source connected", zap.String("room", ev.Room))
		d.activity(ctx, archive.LevelInfo, "Connected to "+roomName(ev.Room), map[string]any{"type": "Connect"})
		return nil
	case KindDisconnect:
		d.logger().Warn("live source disconnected", zap.String("room", ev.Room))
		d.activity(ctx, archive.LevelWarning, "Disconnected from "+roomName(ev.Room), map[string]any{"type": "Disconnect"})
		return nil
	}

	if d.Active != nil && !d.Active() {
		rec.ObserveEvent(string(ev.Kind), metrics.ResultGated)
		return nil
	}

	var (
		out engine.Outcome
		err error
	)
	session := d.Scorer.SessionID()
	switch ev.Kind {
	case KindLike:
		out, err = d.Scorer.ProcessLike(ctx, engine.Like{
			ViewerID:   ev.Viewer.ID,
			Nickname:   ev.Viewer.Nickname,
			AvatarURL:  ev.Viewer.AvatarURL,
			Count:      ev.Like.Count,
			IsFollower: ev.Like.IsFollower,
		})
	case KindGift:
		out, err = d.Scorer.ProcessGift(ctx, engine.Gift{
			ViewerID:  ev.Viewer.ID,
			Nickname:  ev.Viewer.Nickname,
			AvatarURL: ev.Viewer.AvatarURL,
			GiftID:    ev.Gift.GiftID,
			GiftName:  ev.Gift.Name,
			Icon:      ev.Gift.Icon,
			UnitValue: ev.Gift.UnitValue,
			Quantity:  ev.Gift.Quantity,
		})
	case KindComment:
		out, err = d.Scorer.ProcessComment(ctx, engine.Comment{
			ViewerID:  ev.Viewer.ID,
			Nickname:  ev.Viewer.Nickname,
			AvatarURL: ev.Viewer.AvatarURL,
			Text:      ev.Comment.Text,
		})
	}
	if err != nil {
		rec.ObserveEvent(string(ev.Kind), metrics.ResultFailed)
		rec.IncStoreError("process_" + string(ev.Kind))
		d.activity(ctx, archive.LevelError, fmt.Sprintf("Error processing %s", ev.Kind), map[string]any{
			"type": string(ev.Kind), "viewer_id": ev.Viewer.ID, "error": err.Error(),
		})
		return fmt.Errorf("session %s: %w", session, err)
	}

	// Archive only once the engine accepted the event.
	d.archiveEvent(ctx, ev)

	if out.Skipped {
		rec.ObserveEvent(string(ev.Kind), metrics.ResultSkipped)
		d.logger().Debug("event skipped", zap.String("kind", string(ev.Kind)),
			zap.String("viewer_id", ev.Viewer.ID), zap.String("reason", out.Reason))
		return nil
	}
	rec.ObserveEvent(string(ev.Kind), metrics.ResultApplied)
	rec.AddPoints(string(ev.Kind), out.Points)
	switch ev.Kind {
	case KindLike:
		d.activity(ctx, archive.LevelInfo, fmt.Sprintf("%s sent %d likes", ev.Viewer.Nickname, ev.Like.Count),
			map[string]any{"type": "Like"})
	case KindGift:
		d.activity(ctx, archive.LevelInfo, fmt.Sprintf("%s sent %s x%d", ev.Viewer.Nickname, ev.Gift.Name, ev.Gift.Quantity),
			map[string]any{"type": "Gift"})
	}
	return nil
}

func roomName(room string) string {
	if room == "" {
		return "live source"
	}
	return room
}

// activity appends a row to the operator activity log.
func (d *Dispatcher) activity(ctx context.Context, level, msg string, details map[string]any) {
	if d.Archive == nil {
		return
	}
	if err := d.Archive.AppendLog(ctx, archive.LogEntry{Level: level, Message: msg, Details: details}); err != nil {
		d.recorder().IncStoreError("archive_append_log")
		d.logger().Warn("activity log write failed", zap.String("message", msg), zap.Error(err))
	}
}

func (d *Dispatcher) archiveEvent(ctx context.Context, ev Event) {
	if d.Archive == nil {
		return
	}
	session := d.Scorer.SessionID()
	warn := func(op string, err error) {
		d.recorder().IncStoreError("archive_" + op)
		d.logger().Warn("archive write failed", zap.String("op", op), zap.String("kind", string(ev.Kind)),
			zap.String("viewer_id", ev.Viewer.ID), zap.Error(err))
	}

	if err := d.Archive.UpsertUser(ctx, archive.User{
		ID: ev.Viewer.ID, Nickname: ev.Viewer.Nickname, AvatarURL: ev.Viewer.AvatarURL,
	}); err != nil {
		warn("upsert_user", err)
	}
	switch ev.Kind {
	case KindGift:
		if err := d.Archive.UpsertGift(ctx, archive.Gift{
			ID: ev.Gift.GiftID, Name: ev.Gift.Name, ImageURL: ev.Gift.Icon, DiamondCount: ev.Gift.UnitValue,
		}); err != nil {
			warn("upsert_gift", err)
		}
	case KindComment:
		if _, err := d.Archive.SaveComment(ctx, archive.Comment{
			SessionID: session, ViewerID: ev.Viewer.ID, Content: ev.Comment.Text,
		}); err != nil {
			warn("save_comment", err)
		}
	}
}

// IsPermanent reports whether an error from Decode or Dispatch will never
// succeed on redelivery.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrUnknownKind) ||
		errors.Is(err, ErrMissingViewer) ||
		errors.Is(err, ErrMissingPayload) ||
		errors.Is(err, ErrDropped)
}
