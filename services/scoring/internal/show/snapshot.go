package show

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/example/liveshow/internal/platform/analytics"
	"github.com/example/liveshow/services/scoring/internal/archive"
	"github.com/example/liveshow/services/scoring/internal/engine"
)

// Snapshot is the final leaderboard stored with an ended session.
type Snapshot struct {
	SessionID  string                    `json:"session_id"`
	EndedAt    time.Time                 `json:"ended_at"`
	TotalScore int64                     `json:"total_score"`
	TotalGifts int64                     `json:"total_gifts"`
	Entries    []engine.LeaderboardEntry `json:"entries"`
}

// Codec is zstd over JSON.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

func (c *Codec) Encode(s Snapshot) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *Codec) Decode(b []byte) (Snapshot, error) {
	raw, err := c.decoder.DecodeAll(b, nil)
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// EndSession stops ingestion, freezes the full leaderboard into a
// compressed snapshot and closes the session in the archive.
func (c *Controller) EndSession(ctx context.Context) (Snapshot, error) {
	if c.cfg.Archive == nil {
		return Snapshot{}, ErrNoArchive
	}
	if err := c.Stop(ctx); err != nil {
		return Snapshot{}, err
	}
	eng := c.Engine()

	entries, err := eng.Ranking(ctx, 0)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{SessionID: eng.SessionID(), EndedAt: c.cfg.Now().UTC(), Entries: entries}
	for _, e := range entries {
		snap.TotalScore += e.Score
		snap.TotalGifts += e.Gifts
	}

	codec, err := NewCodec()
	if err != nil {
		return Snapshot{}, err
	}
	blob, err := codec.Encode(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}

	// The session row may be missing if the archive was down at start.
	if _, err := c.cfg.Archive.StartSession(ctx, snap.SessionID); err != nil {
		return Snapshot{}, fmt.Errorf("archive session %s: %w", snap.SessionID, err)
	}
	if _, err := c.cfg.Archive.EndSession(ctx, snap.SessionID, archive.SessionTotals{
		TotalScore: snap.TotalScore,
		TotalGifts: snap.TotalGifts,
	}, blob); err != nil {
		c.cfg.Metrics.IncStoreError("archive_end_session")
		return Snapshot{}, fmt.Errorf("archive end session %s: %w", snap.SessionID, err)
	}

	c.cfg.Analytics.Publish(analytics.SubjectSessionEnded, "session_ended", snap.SessionID, "", map[string]any{
		"total_score": snap.TotalScore,
		"total_gifts": snap.TotalGifts,
		"viewers":     len(entries),
	})
	c.log.Info("session ended", zap.String("session_id", snap.SessionID), zap.Int("viewers", len(entries)),
		zap.Int("snapshot_bytes", len(blob)))
	return snap, nil
}
