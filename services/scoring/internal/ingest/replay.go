package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const replayBaseInterval = 100 * time.Millisecond

// ErrReplayPath rejects replay targets that would leave the replay directory.
var ErrReplayPath = errors.New("replay path must be a relative path inside the replay directory")

// ReplayPath cleans name and rejects absolute paths, empty names and
// anything that climbs out with "..".
func ReplayPath(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrReplayPath, name)
	}
	return filepath.Clean(name), nil
}

// Replay feeds a JSONL capture of live events through a Handler, one line
// per tick, as a stand-in for a live connection.
type Replay struct {
	// Dir confines Path when set. Path is then resolved inside Dir and may
	// not escape it, symlinks included.
	Dir  string
	Path string
	// Speed divides the base 100ms per-event interval. Zero means 1.
	Speed float64
	// Loop restarts from the top after Pause until ctx is cancelled.
	Loop   bool
	Pause  time.Duration
	Handle Handler
	Log    *zap.Logger
}

func (r *Replay) interval() time.Duration {
	speed := r.Speed
	if speed <= 0 {
		speed = 1
	}
	return time.Duration(float64(replayBaseInterval) / speed)
}

// Run returns nil when ctx is cancelled or, without Loop, at end of file.
func (r *Replay) Run(ctx context.Context) error {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	pause := r.Pause
	if pause <= 0 {
		pause = time.Second
	}
	p := newPacer(r.interval())
	defer p.Stop()

	log.Info("replay started", zap.String("path", r.Path), zap.Float64("speed", r.Speed))
	for {
		if err := r.pass(ctx, p, log); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if !r.Loop {
			log.Info("replay finished", zap.String("path", r.Path))
			return nil
		}
		log.Debug("replay restarting", zap.String("path", r.Path))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

func (r *Replay) open() (*os.File, error) {
	if r.Dir == "" {
		return os.Open(r.Path)
	}
	name, err := ReplayPath(r.Path)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(r.Dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	return root.Open(name)
}

func (r *Replay) pass(ctx context.Context, p *pacer, log *zap.Logger) error {
	f, err := r.open()
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if err := p.Wait(ctx); err != nil {
			return err
		}
		ev, err := Decode(raw)
		if err != nil {
			if !errors.Is(err, ErrDropped) {
				log.Debug("replay: skipping line", zap.Int("line", line), zap.Error(err))
			}
			continue
		}
		if err := r.Handle(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("replay: event failed", zap.Int("line", line), zap.String("kind", string(ev.Kind)),
				zap.String("viewer_id", ev.Viewer.ID), zap.Error(err))
		}
	}
	return sc.Err()
}
