package ingest

import (
	"context"
	"time"
)

// pacer releases one token per tick.
type pacer struct {
	t *time.Ticker
}

func newPacer(interval time.Duration) *pacer {
	if interval <= 0 {
		return &pacer{}
	}
	return &pacer{t: time.NewTicker(interval)}
}

func (p *pacer) Stop() {
	if p != nil && p.t != nil {
		p.t.Stop()
	}
}

func (p *pacer) Wait(ctx context.Context) error {
	if p == nil || p.t == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.t.C:
		return nil
	}
}
