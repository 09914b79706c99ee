package archive

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// Breaker wraps a Store with a circuit breaker so a dead database fails fast
// instead of stalling event ingestion. ErrNotFound does not count as a failure.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Store, cfg BreakerConfig, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "archive",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State exposes the breaker state for readiness reporting.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func call[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (b *Breaker) UpsertUser(ctx context.Context, u User) error {
	_, err := call(b.cb, func() (struct{}, error) { return struct{}{}, b.next.UpsertUser(ctx, u) })
	return err
}

func (b *Breaker) UpsertGift(ctx context.Context, g Gift) error {
	_, err := call(b.cb, func() (struct{}, error) { return struct{}{}, b.next.UpsertGift(ctx, g) })
	return err
}

func (b *Breaker) SaveComment(ctx context.Context, c Comment) (Comment, error) {
	return call(b.cb, func() (Comment, error) { return b.next.SaveComment(ctx, c) })
}

type usedResult struct {
	comment Comment
	changed bool
}

func (b *Breaker) SetCommentUsed(ctx context.Context, commentID string, used bool) (Comment, bool, error) {
	r, err := call(b.cb, func() (usedResult, error) {
		c, changed, err := b.next.SetCommentUsed(ctx, commentID, used)
		return usedResult{comment: c, changed: changed}, err
	})
	return r.comment, r.changed, err
}

func (b *Breaker) ListComments(ctx context.Context, sessionID, viewerID string, onlyUnused bool, limit int) ([]Comment, error) {
	return call(b.cb, func() ([]Comment, error) {
		return b.next.ListComments(ctx, sessionID, viewerID, onlyUnused, limit)
	})
}

func (b *Breaker) StartSession(ctx context.Context, id string) (Session, error) {
	return call(b.cb, func() (Session, error) { return b.next.StartSession(ctx, id) })
}

func (b *Breaker) EndSession(ctx context.Context, id string, totals SessionTotals, snapshot []byte) (Session, error) {
	return call(b.cb, func() (Session, error) { return b.next.EndSession(ctx, id, totals, snapshot) })
}

func (b *Breaker) GetSession(ctx context.Context, id string) (Session, error) {
	return call(b.cb, func() (Session, error) { return b.next.GetSession(ctx, id) })
}

func (b *Breaker) AppendLog(ctx context.Context, e LogEntry) error {
	_, err := call(b.cb, func() (struct{}, error) { return struct{}{}, b.next.AppendLog(ctx, e) })
	return err
}

func (b *Breaker) ListLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	return call(b.cb, func() ([]LogEntry, error) { return b.next.ListLogs(ctx, limit) })
}
