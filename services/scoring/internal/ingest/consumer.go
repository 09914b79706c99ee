package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/liveshow/internal/platform/natsconn"
)

const (
	DefaultStream     = "LIVE_EVENTS"
	DefaultSubject    = "live.events.>"
	DefaultDurable    = "scoring_events"
	DefaultDLQSubject = "live.dlq.events"
)

type ConsumerConfig struct {
	Stream     string
	Subject    string
	Durable    string
	DLQSubject string
	MaxDeliver int
	BatchSize  int
	MaxWait    time.Duration

	// Redelivery delay after a failed handle: BackoffBase doubled per
	// attempt, capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.Durable == "" {
		c.Durable = DefaultDurable
	}
	if c.DLQSubject == "" {
		c.DLQSubject = DefaultDLQSubject
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 2 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = max(60*time.Second, c.BackoffBase)
	}
	return c
}

// delivery is the part of a JetStream message the consumer needs.
type delivery interface {
	Data() []byte
	Subject() string
	NumDelivered() uint64
	Ack() error
	NakWithDelay(d time.Duration) error
}

type natsDelivery struct{ m *nats.Msg }

func (d natsDelivery) Data() []byte    { return d.m.Data }
func (d natsDelivery) Subject() string { return d.m.Subject }
func (d natsDelivery) Ack() error      { return d.m.Ack() }

func (d natsDelivery) NakWithDelay(delay time.Duration) error {
	return d.m.NakWithDelay(delay)
}

func (d natsDelivery) NumDelivered() uint64 {
	md, err := d.m.Metadata()
	if err != nil || md == nil {
		return 1
	}
	return md.NumDelivered
}

// Consumer pulls live events from JetStream and hands them to a Handler.
type Consumer struct {
	js      nats.JetStreamContext
	cfg     ConsumerConfig
	handle  Handler
	log     *zap.Logger
	publish func(subject string, data []byte) error
}

func NewConsumer(js nats.JetStreamContext, cfg ConsumerConfig, handle Handler, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Consumer{js: js, cfg: cfg.withDefaults(), handle: handle, log: log}
	c.publish = func(subject string, data []byte) error {
		_, err := c.js.Publish(subject, data)
		return err
	}
	return c
}

func (c *Consumer) ensureStream() error {
	return natsconn.EnsureStream(c.js, &nats.StreamConfig{
		Name:     c.cfg.Stream,
		Subjects: []string{c.cfg.Subject, c.cfg.DLQSubject},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
}

// Run fetches until ctx is cancelled. Fetch timeouts are normal idle time.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureStream(); err != nil {
		return fmt.Errorf("ensure stream %s: %w", c.cfg.Stream, err)
	}
	sub, err := c.js.PullSubscribe(c.cfg.Subject, c.cfg.Durable,
		nats.BindStream(c.cfg.Stream), nats.ManualAck(), nats.MaxDeliver(c.cfg.MaxDeliver+1))
	if err != nil {
		return fmt.Errorf("pull subscribe %s: %w", c.cfg.Subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	c.log.Info("event consumer started", zap.String("stream", c.cfg.Stream), zap.String("subject", c.cfg.Subject))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(c.cfg.BatchSize, nats.MaxWait(c.cfg.MaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("event consumer: fetch", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, m := range msgs {
			c.handleDelivery(ctx, natsDelivery{m: m})
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d delivery) {
	n := d.NumDelivered()
	if int(n) > c.cfg.MaxDeliver {
		if err := c.publishDLQ(d, fmt.Sprintf("max deliveries exceeded: %d", n)); err != nil {
			c.log.Error("dlq publish failed", zap.String("subject", d.Subject()), zap.Error(err))
		}
		_ = d.Ack()
		return
	}

	ev, err := Decode(d.Data())
	if err == nil {
		err = c.handle(ctx, ev)
	}
	switch {
	case err == nil:
		_ = d.Ack()
	case errors.Is(err, ErrDropped):
		_ = d.Ack()
	case IsPermanent(err):
		c.log.Warn("discarding event", zap.String("subject", d.Subject()), zap.String("kind", string(ev.Kind)),
			zap.String("viewer_id", ev.Viewer.ID), zap.Error(err))
		_ = d.Ack()
	default:
		c.log.Warn("event handling failed", zap.String("kind", string(ev.Kind)), zap.String("viewer_id", ev.Viewer.ID),
			zap.Uint64("attempt", n), zap.Error(err))
		_ = d.NakWithDelay(backoffDelay(n, c.cfg.BackoffBase, c.cfg.BackoffMax))
	}
}

func (c *Consumer) publishDLQ(d delivery, reason string) error {
	msg := map[string]any{"subject": d.Subject(), "reason": reason, "payload": json.RawMessage(d.Data())}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.publish(c.cfg.DLQSubject, b)
}
