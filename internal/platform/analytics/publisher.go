// Package analytics provides a fire-and-forget NATS publisher for show events.
package analytics

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject constants for every show event type.
const (
	SubjectSessionStarted = "analytics.show.session_started"
	SubjectSessionEnded   = "analytics.show.session_ended"
	SubjectWinnerSelected = "analytics.show.winner_selected"
	SubjectViewerReset    = "analytics.show.viewer_reset"
)

// Event is the canonical envelope sent to all analytics.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	SessionID  string         `json:"session_id"`
	ViewerID   string         `json:"viewer_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes events to NATS JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
	now func() time.Time
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub.
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	return &Publisher{js: js, log: log, now: time.Now}
}

// Publish sends an event asynchronously. Failures are logged as warnings
// and never surface to the caller.
func (p *Publisher) Publish(subject, eventName, sessionID, viewerID string, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	data, err := p.encode(eventName, sessionID, viewerID, props)
	if err != nil {
		p.log.Warn("analytics: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("analytics: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *Publisher) encode(eventName, sessionID, viewerID string, props map[string]any) ([]byte, error) {
	now := time.Now
	if p != nil && p.now != nil {
		now = p.now
	}
	return json.Marshal(Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		SessionID:  sessionID,
		ViewerID:   viewerID,
		OccurredAt: now().UTC(),
		Properties: props,
	})
}

// Flush waits for outstanding async publishes, bounded by ctx.
func (p *Publisher) Flush(ctx context.Context) error {
	if p == nil || p.js == nil {
		return nil
	}
	select {
	case <-p.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
