package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDelivery struct {
	data      []byte
	delivered uint64
	acked     bool
	nakDelay  time.Duration
	naked     bool
}

func (f *fakeDelivery) Data() []byte         { return f.data }
func (f *fakeDelivery) Subject() string      { return "live.events.room1" }
func (f *fakeDelivery) NumDelivered() uint64 { return f.delivered }
func (f *fakeDelivery) Ack() error           { f.acked = true; return nil }

func (f *fakeDelivery) NakWithDelay(d time.Duration) error {
	f.naked = true
	f.nakDelay = d
	return nil
}

type published struct {
	subject string
	data    []byte
}

func newTestConsumer(handle Handler) (*Consumer, *[]published) {
	var out []published
	c := &Consumer{cfg: ConsumerConfig{}.withDefaults(), handle: handle, log: nopLogger()}
	c.publish = func(subject string, data []byte) error {
		out = append(out, published{subject, data})
		return nil
	}
	return c, &out
}

const likeLine = `{"kind":"like","viewer":{"id":"v1","nickname":"A"},"like":{"count":3}}`

func TestConsumer_AcksOnSuccess(t *testing.T) {
	var got []Event
	c, _ := newTestConsumer(func(_ context.Context, ev Event) error { got = append(got, ev); return nil })
	d := &fakeDelivery{data: []byte(likeLine), delivered: 1}

	c.handleDelivery(context.Background(), d)
	assert.True(t, d.acked)
	require.Len(t, got, 1)
	assert.Equal(t, KindLike, got[0].Kind)
}

func TestConsumer_AcksMalformed(t *testing.T) {
	called := false
	c, _ := newTestConsumer(func(context.Context, Event) error { called = true; return nil })
	d := &fakeDelivery{data: []byte(`garbage`), delivered: 1}

	c.handleDelivery(context.Background(), d)
	assert.True(t, d.acked)
	assert.False(t, d.naked)
	assert.False(t, called)
}

func TestConsumer_NaksTransientWithBackoff(t *testing.T) {
	c, _ := newTestConsumer(func(context.Context, Event) error { return errors.New("redis down") })
	d := &fakeDelivery{data: []byte(likeLine), delivered: 3}

	c.handleDelivery(context.Background(), d)
	assert.False(t, d.acked)
	assert.True(t, d.naked)
	assert.Equal(t, 4*time.Second, d.nakDelay)
}

func TestConsumer_DeadLettersAfterMaxDeliver(t *testing.T) {
	called := false
	c, out := newTestConsumer(func(context.Context, Event) error { called = true; return nil })
	d := &fakeDelivery{data: []byte(likeLine), delivered: 6}

	c.handleDelivery(context.Background(), d)
	assert.True(t, d.acked)
	assert.False(t, called)
	require.Len(t, *out, 1)
	assert.Equal(t, DefaultDLQSubject, (*out)[0].subject)

	var env struct {
		Subject string          `json:"subject"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal((*out)[0].data, &env))
	assert.Equal(t, "live.events.room1", env.Subject)
	assert.JSONEq(t, likeLine, string(env.Payload))
}

func TestBackoffDelay(t *testing.T) {
	base, capped := time.Second, 60*time.Second
	assert.Equal(t, time.Second, backoffDelay(0, base, capped))
	assert.Equal(t, time.Second, backoffDelay(1, base, capped))
	assert.Equal(t, 2*time.Second, backoffDelay(2, base, capped))
	assert.Equal(t, 32*time.Second, backoffDelay(6, base, capped))
	assert.Equal(t, 60*time.Second, backoffDelay(7, base, capped))
	assert.Equal(t, 60*time.Second, backoffDelay(100, base, capped))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(3, 100*time.Millisecond, time.Second))

	cfg := ConsumerConfig{BackoffBase: 2 * time.Minute}.withDefaults()
	assert.Equal(t, 2*time.Minute, cfg.BackoffMax)
}
