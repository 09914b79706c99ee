package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

func writeCapture(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestReplay_SinglePassSkipsMalformed(t *testing.T) {
	path := writeCapture(t,
		likeLine,
		`not json at all`,
		``,
		`{"type":"gift","payload":{"fromUser":{"id":"u3","nickName":"Cy"},"mGift":{"id":1,"name":"Rose","diamondCount":1,"type":1},"repeatCount":2,"repeatEnd":0}}`,
		`{"type":"comment","payload":{"userInfo":{"id":"v2","nickName":"B"},"content":"yo"}}`,
	)

	var kinds []Kind
	r := &Replay{Path: path, Speed: 100, Handle: func(_ context.Context, ev Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	}}
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []Kind{KindLike, KindComment}, kinds)
}

func TestReplay_LoopsUntilCancelled(t *testing.T) {
	path := writeCapture(t, likeLine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	count := 0
	r := &Replay{Path: path, Speed: 100, Loop: true, Pause: time.Millisecond, Handle: func(context.Context, Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == 3 {
			cancel()
		}
		return nil
	}}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 3)
}

func TestReplay_MissingFile(t *testing.T) {
	r := &Replay{Path: filepath.Join(t.TempDir(), "nope.jsonl"), Handle: func(context.Context, Event) error { return nil }}
	assert.Error(t, r.Run(context.Background()))
}

func TestReplayPath(t *testing.T) {
	for _, bad := range []string{"", "/etc/passwd", "../x.jsonl", "a/../../x.jsonl"} {
		_, err := ReplayPath(bad)
		assert.ErrorIs(t, err, ErrReplayPath, bad)
	}
	got, err := ReplayPath("nights/./one.jsonl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("nights", "one.jsonl"), got)
}

func TestReplay_DirConfinesPath(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "replays")
	require.NoError(t, os.Mkdir(dir, 0o755))
	line := likeLine + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.jsonl"), []byte(line), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "outside.jsonl"), []byte(line), 0o600))
	noop := func(context.Context, Event) error { return nil }

	inside := &Replay{Dir: dir, Path: "ok.jsonl", Speed: 100, Handle: noop}
	require.NoError(t, inside.Run(context.Background()))

	escape := &Replay{Dir: dir, Path: "../outside.jsonl", Speed: 100, Handle: noop}
	assert.ErrorIs(t, escape.Run(context.Background()), ErrReplayPath)

	absolute := &Replay{Dir: dir, Path: filepath.Join(parent, "outside.jsonl"), Speed: 100, Handle: noop}
	assert.ErrorIs(t, absolute.Run(context.Background()), ErrReplayPath)

	if err := os.Symlink(filepath.Join(parent, "outside.jsonl"), filepath.Join(dir, "link.jsonl")); err == nil {
		link := &Replay{Dir: dir, Path: "link.jsonl", Speed: 100, Handle: noop}
		assert.Error(t, link.Run(context.Background()))
	}
}

func TestReplay_Interval(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, (&Replay{}).interval())
	assert.Equal(t, 50*time.Millisecond, (&Replay{Speed: 2}).interval())
}

func TestReplay_SampleCapture(t *testing.T) {
	var kinds []Kind
	r := &Replay{Path: filepath.Join("..", "..", "testdata", "mock_data.jsonl"), Speed: 1000, Handle: func(_ context.Context, ev Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	}}
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []Kind{
		KindConnect, KindComment, KindLike, KindGift, KindLike,
		KindGift, KindComment, KindGift, KindDisconnect,
	}, kinds)
}
