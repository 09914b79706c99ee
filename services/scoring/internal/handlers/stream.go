package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// LeaderboardStream handles GET /ws/leaderboard. It pushes the top of the
// leaderboard every interval, skipping frames identical to the last one.
func LeaderboardStream(b *Board, interval time.Duration, log *zap.Logger) http.HandlerFunc {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		limit := b.limit(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Reader drains control frames and notices the client going away.
		closed := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		tick := time.NewTicker(interval)
		defer tick.Stop()
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		var last []byte
		push := func() bool {
			body, err := b.encoded(r.Context(), limit)
			if err != nil {
				log.Warn("leaderboard stream: read failed", zap.Error(err))
				return true
			}
			if bytes.Equal(body, last) {
				return true
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return false
			}
			last = body
			return true
		}

		if !push() {
			return
		}
		for {
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-tick.C:
				if !push() {
					return
				}
			}
		}
	}
}
