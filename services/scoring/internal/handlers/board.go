package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/example/liveshow/internal/platform/api"
	"github.com/example/liveshow/services/scoring/internal/metrics"
	"github.com/example/liveshow/services/scoring/internal/show"
)

const maxLeaderboardLimit = 100

// Board serves leaderboard reads through a short-lived cache.
type Board struct {
	Show         *show.Controller
	Cache        Cache
	Metrics      metrics.Recorder
	DefaultLimit int
}

func NewBoard(ctl *show.Controller, cache Cache, rec metrics.Recorder, defaultLimit int) *Board {
	if cache == nil {
		cache = noopCache{}
	}
	if rec == nil {
		rec = metrics.Nop()
	}
	return &Board{Show: ctl, Cache: cache, Metrics: rec, DefaultLimit: defaultLimit}
}

// Invalidate drops cached responses after an admin mutation.
func (b *Board) Invalidate() { b.Cache.Clear() }

func (b *Board) limit(r *http.Request) int {
	limit := b.DefaultLimit
	if limit <= 0 {
		limit = 5
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLeaderboardLimit {
			limit = parsed
		}
	}
	return limit
}

// encoded returns the JSON leaderboard of the current session.
func (b *Board) encoded(ctx context.Context, limit int) ([]byte, error) {
	eng := b.Show.Engine()
	key := eng.SessionID() + ":" + strconv.Itoa(limit)
	if body, ok := b.Cache.Get(key); ok {
		b.Metrics.IncCache(true)
		return body, nil
	}
	b.Metrics.IncCache(false)

	entries, err := eng.Ranking(ctx, limit)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	b.Cache.Set(key, body)
	return body, nil
}

// GetLeaderboard handles GET /v1/leaderboard
func (b *Board) GetLeaderboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := b.encoded(r.Context(), b.limit(r))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		api.WriteRaw(w, http.StatusOK, body)
	}
}

// GetUser handles GET /v1/users/{viewer_id}
func GetUser(ctl *show.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewerID := strings.TrimSpace(chi.URLParam(r, "viewer_id"))
		if viewerID == "" {
			badRequest(w, r, api.CodeMissingID, "viewer_id is required")
			return
		}
		detail, err := ctl.Engine().UserDetail(r.Context(), viewerID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, detail)
	}
}

// GetStatus handles GET /v1/status
func GetStatus(ctl *show.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := ctl.Status(r.Context())
		if err != nil {
			writeErr(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, st)
	}
}
