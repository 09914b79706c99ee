package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/example/liveshow/internal/platform/api"
	"github.com/example/liveshow/services/scoring/internal/archive"
	"github.com/example/liveshow/services/scoring/internal/show"
)

type setSessionRequest struct {
	SessionID string `json:"session_id"`
	Reset     bool   `json:"reset"`
}

type startRequest struct {
	Mode   string `json:"mode"`
	Target string `json:"target"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		badRequest(w, r, api.CodeInvalidJSON, "invalid JSON")
		return false
	}
	return true
}

// Control groups the admin endpoints that mutate the show.
type Control struct {
	Show    *show.Controller
	Archive archive.Store
	Board   *Board
	// DefaultTargets fills Start requests that omit a target.
	DefaultTargets map[show.Mode]string
}

// SetSession handles POST /v1/session
func (c *Control) SetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setSessionRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := c.Show.SetSession(r.Context(), req.SessionID, req.Reset)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		c.Board.Invalidate()
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// Start handles POST /v1/control/start
func (c *Control) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := startRequest{Mode: r.URL.Query().Get("mode"), Target: r.URL.Query().Get("target")}
		if !decode(w, r, &req) {
			return
		}
		mode := show.Mode(strings.ToLower(strings.TrimSpace(req.Mode)))
		if mode == "" {
			mode = show.ModeMock
		}
		target := strings.TrimSpace(req.Target)
		if target == "" {
			target = c.DefaultTargets[mode]
		}
		if err := c.Show.Start(r.Context(), mode, target); err != nil {
			writeErr(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "started", "mode": string(mode), "target": target})
	}
}

// Stop handles POST /v1/control/stop
func (c *Control) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Show.Stop(r.Context()); err != nil {
			writeErr(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}
}

// SetScoring handles POST /v1/control/scoring/{active}
func (c *Control) SetScoring() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active, err := strconv.ParseBool(chi.URLParam(r, "active"))
		if err != nil {
			badRequest(w, r, api.CodeInvalidArgument, "active must be true or false")
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]bool{"is_scoring_active": c.Show.SetScoring(active)})
	}
}

// SelectWinner handles POST /v1/winner/select
func (c *Control) SelectWinner() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		winner, err := c.Show.SelectWinner(r.Context())
		if err != nil {
			writeErr(w, r, err)
			return
		}
		c.Board.Invalidate()
		api.WriteJSON(w, http.StatusOK, winner)
	}
}

// ResetUser handles POST /v1/users/{viewer_id}/reset
func (c *Control) ResetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewerID := strings.TrimSpace(chi.URLParam(r, "viewer_id"))
		if viewerID == "" {
			badRequest(w, r, api.CodeMissingID, "viewer_id is required")
			return
		}
		res, err := c.Show.ResetUser(r.Context(), viewerID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		c.Board.Invalidate()
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// MarkCommentUsed handles POST and DELETE /v1/comments/{comment_id}/used
func (c *Control) MarkCommentUsed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			badRequest(w, r, api.CodeMissingID, "comment_id is required")
			return
		}
		use, err := c.Show.MarkCommentUsed(r.Context(), commentID, r.Method != http.MethodDelete)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		c.Board.Invalidate()
		api.WriteJSON(w, http.StatusOK, use)
	}
}

// ListComments handles GET /v1/users/{viewer_id}/comments
func (c *Control) ListComments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.Archive == nil {
			writeErr(w, r, show.ErrNoArchive)
			return
		}
		viewerID := strings.TrimSpace(chi.URLParam(r, "viewer_id"))
		if viewerID == "" {
			badRequest(w, r, api.CodeMissingID, "viewer_id is required")
			return
		}
		q := r.URL.Query()
		onlyUnused, _ := strconv.ParseBool(q.Get("unused"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		sessionID := strings.TrimSpace(q.Get("session_id"))
		if sessionID == "" {
			sessionID = c.Show.SessionID()
		}

		comments, err := c.Archive.ListComments(r.Context(), sessionID, viewerID, onlyUnused, limit)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"comments": comments})
	}
}

// ListLogs handles GET /v1/logs?limit=
func (c *Control) ListLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.Archive == nil {
			writeErr(w, r, show.ErrNoArchive)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		logs, err := c.Archive.ListLogs(r.Context(), limit)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"logs": logs})
	}
}

// EndSession handles POST /v1/session/end
func (c *Control) EndSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := c.Show.EndSession(r.Context())
		if err != nil {
			writeErr(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, snap)
	}
}
