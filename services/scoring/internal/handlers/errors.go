package handlers

import (
	"errors"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/example/liveshow/internal/platform/api"
	"github.com/example/liveshow/internal/platform/httpserver"
	"github.com/example/liveshow/services/scoring/internal/archive"
	"github.com/example/liveshow/services/scoring/internal/show"
)

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, show.ErrNoWinner):
		api.NotFound(w, "NO_WINNER", "No winner found or leaderboard empty", rid)
	case errors.Is(err, archive.ErrNotFound):
		api.NotFound(w, api.CodeNotFound, "not found", rid)
	case errors.Is(err, show.ErrAlreadyRunning):
		api.Conflict(w, "ALREADY_RUNNING", err.Error(), rid, nil)
	case errors.Is(err, show.ErrUnknownMode), errors.Is(err, show.ErrInvalidSession),
		errors.Is(err, show.ErrInvalidTarget):
		api.BadRequest(w, api.CodeInvalidArgument, err.Error(), rid, nil)
	case errors.Is(err, show.ErrNoArchive):
		api.Unavailable(w, "ARCHIVE_DISABLED", err.Error(), rid)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		api.Unavailable(w, "ARCHIVE_UNAVAILABLE", "archive temporarily unavailable", rid)
	default:
		api.Internal(w, rid)
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, code, msg string) {
	api.BadRequest(w, code, msg, httpserver.RequestIDFromContext(r.Context()), nil)
}
