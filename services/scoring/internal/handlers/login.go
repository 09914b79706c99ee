package handlers

import (
	"net/http"
	"time"

	"github.com/example/liveshow/internal/platform/api"
	"github.com/example/liveshow/internal/platform/auth"
	"github.com/example/liveshow/internal/platform/httpserver"
)

type loginRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login handles POST /v1/auth/token. A single operator password, stored as
// a bcrypt hash, unlocks an admin token.
func Login(passwordHash string, issuer auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		if passwordHash == "" || len(issuer.Secret) == 0 {
			api.Unavailable(w, "LOGIN_DISABLED", "login is not configured", rid)
			return
		}
		var req loginRequest
		if !decode(w, r, &req) {
			return
		}
		if !auth.CheckPassword(passwordHash, req.Password) {
			api.Unauthorized(w, "INVALID_CREDENTIALS", "invalid credentials", rid)
			return
		}
		token, exp, err := issuer.Issue(auth.RoleAdmin, auth.RoleAdmin)
		if err != nil {
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp})
	}
}
