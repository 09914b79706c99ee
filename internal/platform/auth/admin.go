package auth

import (
	"net/http"
	"strings"

	"github.com/example/liveshow/internal/platform/api"
	"github.com/example/liveshow/internal/platform/httpserver"
)

const RoleAdmin = "admin"

// RequireRole allows the request only if RequireUser already injected the role.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ := RoleFromContext(r.Context())
			if !strings.EqualFold(strings.TrimSpace(got), role) {
				api.Forbidden(w, role+" role required", httpserver.RequestIDFromContext(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is RequireRole(RoleAdmin).
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}
