package middleware

import (
	"log/slog"
	"net/http"

	"github.com/freekieb7/usermanager/internal/session"
)

// LoginPath is where unauthenticated operators are sent.
const LoginPath = "/login"

func Authenticated(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok || !sess.IsAuthenticated() {
				logger.DebugContext(r.Context(), "User not logged in", "path", r.URL.Path)

				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
