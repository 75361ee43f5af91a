package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/freekieb7/usermanager/internal/session"
)

// CSRFFieldName is the hidden form field carrying the token.
const CSRFFieldName = "csrf_token"

// CSRF validates the session token on unsafe methods. The token is minted once per
// session, so every open form of the session stays valid.
func CSRF(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok {
				logger.ErrorContext(r.Context(), "Session not found in context")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			if err := r.ParseForm(); err != nil {
				logger.WarnContext(r.Context(), "Failed to parse form", "error", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			csrfToken := r.PostFormValue(CSRFFieldName)
			if csrfToken == "" {
				logger.WarnContext(r.Context(), "Missing CSRF token", "path", r.URL.Path)
				http.Error(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}

			savedToken := sess.CSRFToken()
			if savedToken == "" {
				logger.WarnContext(r.Context(), "Missing CSRF token in session")
				http.Error(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}

			if subtle.ConstantTimeCompare([]byte(savedToken), []byte(csrfToken)) != 1 {
				logger.WarnContext(r.Context(), "Invalid CSRF token", "path", r.URL.Path, "method", r.Method)
				http.Error(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
