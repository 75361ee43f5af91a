package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/freekieb7/usermanager/internal/config"
	"github.com/freekieb7/usermanager/internal/session"
)

// SetSessionCookie writes the session cookie. A negative maxAge removes it.
func SetSessionCookie(w http.ResponseWriter, cfg *config.Config, token string, maxAge int) {
	name := cfg.Session.CookieName
	if name == "" {
		name = session.CookieName
	}

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Server.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

// Session loads the session named by the cookie, or starts a new one, and stores a
// pointer to it in the request context.
func Session(cfg *config.Config, logger *slog.Logger, sessionStore session.Store) func(http.Handler) http.Handler {
	cookieName := cfg.Session.CookieName
	if cookieName == "" {
		cookieName = session.CookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var (
				sess  session.Session
				found bool
			)

			if sessionCookie, err := r.Cookie(cookieName); err == nil && sessionCookie.Value != "" {
				sess, err = sessionStore.GetSessionByToken(ctx, sessionCookie.Value)
				switch {
				case err == nil:
					found = true
				case errors.Is(err, session.ErrSessionNotFound):
					logger.DebugContext(ctx, "Session not found, starting a new one")
				default:
					logger.ErrorContext(ctx, "Failed to get session by token", "error", err)
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
			}

			if !found {
				var err error
				sess, err = sessionStore.NewSession()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to create new session", "error", err)
					w.WriteHeader(http.StatusInternalServerError)
					return
				}

				sess, err = sessionStore.SaveSession(ctx, sess)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to save new session", "error", err)
					w.WriteHeader(http.StatusInternalServerError)
					return
				}

				SetSessionCookie(w, cfg, sess.Token, 0)
			}

			next.ServeHTTP(w, r.WithContext(session.NewContext(ctx, &sess)))
		})
	}
}
