package handler

import (
	"errors"
	"net/http"

	"github.com/freekieb7/usermanager/internal/api"
	apperrors "github.com/freekieb7/usermanager/internal/errors"
	"github.com/freekieb7/usermanager/internal/form"
	"github.com/freekieb7/usermanager/internal/session"
	"github.com/freekieb7/usermanager/internal/user"
	"github.com/freekieb7/usermanager/internal/web/middleware"
)

func (h *UIHandler) HandleLoginGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		h.Logger.ErrorContext(r.Context(), "Session not found in context")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if sess.IsAuthenticated() {
		http.Redirect(w, r, routeDashboard, http.StatusSeeOther)
		return
	}

	h.render(w, r, http.StatusOK, pageLogin, pageData{
		Title: "Login",
		Form:  user.LoginInput{},
	})
}

func (h *UIHandler) HandleLoginPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, ok := session.FromContext(ctx)
	if !ok {
		h.Logger.ErrorContext(ctx, "Session not found in context")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var in user.LoginInput
	if err := form.Decode(r, &in); err != nil {
		h.Logger.WarnContext(ctx, "Failed to decode login form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	in.Normalize()

	if errs := form.Validate(&in); errs != nil {
		appErr := apperrors.ValidationError("Login form rejected", nil)
		h.Logger.InfoContext(ctx, appErr.Message, "code", appErr.Code, "fields", form.Details(&in))
		h.render(w, r, appErr.HTTPCode, pageLogin, pageData{
			Title:  "Login",
			Form:   user.LoginInput{Email: in.Email},
			Errors: errs,
		})
		return
	}

	creds, err := h.API.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		var appErr *apperrors.AppError
		switch {
		case errors.Is(err, api.ErrBackendUnavailable):
			appErr = apperrors.BackendUnavailableError(msgUnavailable, err)
		case api.IsClientError(err):
			appErr = apperrors.UnauthorizedError("Invalid credentials", err)
		default:
			appErr = apperrors.BackendError("Failed to sign in. Please try again.", err)
		}
		h.logBackendError(ctx, "Login failed", appErr)

		h.render(w, r, appErr.HTTPCode, pageLogin, pageData{
			Title:   "Login",
			Form:    user.LoginInput{Email: in.Email},
			Flashes: h.errorFlash(appErr),
		})
		return
	}

	if err := sess.SetAuthenticated(in.Email, creds, h.Config.Session.TTL); err != nil {
		appErr := apperrors.SessionExpiredError(msgLoginExpired, err)
		h.Logger.WarnContext(ctx, "Backend token expired before the session started", "email", in.Email, "code", appErr.Code)

		h.render(w, r, appErr.HTTPCode, pageLogin, pageData{
			Title:   "Login",
			Form:    user.LoginInput{Email: in.Email},
			Flashes: h.errorFlash(appErr),
		})
		return
	}
	if !h.saveSession(ctx, sess) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	// New token after login against session fixation
	regenerated, err := h.SessionStore.RegenerateSession(ctx, *sess)
	if err != nil {
		h.Logger.ErrorContext(ctx, "Failed to regenerate session", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	*sess = regenerated
	middleware.SetSessionCookie(w, h.Config, sess.Token, 0)

	if h.RateLimiter != nil {
		if err := h.RateLimiter.Reset(ctx, h.clientIP.LoginKey(r)); err != nil {
			h.Logger.WarnContext(ctx, "Failed to reset login rate limit", "error", err)
		}
	}

	h.Logger.InfoContext(ctx, "User logged in successfully", "email", in.Email)
	http.Redirect(w, r, routeDashboard, http.StatusSeeOther)
}

// HandleLogout ends the backend session and always destroys the local one, even when
// the backend call fails.
func (h *UIHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, ok := session.FromContext(ctx)
	if ok && sess.IsAuthenticated() {
		if err := h.API.Logout(ctx); err != nil {
			h.Logger.WarnContext(ctx, "Backend logout failed", "error", err)
		}
	}

	if ok && sess.Token != "" {
		if err := h.SessionStore.DeleteSession(ctx, sess.Token); err != nil {
			h.Logger.ErrorContext(ctx, "Failed to delete session during logout", "error", err)
		}
		h.Logger.InfoContext(ctx, "User logged out", "email", sess.Email())
	}

	middleware.SetSessionCookie(w, h.Config, "", -1)
	http.Redirect(w, r, routeLogin, http.StatusSeeOther)
}
