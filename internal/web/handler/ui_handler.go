package handler

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/freekieb7/usermanager/internal/api"
	"github.com/freekieb7/usermanager/internal/config"
	apperrors "github.com/freekieb7/usermanager/internal/errors"
	"github.com/freekieb7/usermanager/internal/form"
	"github.com/freekieb7/usermanager/internal/session"
	"github.com/freekieb7/usermanager/internal/user"
	"github.com/freekieb7/usermanager/internal/web/middleware"
	"github.com/freekieb7/usermanager/internal/web/response"
	"github.com/freekieb7/usermanager/web"
)

const (
	routeLogin      = "/login"
	routeDashboard  = "/dashboard"
	routeCreateUser = "/create-user"
	routeEditUsers  = "/edit-user"

	pageLogin         = "login"
	pageDashboard     = "dashboard"
	pageCreateUser    = "create_user"
	pageEditUsers     = "edit_users"
	pageEditUser      = "edit_user"
	pageConfirmDelete = "confirm_delete"

	msgSessionExpired = "Your session has expired. Please log in again."
	msgUnavailable    = "The users service is unavailable. Please try again later."
	msgTooManyLogins  = "Too many login attempts. Please try again later."
	msgLoginExpired   = "Your sign-in expired before it started. Check the server clock and try again."
)

// UsersBackend is the part of the users backend the pages talk to. *api.Client
// implements it.
type UsersBackend interface {
	Authenticate(ctx context.Context, email, password string) (api.Credentials, error)
	Logout(ctx context.Context) error
	Register(ctx context.Context, in user.Input) error
	ListUsers(ctx context.Context) ([]user.User, error)
	UpdateUser(ctx context.Context, id string, in user.Input) error
	DeleteUser(ctx context.Context, id string) error
}

type UIHandler struct {
	Config       *config.Config
	Logger       *slog.Logger
	SessionStore session.Store
	API          UsersBackend
	// RateLimiter guards login submissions. Nil disables login rate limiting.
	RateLimiter middleware.RateLimiter

	clientIP  *middleware.ClientIPResolver
	templates map[string]*template.Template
}

func NewUIHandler(cfg *config.Config, logger *slog.Logger, sessionStore session.Store, backend UsersBackend, rateLimiter middleware.RateLimiter) (UIHandler, error) {
	templates, err := web.ParseTemplates(templateFuncs())
	if err != nil {
		return UIHandler{}, fmt.Errorf("parse templates: %w", err)
	}

	clientIP, err := middleware.NewClientIPResolver(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return UIHandler{}, err
	}

	return UIHandler{
		Config:       cfg,
		Logger:       logger,
		SessionStore: sessionStore,
		API:          backend,
		RateLimiter:  rateLimiter,
		clientIP:     clientIP,
		templates:    templates,
	}, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"date": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Local().Format("2006-01-02 15:04")
		},
		"title": titleCase,
	}
}

// titleCase upper-cases the first rune of v.
func titleCase(v any) string {
	s := fmt.Sprint(v)
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func (h *UIHandler) RegisterRoutes(mux *http.ServeMux) {
	securityMiddleware := middleware.SecurityHeadersWithConfig(middleware.SecurityHeadersFromConfig(h.Config.Security))
	sessionMiddleware := middleware.Session(h.Config, h.Logger, h.SessionStore)
	csrfMiddleware := middleware.CSRF(h.Logger)
	authenticatedMiddleware := middleware.Authenticated(h.Logger)

	publicChain := middleware.Chain(
		securityMiddleware,
		middleware.InputValidationMiddleware(),
		middleware.NoStore(),
		sessionMiddleware,
		csrfMiddleware,
	)
	protectedChain := middleware.Chain(publicChain, authenticatedMiddleware)

	staticHandler := http.StripPrefix("/static/", web.NewStaticHandler())
	mux.Handle("GET /static/", middleware.Chain(securityMiddleware, middleware.StaticCache())(staticHandler))

	mux.Handle("GET /{$}", publicChain(http.RedirectHandler(routeDashboard, http.StatusSeeOther)))

	mux.Handle("GET "+routeLogin, publicChain(http.HandlerFunc(h.HandleLoginGet)))
	mux.Handle("POST "+routeLogin, publicChain(h.loginRateLimit(http.HandlerFunc(h.HandleLoginPost))))
	mux.Handle("POST /logout", publicChain(http.HandlerFunc(h.HandleLogout)))

	mux.Handle("GET "+routeDashboard, protectedChain(http.HandlerFunc(h.HandleDashboard)))

	mux.Handle("GET "+routeCreateUser, protectedChain(http.HandlerFunc(h.HandleCreateUserGet)))
	mux.Handle("POST "+routeCreateUser, protectedChain(http.HandlerFunc(h.HandleCreateUserPost)))

	mux.Handle("GET "+routeEditUsers, protectedChain(http.HandlerFunc(h.HandleEditUsers)))
	mux.Handle("GET "+routeEditUsers+"/{id}", protectedChain(http.HandlerFunc(h.HandleEditUserGet)))
	mux.Handle("POST "+routeEditUsers+"/{id}", protectedChain(http.HandlerFunc(h.HandleEditUserPost)))
	mux.Handle("GET "+routeEditUsers+"/{id}/delete", protectedChain(http.HandlerFunc(h.HandleDeleteUserGet)))
	mux.Handle("POST "+routeEditUsers+"/{id}/delete", protectedChain(http.HandlerFunc(h.HandleDeleteUserPost)))
}

func (h *UIHandler) loginRateLimit(next http.Handler) http.Handler {
	if !h.Config.RateLimit.Enabled || h.RateLimiter == nil {
		return next
	}

	exceeded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appErr := apperrors.RateLimitedError(msgTooManyLogins, nil)
		h.Logger.WarnContext(r.Context(), "Login rate limit exceeded", "ip", h.clientIP.ClientIP(r), "code", appErr.Code)
		h.render(w, r, appErr.HTTPCode, pageLogin, pageData{
			Title:   "Login",
			Form:    user.LoginInput{},
			Flashes: h.errorFlash(appErr),
		})
	})

	limit := middleware.LoginRateLimit(h.Config.RateLimit, h.clientIP, exceeded)
	return middleware.RateLimitMiddleware(h.RateLimiter, limit, h.Logger)(next)
}

// pageData is what every page template receives. The session derived fields are
// filled in by render.
type pageData struct {
	Title  string
	Active string

	CSRFToken     string
	Authenticated bool
	Email         string
	Flashes       []session.Flash

	Form     any
	Errors   form.Errors
	Users    []user.User
	Selected user.User
	Types    []user.Type
}

// render writes the page with status. Flashes queued in the session are shown once
// and removed.
func (h *UIHandler) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	ctx := r.Context()

	if sess, ok := session.FromContext(ctx); ok {
		data.CSRFToken = sess.CSRFToken()
		data.Authenticated = sess.IsAuthenticated()
		data.Email = sess.Email()

		if queued := sess.PopFlashes(); len(queued) > 0 {
			data.Flashes = append(queued, data.Flashes...)
			h.saveSession(ctx, sess)
		}
	}
	data.Types = user.Types

	tmpl, ok := h.templates[page]
	if !ok {
		h.Logger.ErrorContext(ctx, "Unknown page template", "page", page)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := response.HTMLResponse(w, status, tmpl, "base", data); err != nil {
		h.Logger.ErrorContext(ctx, "Failed to render page", "page", page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *UIHandler) saveSession(ctx context.Context, sess *session.Session) bool {
	saved, err := h.SessionStore.SaveSession(ctx, *sess)
	if err != nil {
		h.Logger.ErrorContext(ctx, "Failed to save session", "error", err)
		return false
	}
	*sess = saved
	return true
}

// redirectWithFlash queues a toast for the next page and redirects to target.
func (h *UIHandler) redirectWithFlash(w http.ResponseWriter, r *http.Request, target string, flashType session.FlashType, message string) {
	if sess, ok := session.FromContext(r.Context()); ok {
		sess.AddFlash(flashType, message)
		h.saveSession(r.Context(), sess)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// expireSession drops the backend credentials the backend just refused and sends the
// operator back to the login page.
func (h *UIHandler) expireSession(w http.ResponseWriter, r *http.Request, cause error) {
	ctx := r.Context()
	appErr := apperrors.SessionExpiredError(msgSessionExpired, cause)

	if sess, ok := session.FromContext(ctx); ok {
		h.Logger.InfoContext(ctx, "Backend session invalid, logging out", "email", sess.Email(), "code", appErr.Code, "error", cause)
		sess.ClearAuthentication()
	}
	h.redirectWithFlash(w, r, routeLogin, session.FlashError, appErr.Message)
}

// backendError classifies a failed backend call. fallback is the message shown when
// nothing more specific applies.
func backendError(err error, fallback string) *apperrors.AppError {
	switch {
	case errors.Is(err, api.ErrBackendUnavailable):
		return apperrors.BackendUnavailableError(msgUnavailable, err)
	case api.IsUserAlreadyExists(err):
		return apperrors.ConflictError("E-mail already registered", err)
	case api.StatusOf(err) == http.StatusNotFound:
		return apperrors.NotFoundError("User not found", err)
	case api.IsClientError(err):
		return apperrors.InvalidRequestError(fallback, err)
	default:
		return apperrors.BackendError(fallback, err)
	}
}

// logBackendError logs at error level what the operator cannot fix and at warn level
// what the backend refused.
func (h *UIHandler) logBackendError(ctx context.Context, msg string, appErr *apperrors.AppError) {
	if appErr.HTTPCode >= http.StatusInternalServerError {
		h.Logger.ErrorContext(ctx, msg, "code", appErr.Code, "error", appErr.Cause)
		return
	}
	h.Logger.WarnContext(ctx, msg, "code", appErr.Code, "error", appErr.Cause)
}

func (h *UIHandler) errorFlash(appErr *apperrors.AppError) []session.Flash {
	return []session.Flash{{Type: session.FlashError, Message: appErr.Message}}
}

func findUser(users []user.User, id string) (user.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return user.User{}, false
}
