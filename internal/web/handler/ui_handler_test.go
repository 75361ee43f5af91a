package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freekieb7/usermanager/internal/api"
	"github.com/freekieb7/usermanager/internal/cache"
	"github.com/freekieb7/usermanager/internal/config"
	apperrors "github.com/freekieb7/usermanager/internal/errors"
	"github.com/freekieb7/usermanager/internal/session"
	"github.com/freekieb7/usermanager/internal/user"
	"github.com/freekieb7/usermanager/internal/web/middleware"
)

const (
	operatorEmail    = "admin@example.com"
	operatorPassword = "secret"
	backendToken     = "backend-token"
)

// fakeBackend is an in-memory users backend speaking the REST contract.
type fakeBackend struct {
	mu       sync.Mutex
	users    []user.User
	calls    []string
	bodies   map[string][]byte
	nextID   int
	expired  bool
	failNext int
	// listBody replaces the GET /users answer when set.
	listBody string
	// loginToken replaces the token handed out on authenticate when set.
	loginToken string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users: []user.User{
			{ID: "u-1", Name: "Ada Lovelace", Email: "ada@example.com", Type: user.TypeAdmin, CreatedAt: user.Timestamp{Time: time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)}},
			{ID: "u-2", Name: "Alan Turing", Email: "alan@example.com", Type: user.TypeUser, CreatedAt: user.Timestamp{Time: time.Date(2024, 2, 3, 4, 5, 0, 0, time.UTC)}},
		},
		bodies: make(map[string][]byte),
		nextID: 3,
	}
}

func (f *fakeBackend) setExpired(expired bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = expired
}

func (f *fakeBackend) failNextWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = status
}

func (f *fakeBackend) setListBody(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listBody = body
}

func (f *fakeBackend) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeBackend) body(call string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[call]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := r.Method + " " + r.URL.Path
	f.calls = append(f.calls, call)
	body, _ := io.ReadAll(r.Body)
	f.bodies[call] = body

	if r.URL.Path != "/users/authenticate" {
		if f.expired {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "jwt expired", "code": "token.expired"})
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+backendToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing token", "code": "token.missing"})
			return
		}
	}

	if f.failNext != 0 {
		status := f.failNext
		f.failNext = 0
		writeJSON(w, status, map[string]string{"error": "boom"})
		return
	}

	switch {
	case call == "POST /users/authenticate":
		var in struct{ Email, Password string }
		json.Unmarshal(body, &in)
		if in.Email != operatorEmail || in.Password != operatorPassword {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
			return
		}
		token := backendToken
		if f.loginToken != "" {
			token = f.loginToken
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})

	case call == "GET /users/logout":
		writeJSON(w, http.StatusOK, map[string]string{"message": "bye"})

	case call == "GET /users":
		if f.listBody != "" {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, f.listBody)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": f.users})

	case call == "POST /users/register":
		var in user.Input
		json.Unmarshal(body, &in)
		for _, u := range f.users {
			if u.Email == in.Email {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "User already exists"})
				return
			}
		}
		f.users = append(f.users, user.User{
			ID:        fmt.Sprintf("u-%d", f.nextID),
			Name:      in.Name,
			Email:     in.Email,
			Type:      in.Type,
			CreatedAt: user.Timestamp{Time: time.Now()},
		})
		f.nextID++
		writeJSON(w, http.StatusCreated, map[string]string{"message": "created"})

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/users/edit/"):
		id := strings.TrimPrefix(r.URL.Path, "/users/edit/")
		var in user.Input
		json.Unmarshal(body, &in)
		for i := range f.users {
			if f.users[i].ID == id {
				f.users[i].Name, f.users[i].Email, f.users[i].Type = in.Name, in.Email, in.Type
				writeJSON(w, http.StatusOK, map[string]string{"message": "updated"})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/users/delete/"):
		id := strings.TrimPrefix(r.URL.Path, "/users/delete/")
		for i := range f.users {
			if f.users[i].ID == id {
				f.users = append(f.users[:i], f.users[i+1:]...)
				writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route"})
	}
}

func testAppConfig(backendURL string) *config.Config {
	return &config.Config{
		Server: config.Server{Environment: config.EnvTesting},
		API: config.API{
			BaseURL:             backendURL,
			Timeout:             2 * time.Second,
			TokenCookie:         "token",
			TokenErrorCodes:     []string{"token.invalid", "token.expired", "token.missing"},
			BreakerMaxFailures:  50,
			BreakerResetTimeout: time.Minute,
		},
		Session: config.Session{
			Driver:     config.SessionDriverMemory,
			CookieName: "SID",
			TTL:        time.Hour,
		},
		Security: config.Security{
			ContentSecurityPolicy: "default-src 'self'",
			ReferrerPolicy:        "same-origin",
		},
		RateLimit: config.RateLimit{
			Enabled:        true,
			LoginRequests:  3,
			WindowDuration: time.Minute,
		},
	}
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
	csrf   string
}

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	body := string(raw)

	if m := csrfPattern.FindStringSubmatch(body); m != nil {
		b.csrf = m[1]
	}
	return resp, body
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

// formRequest builds a form submission carrying the CSRF token of the last rendered page.
func (b *browser) formRequest(path string, values url.Values) *http.Request {
	b.t.Helper()
	if values == nil {
		values = url.Values{}
	}
	if values.Get(middleware.CSRFFieldName) == "" {
		values.Set(middleware.CSRFFieldName, b.csrf)
	}

	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(values.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func (b *browser) post(path string, values url.Values) (*http.Response, string) {
	b.t.Helper()
	return b.do(b.formRequest(path, values))
}

func (b *browser) postForwardedFor(path string, values url.Values, forwardedFor string) (*http.Response, string) {
	b.t.Helper()
	req := b.formRequest(path, values)
	req.Header.Set("X-Forwarded-For", forwardedFor)
	return b.do(req)
}

func (b *browser) login() {
	b.t.Helper()
	b.get("/login")
	resp, _ := b.post("/login", url.Values{"email": {operatorEmail}, "password": {operatorPassword}})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(b.t, "/dashboard", resp.Header.Get("Location"))
}

func (b *browser) sessionCookie() string {
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == "SID" {
			return c.Value
		}
	}
	return ""
}

func newTestApp(t *testing.T, configure ...func(*config.Config)) (*fakeBackend, *browser) {
	t.Helper()

	backend := newFakeBackend()
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testAppConfig(backendSrv.URL)
	for _, fn := range configure {
		fn(cfg)
	}

	client, err := api.New(cfg.API, logger, session.ContextTokens{})
	require.NoError(t, err)

	store := session.NewCacheStore(cache.NewLocalService("test:", logger), logger, cfg.Session.TTL)
	limiter := middleware.NewInMemoryRateLimiter()
	t.Cleanup(func() { limiter.Close() })

	h, err := NewUIHandler(cfg, logger, store, client, limiter)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	appSrv := httptest.NewServer(mux)
	t.Cleanup(appSrv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return backend, &browser{
		t:    t,
		base: appSrv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func TestRootRedirectsToDashboard(t *testing.T) {
	_, b := newTestApp(t)

	resp, _ := b.get("/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestProtectedPagesRequireLogin(t *testing.T) {
	backend, b := newTestApp(t)

	for _, path := range []string{"/dashboard", "/create-user", "/edit-user", "/edit-user/u-1", "/edit-user/u-1/delete"} {
		resp, _ := b.get(path)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		assert.Equal(t, "/login", resp.Header.Get("Location"), path)
	}
	assert.Zero(t, backend.callCount(""))
}

func TestLoginPage(t *testing.T) {
	_, b := newTestApp(t)

	resp, body := b.get("/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Access dashboard")
	assert.NotEmpty(t, b.csrf)
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "default-src 'self'", resp.Header.Get("Content-Security-Policy"))
	assert.NotContains(t, body, "Logout")
}

func TestLoginValidationBlocksBackendCall(t *testing.T) {
	backend, b := newTestApp(t)
	b.get("/login")

	resp, body := b.post("/login", url.Values{"email": {"not-an-email"}, "password": {"abc"}})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Enter a valid e-mail!")
	assert.Contains(t, body, "Enter a valid password!")
	assert.Contains(t, body, `value="not-an-email"`)
	assert.NotContains(t, body, `value="abc"`)
	assert.Zero(t, backend.callCount(""))
}

func TestLoginInvalidCredentials(t *testing.T) {
	backend, b := newTestApp(t)
	b.get("/login")

	resp, body := b.post("/login", url.Values{"email": {operatorEmail}, "password": {"wrong-password"}})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid credentials")
	assert.Equal(t, 1, backend.callCount("POST /users/authenticate"))

	resp, _ = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestLoginRegeneratesSession(t *testing.T) {
	_, b := newTestApp(t)

	b.get("/login")
	before := b.sessionCookie()
	require.NotEmpty(t, before)

	b.login()
	after := b.sessionCookie()
	assert.NotEmpty(t, after)
	assert.NotEqual(t, before, after)

	resp, _ := b.get("/login")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))
}

func TestLoginWithExpiredBackendToken(t *testing.T) {
	backend, b := newTestApp(t)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": operatorEmail,
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	backend.mu.Lock()
	backend.loginToken = expired
	backend.mu.Unlock()

	b.get("/login")
	before := b.sessionCookie()

	resp, body := b.post("/login", url.Values{"email": {operatorEmail}, "password": {operatorPassword}})

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, msgLoginExpired)
	assert.Contains(t, body, `value="admin@example.com"`)
	assert.Equal(t, before, b.sessionCookie())

	resp, _ = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestDashboardListsUsers(t *testing.T) {
	_, b := newTestApp(t)
	b.login()

	resp, body := b.get("/dashboard")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Ada Lovelace")
	assert.Contains(t, body, "alan@example.com")
	assert.Contains(t, body, "u-2")
	assert.Contains(t, body, "Logout")
	assert.Contains(t, body, operatorEmail)
}

func TestListToleratesUnreadableTimestamps(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()
	backend.setListBody(`{"users":[
		{"id":"u-1","name":"Ada Lovelace","email":"ada@example.com","type":"admin","createdAt":"","updatedAt":null},
		{"id":"u-2","name":"Alan Turing","email":"alan@example.com","type":"user","createdAt":"not a date"},
		{"id":"u-3","name":"Grace Hopper","email":"grace@example.com","type":"user","createdAt":"2024-02-03T04:05:00Z"}
	]}`)

	resp, body := b.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Ada Lovelace")
	assert.Contains(t, body, "Alan Turing")
	assert.Contains(t, body, "Grace Hopper")
	assert.Contains(t, body, "<td>-</td>")

	resp, body = b.get("/edit-user/u-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `value="Ada Lovelace"`)
}

func TestLoginRateLimit(t *testing.T) {
	_, b := newTestApp(t)
	b.get("/login")

	bad := url.Values{"email": {operatorEmail}, "password": {"wrong-password"}}
	for i := 0; i < 3; i++ {
		resp, _ := b.post("/login", bad)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, body := b.post("/login", bad)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body, msgTooManyLogins)
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	backend, b := newTestApp(t)
	b.get("/login")

	bad := url.Values{"email": {operatorEmail}, "password": {"wrong-password"}}
	limited := 0
	for i := 0; i < 10; i++ {
		resp, _ := b.postForwardedFor("/login", bad, fmt.Sprintf("198.51.100.%d", i+1))
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Equal(t, 7, limited)
	assert.Equal(t, 3, backend.callCount("POST /users/authenticate"))
}

func TestLoginRateLimitBehindTrustedProxy(t *testing.T) {
	_, b := newTestApp(t, func(cfg *config.Config) {
		cfg.RateLimit.TrustedProxies = []string{"127.0.0.1", "::1"}
	})
	b.get("/login")

	bad := url.Values{"email": {operatorEmail}, "password": {"wrong-password"}}
	for i := 0; i < 3; i++ {
		resp, _ := b.postForwardedFor("/login", bad, "198.51.100.7")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, _ := b.postForwardedFor("/login", bad, "198.51.100.7")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = b.postForwardedFor("/login", bad, "198.51.100.8")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCSRFRequiredOnForms(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()

	resp, _ := b.post("/create-user", url.Values{
		middleware.CSRFFieldName: {"forged"},
		"name":                   {"Grace Hopper"},
		"email":                  {"grace@example.com"},
		"type":                   {"user"},
		"password":               {"secret"},
	})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, backend.callCount("POST /users/register"))
}

func TestSessionInvalidRedirectsToLogin(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		form   url.Values
	}{
		{name: "dashboard", method: http.MethodGet, path: "/dashboard"},
		{name: "edit list", method: http.MethodGet, path: "/edit-user"},
		{name: "edit dialog", method: http.MethodGet, path: "/edit-user/u-1"},
		{name: "delete confirmation", method: http.MethodGet, path: "/edit-user/u-1/delete"},
		{name: "delete", method: http.MethodPost, path: "/edit-user/u-1/delete"},
		{name: "create", method: http.MethodPost, path: "/create-user", form: url.Values{
			"name": {"Grace Hopper"}, "email": {"grace@example.com"}, "type": {"user"}, "password": {"secret"},
		}},
		{name: "update", method: http.MethodPost, path: "/edit-user/u-1", form: url.Values{
			"name": {"Ada King"}, "email": {"ada@example.com"}, "type": {"admin"}, "password": {"secret"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, b := newTestApp(t)
			b.login()
			backend.setExpired(true)

			var resp *http.Response
			if tt.method == http.MethodGet {
				resp, _ = b.get(tt.path)
			} else {
				resp, _ = b.post(tt.path, tt.form)
			}
			assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
			assert.Equal(t, "/login", resp.Header.Get("Location"))

			resp, body := b.get("/login")
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, body, msgSessionExpired)

			backend.setExpired(false)
			resp, _ = b.get("/dashboard")
			assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
			assert.Equal(t, "/login", resp.Header.Get("Location"))
		})
	}
}

func TestCreateUserValidationBlocksBackendCall(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()
	b.get("/create-user")

	resp, body := b.post("/create-user", url.Values{
		"name":     {"Al"},
		"email":    {"broken"},
		"type":     {"root"},
		"password": {"123"},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Enter a valid name!")
	assert.Contains(t, body, "Enter a valid e-mail!")
	assert.Contains(t, body, "Select a valid type!")
	assert.Contains(t, body, "The password must have at least 4 characters!")
	assert.NotContains(t, body, `value="123"`)
	assert.Zero(t, backend.callCount("POST /users/register"))
}

func TestRegisterThenDashboardShowsUser(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()

	resp, body := b.get("/create-user")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Add new user")
	assert.Contains(t, body, `data-loading-text="Adding..."`)

	resp, _ = b.post("/create-user", url.Values{
		"name":     {"  Grace Hopper "},
		"email":    {"grace@example.com"},
		"type":     {"admin"},
		"password": {"cobol"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(backend.body("POST /users/register"), &sent))
	assert.Equal(t, map[string]any{
		"name":     "Grace Hopper",
		"email":    "grace@example.com",
		"type":     "admin",
		"password": "cobol",
	}, sent)

	resp, body = b.get("/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Grace Hopper")
	assert.Contains(t, body, "User added successfully!")

	_, body = b.get("/dashboard")
	assert.NotContains(t, body, "User added successfully!")
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	_, b := newTestApp(t)
	b.login()
	b.get("/create-user")

	resp, body := b.post("/create-user", url.Values{
		"name":     {"Ada Again"},
		"email":    {"ada@example.com"},
		"type":     {"user"},
		"password": {"secret"},
	})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, "E-mail already registered")
	assert.NotContains(t, body, "Failed to add user")
	assert.Contains(t, body, `value="Ada Again"`)
}

func TestCreateUserGenericFailure(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()
	b.get("/create-user")
	backend.failNextWith(http.StatusInternalServerError)

	resp, body := b.post("/create-user", url.Values{
		"name":     {"Grace Hopper"},
		"email":    {"grace@example.com"},
		"type":     {"user"},
		"password": {"secret"},
	})

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "Failed to add user")
	assert.NotContains(t, body, "E-mail already registered")
}

func TestEditDialogPrefillsUser(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()

	resp, body := b.get("/edit-user/u-1")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Edit user")
	assert.Contains(t, body, `value="Ada Lovelace"`)
	assert.Contains(t, body, `value="ada@example.com"`)
	assert.Contains(t, body, `<option value="admin" selected>`)
	assert.Contains(t, body, `data-loading-text="Saving..."`)
	assert.Equal(t, 1, backend.callCount("GET /users"))
}

func TestEditSendsEditedFieldsAndRefreshesList(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()
	b.get("/edit-user/u-1")

	resp, _ := b.post("/edit-user/u-1", url.Values{
		"name":     {"Ada King"},
		"email":    {"ada.king@example.com"},
		"type":     {"user"},
		"password": {"engine"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/edit-user", resp.Header.Get("Location"))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(backend.body("PUT /users/edit/u-1"), &sent))
	assert.Equal(t, map[string]any{
		"name":     "Ada King",
		"email":    "ada.king@example.com",
		"type":     "user",
		"password": "engine",
	}, sent)

	resp, body := b.get("/edit-user")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Ada King")
	assert.NotContains(t, body, "Ada Lovelace")
	assert.Contains(t, body, "User updated successfully!")
}

func TestEditValidationBlocksBackendCall(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()
	b.get("/edit-user/u-1")
	listCalls := backend.callCount("GET /users")

	resp, body := b.post("/edit-user/u-1", url.Values{
		"name":     {"Ada King"},
		"email":    {"ada.king@example.com"},
		"type":     {"user"},
		"password": {""},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "The password must have at least 4 characters!")
	assert.Contains(t, body, `action="/edit-user/u-1"`)
	assert.Zero(t, backend.callCount("PUT "))
	assert.Equal(t, listCalls, backend.callCount("GET /users"))
}

func TestEditUnknownUser(t *testing.T) {
	_, b := newTestApp(t)
	b.login()

	resp, _ := b.get("/edit-user/u-404")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/edit-user", resp.Header.Get("Location"))

	_, body := b.get("/edit-user")
	assert.Contains(t, body, "User not found")
}

func TestDeleteAfterConfirmation(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()

	resp, body := b.get("/edit-user/u-2/delete")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Are you sure you want to delete <strong>Alan Turing</strong>")
	assert.Contains(t, body, `href="/edit-user"`)
	assert.Zero(t, backend.callCount("DELETE "))

	resp, _ = b.post("/edit-user/u-2/delete", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/edit-user", resp.Header.Get("Location"))
	assert.Equal(t, 1, backend.callCount("DELETE /users/delete/u-2"))

	_, body = b.get("/edit-user")
	assert.NotContains(t, body, "Alan Turing")
	assert.Contains(t, body, "User deleted successfully!")
}

func TestCancelDeleteIssuesNoCall(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()

	b.get("/edit-user/u-2/delete")
	resp, body := b.get("/edit-user")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Alan Turing")
	assert.Zero(t, backend.callCount("DELETE "))
}

func TestLogout(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()
	b.get("/dashboard")

	resp, _ := b.post("/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, 1, backend.callCount("GET /users/logout"))
	assert.Empty(t, b.sessionCookie())

	resp, _ = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestLogoutSurvivesBackendFailure(t *testing.T) {
	backend, b := newTestApp(t)
	b.login()
	b.get("/dashboard")
	backend.setExpired(true)

	resp, _ := b.post("/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	backend.setExpired(false)
	resp, _ = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestStaticAssets(t *testing.T) {
	_, b := newTestApp(t)

	resp, body := b.get("/static/app.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=86400", resp.Header.Get("Cache-Control"))
	assert.Contains(t, body, "data-loading-text")
}

func TestTitleCase(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "", want: ""},
		{in: "user", want: "User"},
		{in: "élève", want: "Élève"},
		{in: "ärzte", want: "Ärzte"},
		{in: "1st", want: "1st"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, titleCase(tt.in), tt.in)
	}
	assert.Equal(t, "Admin", titleCase(user.TypeAdmin))
}

func TestBackendError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantHTTP int
		wantMsg  string
	}{
		{
			name:     "unavailable",
			err:      fmt.Errorf("%w: dial tcp", api.ErrBackendUnavailable),
			wantCode: apperrors.CodeBackendUnavailable,
			wantHTTP: http.StatusServiceUnavailable,
			wantMsg:  msgUnavailable,
		},
		{
			name:     "duplicate e-mail",
			err:      &api.Error{Status: http.StatusBadRequest, Message: "User already exists"},
			wantCode: apperrors.CodeConflict,
			wantHTTP: http.StatusConflict,
			wantMsg:  "E-mail already registered",
		},
		{
			name:     "not found",
			err:      &api.Error{Status: http.StatusNotFound, Message: "User not found"},
			wantCode: apperrors.CodeNotFound,
			wantHTTP: http.StatusNotFound,
			wantMsg:  "User not found",
		},
		{
			name:     "rejected",
			err:      &api.Error{Status: http.StatusBadRequest, Message: "bad type"},
			wantCode: apperrors.CodeInvalidRequest,
			wantHTTP: http.StatusBadRequest,
			wantMsg:  "Failed",
		},
		{
			name:     "server error",
			err:      &api.Error{Status: http.StatusInternalServerError, Message: "boom"},
			wantCode: apperrors.CodeBackendError,
			wantHTTP: http.StatusBadGateway,
			wantMsg:  "Failed",
		},
		{
			name:     "unknown",
			err:      errors.New("decode backend response"),
			wantCode: apperrors.CodeBackendError,
			wantHTTP: http.StatusBadGateway,
			wantMsg:  "Failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := backendError(tt.err, "Failed")
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantHTTP, appErr.HTTPCode)
			assert.Equal(t, tt.wantMsg, appErr.Message)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}
}
