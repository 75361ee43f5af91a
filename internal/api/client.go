// Package api is the shared client for the users backend.
//
// Every request passes through two hooks. The request hook attaches the operator's
// backend credentials from the TokenSource. The response hook turns non-2xx answers
// into *Error values and reports a 401 carrying a token error code as
// ErrSessionInvalid, which the web layer answers with a redirect to the login page.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/freekieb7/usermanager/internal/config"
	"github.com/freekieb7/usermanager/internal/user"
)

const maxResponseBytes = 1 << 20

var (
	// ErrSessionInvalid reports that the backend rejected the operator's token.
	ErrSessionInvalid = errors.New("backend session is no longer valid")
	// ErrBackendUnavailable reports that no answer could be obtained from the backend.
	ErrBackendUnavailable = errors.New("users backend unavailable")

	errServerStatus = errors.New("backend answered with a server error")
)

// Credentials are what the backend handed out on authentication.
type Credentials struct {
	Token  string
	Cookie string
}

func (c Credentials) IsZero() bool {
	return c.Token == "" && c.Cookie == ""
}

// TokenSource yields the stored credentials of the operator behind ctx.
type TokenSource interface {
	Credentials(ctx context.Context) Credentials
}

// Metrics receives one observation per backend round trip.
type Metrics interface {
	ObserveBackendCall(op string, status string, d time.Duration)
	SessionInvalidated()
	BreakerStateChanged(state string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBackendCall(string, string, time.Duration) {}
func (noopMetrics) SessionInvalidated()                              {}
func (noopMetrics) BreakerStateChanged(string)                       {}

type Option func(*Client)

func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is safe for concurrent use. One instance is shared by every handler.
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	withCredentials bool
	tokenCookie     string
	tokenCodes      map[string]struct{}
	tokens          TokenSource
	logger          *slog.Logger
	breaker         *CircuitBreaker
	metrics         Metrics
	tracer          trace.Tracer
}

func New(cfg config.API, logger *slog.Logger, tokens TokenSource, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("backend base URL must be http or https, got %q", cfg.BaseURL)
	}

	tokenCodes := make(map[string]struct{}, len(cfg.TokenErrorCodes))
	for _, code := range cfg.TokenErrorCodes {
		tokenCodes[code] = struct{}{}
	}

	c := &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		withCredentials: cfg.WithCredentials,
		tokenCookie:     cfg.TokenCookie,
		tokenCodes:      tokenCodes,
		tokens:          tokens,
		logger:          logger,
		metrics:         noopMetrics{},
		tracer:          otel.Tracer("github.com/freekieb7/usermanager/internal/api"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
			Logger:       logger,
			OnStateChange: func(_, to CircuitState) {
				c.metrics.BreakerStateChanged(to.String())
			},
		})
	}

	return c, nil
}

type request struct {
	op        string
	method    string
	path      []string
	body      any
	anonymous bool
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) decode(out any) error {
	if len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}

func (r *response) cookies() []*http.Cookie {
	return (&http.Response{Header: r.header}).Cookies()
}

func (c *Client) do(ctx context.Context, req request) (*response, error) {
	ctx, span := c.tracer.Start(ctx, "backend."+req.op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("http.request.method", httpReq.Method),
		attribute.String("url.path", httpReq.URL.Path),
	)

	start := time.Now()
	var resp *response
	var transportErr error

	err = c.breaker.Execute(func() error {
		resp, transportErr = c.roundTrip(httpReq)
		if transportErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return transportErr
		}
		if resp.status >= http.StatusInternalServerError {
			return errServerStatus
		}
		return nil
	})

	switch {
	case errors.Is(err, ErrCircuitOpen):
		c.metrics.ObserveBackendCall(req.op, "circuit_open", time.Since(start))
		span.SetStatus(codes.Error, "circuit open")
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	case transportErr != nil:
		c.metrics.ObserveBackendCall(req.op, "error", time.Since(start))
		span.RecordError(transportErr)
		span.SetStatus(codes.Error, "transport")
		c.logger.ErrorContext(ctx, "Users backend call failed",
			"op", req.op, "method", httpReq.Method, "path", httpReq.URL.Path, "error", transportErr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", httpReq.Method, httpReq.URL.Path, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrBackendUnavailable, httpReq.Method, httpReq.URL.Path, transportErr)
	}

	c.metrics.ObserveBackendCall(req.op, strconv.Itoa(resp.status), time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.status))

	if err := c.checkResponse(ctx, req, resp); err != nil {
		if resp.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(resp.status))
		}
		return resp, err
	}
	return resp, nil
}

// newRequest is the request hook.
func (c *Client) newRequest(ctx context.Context, req request) (*http.Request, error) {
	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", req.op, err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL.JoinPath(req.path...).String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.op, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if !req.anonymous && c.tokens != nil {
		creds := c.tokens.Credentials(ctx)
		if creds.Token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+creds.Token)
		}
		if c.withCredentials && creds.Cookie != "" {
			httpReq.Header.Set("Cookie", creds.Cookie)
		}
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	return httpReq, nil
}

func (c *Client) roundTrip(httpReq *http.Request) (*response, error) {
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &response{
		status: httpResp.StatusCode,
		header: httpResp.Header,
		body:   body,
	}, nil
}

// checkResponse is the response hook.
func (c *Client) checkResponse(ctx context.Context, req request, resp *response) error {
	if resp.status >= 200 && resp.status < 300 {
		return nil
	}

	apiErr := parseError(resp)
	if code, ok := c.tokenErrorCode(resp); ok {
		apiErr.Code = code
		if !req.anonymous && resp.status == http.StatusUnauthorized {
			c.metrics.SessionInvalidated()
			c.logger.InfoContext(ctx, "Users backend rejected the session token", "op", req.op, "code", code)
			return fmt.Errorf("%w: %w", ErrSessionInvalid, apiErr)
		}
	}

	if resp.status >= http.StatusInternalServerError {
		c.logger.ErrorContext(ctx, "Users backend returned a server error",
			"op", req.op, "status", resp.status, "message", apiErr.Message)
	}
	return apiErr
}

// tokenErrorCode looks for a configured token error code in the code field first and
// in the error field second.
func (c *Client) tokenErrorCode(resp *response) (string, bool) {
	var payload errorPayload
	if json.Unmarshal(resp.body, &payload) != nil {
		return "", false
	}
	for _, candidate := range []string{payload.Code, payload.Error} {
		if _, ok := c.tokenCodes[candidate]; ok && candidate != "" {
			return candidate, true
		}
	}
	return "", false
}

// Authenticate exchanges e-mail and password for backend credentials.
func (c *Client) Authenticate(ctx context.Context, email, password string) (Credentials, error) {
	resp, err := c.do(ctx, request{
		op:        "authenticate",
		method:    http.MethodPost,
		path:      []string{"users", "authenticate"},
		body:      map[string]string{"email": email, "password": password},
		anonymous: true,
	})
	if err != nil {
		return Credentials{}, err
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"accessToken"`
	}
	// A body without a token is fine when the backend only sets cookies.
	_ = resp.decode(&body)

	creds := Credentials{Token: body.Token}
	if creds.Token == "" {
		creds.Token = body.AccessToken
	}

	var pairs []string
	for _, cookie := range resp.cookies() {
		if cookie.Name == c.tokenCookie && creds.Token == "" {
			creds.Token = cookie.Value
		}
		pairs = append(pairs, cookie.Name+"="+cookie.Value)
	}
	creds.Cookie = strings.Join(pairs, "; ")

	return creds, nil
}

// Logout ends the backend session of the current operator.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, request{
		op:     "logout",
		method: http.MethodGet,
		path:   []string{"users", "logout"},
	})
	return err
}

func (c *Client) Register(ctx context.Context, in user.Input) error {
	_, err := c.do(ctx, request{
		op:     "register",
		method: http.MethodPost,
		path:   []string{"users", "register"},
		body:   in,
	})
	return err
}

func (c *Client) ListUsers(ctx context.Context) ([]user.User, error) {
	resp, err := c.do(ctx, request{
		op:     "list_users",
		method: http.MethodGet,
		path:   []string{"users"},
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Users []user.User `json:"users"`
	}
	if err := resp.decode(&body); err != nil {
		return nil, err
	}
	return body.Users, nil
}

func (c *Client) UpdateUser(ctx context.Context, id string, in user.Input) error {
	_, err := c.do(ctx, request{
		op:     "update_user",
		method: http.MethodPut,
		path:   []string{"users", "edit", url.PathEscape(id)},
		body:   in,
	})
	return err
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, request{
		op:     "delete_user",
		method: http.MethodDelete,
		path:   []string{"users", "delete", url.PathEscape(id)},
	})
	return err
}

// Ping checks that the backend answers HTTP at all. Any status counts as reachable.
// It bypasses the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	if resp.status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.status)
	}
	return nil
}
