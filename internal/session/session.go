package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/freekieb7/usermanager/internal/api"
)

// Keys of Session.Data
const (
	KeyCSRFToken     = "csrf_token"
	KeyAuthenticated = "authenticated"
	KeyEmail         = "email"
	KeyAPIToken      = "api_token"
	KeyAPICookie     = "api_cookie"
	KeyFlash         = "flash"
)

type Session struct {
	ID        uuid.UUID      `json:"id"`
	Token     string         `json:"token"`
	Data      map[string]any `json:"data"`
	ExpiresAt time.Time      `json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
}

type FlashType string

const (
	FlashSuccess FlashType = "success"
	FlashError   FlashType = "error"
)

// Flash is a one-shot message shown as a toast by the next rendered page.
type Flash struct {
	Type    FlashType `json:"type"`
	Message string    `json:"message"`
}

func (s *Session) String(key string) string {
	v, _ := s.Data[key].(string)
	return v
}

func (s *Session) CSRFToken() string {
	return s.String(KeyCSRFToken)
}

func (s *Session) IsAuthenticated() bool {
	v, _ := s.Data[KeyAuthenticated].(bool)
	return v
}

// Email of the signed in operator.
func (s *Session) Email() string {
	return s.String(KeyEmail)
}

// SetAuthenticated marks the session as logged in with the backend credentials.
// The session never outlives a backend token that carries an expiry. A token that
// expired already leaves the session untouched and yields ErrSessionExpired.
func (s *Session) SetAuthenticated(email string, creds api.Credentials, ttl time.Duration) error {
	expiresAt := ExpiryFor(creds.Token, time.Now().Add(ttl))
	if !time.Now().Before(expiresAt) {
		return ErrSessionExpired
	}

	s.Data[KeyAuthenticated] = true
	s.Data[KeyEmail] = email
	s.Data[KeyAPIToken] = creds.Token
	s.Data[KeyAPICookie] = creds.Cookie
	s.ExpiresAt = expiresAt
	return nil
}

// ClearAuthentication drops the stored backend credentials. Pending flashes and the
// CSRF token stay.
func (s *Session) ClearAuthentication() {
	delete(s.Data, KeyAuthenticated)
	delete(s.Data, KeyEmail)
	delete(s.Data, KeyAPIToken)
	delete(s.Data, KeyAPICookie)
}

func (s *Session) Credentials() api.Credentials {
	return api.Credentials{
		Token:  s.String(KeyAPIToken),
		Cookie: s.String(KeyAPICookie),
	}
}

func (s *Session) AddFlash(t FlashType, message string) {
	flashes := s.flashes()
	s.Data[KeyFlash] = append(flashes, Flash{Type: t, Message: message})
}

// PopFlashes returns the queued flashes and empties the queue.
func (s *Session) PopFlashes() []Flash {
	flashes := s.flashes()
	delete(s.Data, KeyFlash)
	return flashes
}

// flashes decodes the queue whether it still holds []Flash or came back from a
// store as generic JSON.
func (s *Session) flashes() []Flash {
	raw, ok := s.Data[KeyFlash]
	if !ok || raw == nil {
		return nil
	}
	if flashes, ok := raw.([]Flash); ok {
		return flashes
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var flashes []Flash
	if err := json.Unmarshal(b, &flashes); err != nil {
		return nil
	}
	return flashes
}

type contextKey struct{}

func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(*Session)
	return sess, ok && sess != nil
}
