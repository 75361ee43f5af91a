package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freekieb7/usermanager/internal/util"
)

const (
	CookieName string = "SID"

	DefaultTTL = 8 * time.Hour

	tokenBytes = 32
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Store persists sessions. SaveSession inserts a session whose ID is uuid.Nil and
// updates it otherwise.
type Store interface {
	NewSession() (Session, error)
	GetSessionByToken(ctx context.Context, token string) (Session, error)
	SaveSession(ctx context.Context, sess Session) (Session, error)
	RegenerateSession(ctx context.Context, sess Session) (Session, error)
	DeleteSession(ctx context.Context, token string) error
	Ping(ctx context.Context) error
}

// newSession builds an unsaved session carrying a fresh token and CSRF token.
func newSession(ttl time.Duration) (Session, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	token, err := util.GenerateRandomString(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	csrfToken, err := util.GenerateRandomString(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate CSRF token: %w", err)
	}

	return Session{
		Token:     token,
		Data:      map[string]any{KeyCSRFToken: csrfToken},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// maskToken masks a token for logging (shows only first 8 characters)
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}
