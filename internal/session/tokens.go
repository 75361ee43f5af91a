package session

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/freekieb7/usermanager/internal/api"
)

// ContextTokens reads the backend credentials from the session of the request.
type ContextTokens struct{}

func (ContextTokens) Credentials(ctx context.Context) api.Credentials {
	sess, ok := FromContext(ctx)
	if !ok {
		return api.Credentials{}
	}
	return sess.Credentials()
}

// ExpiryFor returns the earlier of fallback and the exp claim of token. The token is
// issued by the backend and only inspected here, so the signature is not verified.
// Opaque tokens yield fallback.
func ExpiryFor(token string, fallback time.Time) time.Time {
	if token == "" {
		return fallback
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fallback
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	if exp.Time.Before(fallback) {
		return exp.Time
	}
	return fallback
}
