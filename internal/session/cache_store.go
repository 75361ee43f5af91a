package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/freekieb7/usermanager/internal/cache"
	"github.com/freekieb7/usermanager/internal/util"
)

// CacheStore keeps sessions in the cache service. Backed by Redis it is shared
// between instances; backed by the local cache it lives in process memory.
type CacheStore struct {
	cache  *cache.Service
	logger *slog.Logger
	ttl    time.Duration
}

func NewCacheStore(c *cache.Service, logger *slog.Logger, ttl time.Duration) *CacheStore {
	return &CacheStore{
		cache:  c,
		logger: logger,
		ttl:    ttl,
	}
}

// sessionCacheKey generates a cache key for a session token
func sessionCacheKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func (s *CacheStore) NewSession() (Session, error) {
	return newSession(s.ttl)
}

func (s *CacheStore) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	var sess Session
	if err := s.cache.Get(ctx, sessionCacheKey(token), &sess); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("failed to get session by token: %w", err)
	}

	if !time.Now().Before(sess.ExpiresAt) {
		return Session{}, ErrSessionNotFound
	}

	sess.Token = token
	if sess.Data == nil {
		sess.Data = make(map[string]any)
	}
	return sess, nil
}

func (s *CacheStore) SaveSession(ctx context.Context, sess Session) (Session, error) {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return Session{}, ErrSessionExpired
	}

	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
		sess.CreatedAt = time.Now()
	}

	if err := s.cache.Set(ctx, sessionCacheKey(sess.Token), sess, ttl); err != nil {
		return Session{}, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.DebugContext(ctx, "Session saved", "token", maskToken(sess.Token))
	return sess, nil
}

func (s *CacheStore) RegenerateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == uuid.Nil {
		return Session{}, fmt.Errorf("cannot regenerate token for new session")
	}

	oldToken := sess.Token
	newToken, err := util.GenerateRandomString(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate new session token: %w", err)
	}

	sess.Token = newToken
	saved, err := s.SaveSession(ctx, sess)
	if err != nil {
		return Session{}, fmt.Errorf("failed to regenerate session token: %w", err)
	}

	if err := s.cache.Delete(ctx, sessionCacheKey(oldToken)); err != nil {
		s.logger.WarnContext(ctx, "Failed to delete replaced session", "error", err, "token", maskToken(oldToken))
	}
	return saved, nil
}

func (s *CacheStore) DeleteSession(ctx context.Context, token string) error {
	if err := s.cache.Delete(ctx, sessionCacheKey(token)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *CacheStore) Ping(ctx context.Context) error {
	return s.cache.Health(ctx)
}
