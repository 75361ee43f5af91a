package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/freekieb7/usermanager/internal/database"
	"github.com/freekieb7/usermanager/internal/util"
)

// Querier is the part of the pgx pool the postgres store uses. *database.Database
// implements it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	DB  Querier
	ttl time.Duration
}

func NewPostgresStore(db Querier, ttl time.Duration) *PostgresStore {
	return &PostgresStore{
		DB:  db,
		ttl: ttl,
	}
}

func (s *PostgresStore) NewSession() (Session, error) {
	return newSession(s.ttl)
}

func (s *PostgresStore) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	var sess Session
	var dataBytes json.RawMessage

	query := `SELECT id, data, expires_at, created_at FROM tbl_session WHERE token = $1 AND expires_at > NOW()`
	row := s.DB.QueryRow(ctx, query, token)
	if err := row.Scan(&sess.ID, &dataBytes, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("failed to get session by token: %w", err)
	}

	if err := json.Unmarshal(dataBytes, &sess.Data); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session data: %w", err)
	}

	sess.Token = token

	if sess.Data == nil {
		sess.Data = make(map[string]any)
	}

	return sess, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess Session) (Session, error) {
	if !time.Now().Before(sess.ExpiresAt) {
		return Session{}, ErrSessionExpired
	}

	data, err := json.Marshal(sess.Data)
	if err != nil {
		return Session{}, fmt.Errorf("failed to marshal session data: %w", err)
	}

	if sess.ID == uuid.Nil {
		if err := s.DB.QueryRow(ctx, `INSERT INTO tbl_session (token, data, expires_at) VALUES ($1, $2, $3) RETURNING id, created_at`, sess.Token, data, sess.ExpiresAt).Scan(&sess.ID, &sess.CreatedAt); err != nil {
			return Session{}, fmt.Errorf("failed to create session: %w", err)
		}
		return sess, nil
	}

	if _, err := s.DB.Exec(ctx, `UPDATE tbl_session SET data = $1, expires_at = $2 WHERE id = $3`, data, sess.ExpiresAt, sess.ID); err != nil {
		return Session{}, fmt.Errorf("failed to update session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) RegenerateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == uuid.Nil {
		return Session{}, fmt.Errorf("cannot regenerate token for new session")
	}

	newToken, err := util.GenerateRandomString(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate new session token: %w", err)
	}

	if _, err := s.DB.Exec(ctx, `UPDATE tbl_session SET token = $1 WHERE id = $2`, newToken, sess.ID); err != nil {
		return Session{}, fmt.Errorf("failed to regenerate session token: %w", err)
	}

	sess.Token = newToken
	return sess, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.DB.Exec(ctx, `DELETE FROM tbl_session WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	var result int
	return s.DB.QueryRow(ctx, "SELECT 1").Scan(&result)
}
