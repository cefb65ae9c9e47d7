package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yetti-auth/internal/domain"
	"yetti-auth/internal/repository"
)

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO sessions (session_key, user_id, auth_hash, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_key) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	auth_hash = EXCLUDED.auth_hash,
	expires_at = EXCLUDED.expires_at`,
		session.Key, session.UserID, session.AuthHash, session.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, key string) (*domain.Session, error) {
	var (
		session domain.Session
		expires int64
	)
	err := r.pool.QueryRow(ctx, `
SELECT session_key, user_id, auth_hash, expires_at
FROM sessions
WHERE session_key = $1`, key).Scan(&session.Key, &session.UserID, &session.AuthHash, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.ExpiresAt = time.Unix(expires, 0).UTC()
	return &session, nil
}

func (r *SessionRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE session_key = $1`, key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
