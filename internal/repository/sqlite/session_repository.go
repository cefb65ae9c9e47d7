package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"yetti-auth/internal/domain"
	"yetti-auth/internal/repository"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) repository.SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sessions (session_key, user_id, auth_hash, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_key) DO UPDATE SET
	user_id = excluded.user_id,
	auth_hash = excluded.auth_hash,
	expires_at = excluded.expires_at`,
		session.Key,
		session.UserID,
		session.AuthHash,
		session.ExpiresAt.Unix(),
	)
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
	err := r.db.QueryRowContext(ctx, `
SELECT session_key, user_id, auth_hash, expires_at
FROM sessions
WHERE session_key = ?`,
		key,
	).Scan(&session.Key, &session.UserID, &session.AuthHash, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.ExpiresAt = time.Unix(expires, 0).UTC()
	return &session, nil
}

func (r *SessionRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired sessions rows affected: %w", err)
	}
	return n, nil
}
