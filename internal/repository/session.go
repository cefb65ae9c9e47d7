package repository

import (
	"context"
	"time"

	"yetti-auth/internal/domain"
)

// SessionRepository stores server side sessions.
type SessionRepository interface {
	Save(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, key string) (*domain.Session, error)
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
