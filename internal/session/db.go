package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yetti-auth/internal/domain"
	"yetti-auth/internal/repository"
)

const maxKeyAttempts = 5

// DBStore keeps sessions in the application database.
type DBStore struct {
	repo repository.SessionRepository
	now  func() time.Time
}

func NewDBStore(repo repository.SessionRepository) *DBStore {
	return &DBStore{repo: repo, now: time.Now}
}

func (s *DBStore) Create(ctx context.Context, session *domain.Session) error {
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := NewKey()
		if err != nil {
			return err
		}
		_, err = s.repo.Get(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		session.Key = key
		return s.repo.Save(ctx, session)
	}
	return fmt.Errorf("no unused session key after %d attempts", maxKeyAttempts)
}

func (s *DBStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	session, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if session.Expired(s.now()) {
		if err := s.repo.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *DBStore) Update(ctx context.Context, session *domain.Session) error {
	if session.Key == "" {
		return ErrNotFound
	}
	return s.repo.Save(ctx, session)
}

func (s *DBStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.repo.Delete(ctx, key)
}

func (s *DBStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteExpired(ctx, now)
}
