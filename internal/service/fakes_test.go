package service

import (
	"context"
	"time"

	"yetti-auth/internal/domain"
	"yetti-auth/internal/repository"
)

type memoryUserRepo struct {
	byID   map[int64]*domain.User
	nextID int64
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{byID: make(map[int64]*domain.User)}
}

func (m *memoryUserRepo) Create(ctx context.Context, user *domain.User) (int64, error) {
	for _, u := range m.byID {
		if u.Username == user.Username {
			return 0, repository.ErrAlreadyExists
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	m.byID[user.ID] = &copied
	return user.ID, nil
}

func (m *memoryUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, u := range m.byID {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memoryUserRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at
	u.LastLogin = &t
	return nil
}

type memorySessionRepo struct {
	rows map[string]domain.Session
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{rows: make(map[string]domain.Session)}
}

func (m *memorySessionRepo) Save(ctx context.Context, s *domain.Session) error {
	m.rows[s.Key] = *s
	return nil
}

func (m *memorySessionRepo) Get(ctx context.Context, key string) (*domain.Session, error) {
	s, ok := m.rows[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m *memorySessionRepo) Delete(ctx context.Context, key string) error {
	delete(m.rows, key)
	return nil
}

func (m *memorySessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
