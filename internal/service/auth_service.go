package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"yetti-auth/internal/domain"
	"yetti-auth/internal/repository"
	"yetti-auth/internal/session"
)

// ErrNoSession is returned when a session key does not resolve to a signed-in user.
var ErrNoSession = errors.New("no valid session")

// AuthService ties users to browser sessions.
type AuthService interface {
	// Login starts a fresh session for user, discarding previousKey if set.
	Login(ctx context.Context, user *domain.User, previousKey string) (*domain.Session, error)
	Logout(ctx context.Context, key string) error
	SessionUser(ctx context.Context, key string) (*domain.User, *domain.Session, error)
	// RefreshAuthHash keeps sess valid after user changed their password.
	// The new password hash is read from the repository.
	RefreshAuthHash(ctx context.Context, sess *domain.Session, user *domain.User) (*domain.Session, error)
}

type authService struct {
	users  repository.UserRepository
	store  session.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(users repository.UserRepository, store session.Store, secret string, ttl time.Duration) AuthService {
	return &authService{
		users:  users,
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *authService) Login(ctx context.Context, user *domain.User, previousKey string) (*domain.Session, error) {
	if user == nil || user.ID == 0 {
		return nil, errors.New("login requires a persisted user")
	}
	if previousKey != "" {
		if err := s.store.Delete(ctx, previousKey); err != nil {
			return nil, fmt.Errorf("discard previous session: %w", err)
		}
	}

	stored, err := s.users.GetByID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.now()
	sess := &domain.Session{
		UserID:    stored.ID,
		AuthHash:  s.authHash(stored.PasswordHash),
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	t := now.UTC()
	user.LastLogin = &t
	return sess, nil
}

func (s *authService) Logout(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

func (s *authService) SessionUser(ctx context.Context, key string) (*domain.User, *domain.Session, error) {
	sess, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil, ErrNoSession
		}
		return nil, nil, err
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, s.drop(ctx, key)
		}
		return nil, nil, err
	}

	if !hmac.Equal([]byte(sess.AuthHash), []byte(s.authHash(user.PasswordHash))) {
		return nil, nil, s.drop(ctx, key)
	}
	return sanitizeUser(user), sess, nil
}

func (s *authService) RefreshAuthHash(ctx context.Context, sess *domain.Session, user *domain.User) (*domain.Session, error) {
	if user == nil || user.ID != sess.UserID {
		return nil, errors.New("session belongs to another user")
	}
	stored, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	updated := *sess
	updated.AuthHash = s.authHash(stored.PasswordHash)
	if err := s.store.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return &updated, nil
}

func (s *authService) drop(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	return ErrNoSession
}

// authHash derives a per-password value; sessions stop verifying once the
// password hash changes.
func (s *authService) authHash(passwordHash string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("yetti.session.auth-hash"))
	mac.Write([]byte(passwordHash))
	return hex.EncodeToString(mac.Sum(nil))
}
