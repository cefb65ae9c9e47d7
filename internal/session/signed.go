package session

import (
	"context"
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"yetti-auth/internal/domain"
)

const signedIssuer = "yetti-auth"

type signedClaims struct {
	UserID   int64  `json:"uid"`
	AuthHash string `json:"ah"`
	jwtlib.RegisteredClaims
}

// SignedCookieStore keeps the whole session inside the cookie as an HS256
// token. Delete cannot revoke an issued token; it stays valid until it
// expires or the user's auth hash changes.
type SignedCookieStore struct {
	secret []byte
	now    func() time.Time
}

func NewSignedCookieStore(secret string) *SignedCookieStore {
	return &SignedCookieStore{secret: []byte(secret), now: time.Now}
}

func (s *SignedCookieStore) Create(ctx context.Context, session *domain.Session) error {
	return s.sign(session)
}

func (s *SignedCookieStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	parsed, err := jwtlib.ParseWithClaims(key, &signedClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(signedIssuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrNotFound
	}
	claims, ok := parsed.Claims.(*signedClaims)
	if !ok || !parsed.Valid {
		return nil, ErrNotFound
	}
	return &domain.Session{
		Key:       key,
		UserID:    claims.UserID,
		AuthHash:  claims.AuthHash,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Update reissues the token, so session.Key changes.
func (s *SignedCookieStore) Update(ctx context.Context, session *domain.Session) error {
	return s.sign(session)
}

func (s *SignedCookieStore) Delete(ctx context.Context, key string) error {
	return nil
}

func (s *SignedCookieStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *SignedCookieStore) sign(session *domain.Session) error {
	if len(s.secret) == 0 {
		return errors.New("signed cookie sessions need a secret key")
	}
	now := s.now()
	claims := signedClaims{
		UserID:   session.UserID,
		AuthHash: session.AuthHash,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    signedIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(session.ExpiresAt),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return err
	}
	session.Key = token
	return nil
}
