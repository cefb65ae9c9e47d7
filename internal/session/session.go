// Package session provides the storage engines behind the session cookie.
//
// Three engines exist: the database engine persists sessions through a
// repository, the cache engine keeps them in redis with a TTL, and the
// signed cookie engine keeps no server state at all and encodes the session
// in the cookie value as a signed JWT.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"yetti-auth/internal/domain"
)

// ErrNotFound is returned for unknown, expired or tampered session keys.
var ErrNotFound = errors.New("session not found")

const (
	keyLength = 32
	keyChars  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Store persists sessions. Create and Update assign session.Key; callers must
// send the resulting key back to the client.
type Store interface {
	Create(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, key string) (*domain.Session, error)
	Update(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// NewKey returns a random session key.
func NewKey() (string, error) {
	max := big.NewInt(int64(len(keyChars)))
	b := make([]byte, keyLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate session key: %w", err)
		}
		b[i] = keyChars[n.Int64()]
	}
	return string(b), nil
}
