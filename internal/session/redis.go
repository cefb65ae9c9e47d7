package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"yetti-auth/internal/domain"
)

const redisKeyPrefix = "yetti:session:"

type redisPayload struct {
	UserID    int64  `json:"user_id"`
	AuthHash  string `json:"auth_hash"`
	ExpiresAt int64  `json:"expires_at"`
}

// RedisStore keeps sessions in redis and lets key expiry drop stale ones.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        10,
		MinIdleConns:    2,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Create(ctx context.Context, session *domain.Session) error {
	payload, ttl, err := s.encode(session)
	if err != nil {
		return err
	}
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := NewKey()
		if err != nil {
			return err
		}
		ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, payload, ttl).Result()
		if err != nil {
			return fmt.Errorf("redis setnx session: %w", err)
		}
		if ok {
			session.Key = key
			return nil
		}
	}
	return fmt.Errorf("no unused session key after %d attempts", maxKeyAttempts)
}

func (s *RedisStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var p redisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	session := &domain.Session{
		Key:       key,
		UserID:    p.UserID,
		AuthHash:  p.AuthHash,
		ExpiresAt: time.Unix(p.ExpiresAt, 0).UTC(),
	}
	if session.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *RedisStore) Update(ctx context.Context, session *domain.Session) error {
	if session.Key == "" {
		return ErrNotFound
	}
	payload, ttl, err := s.encode(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+session.Key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op; redis expires keys on its own.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) encode(session *domain.Session) ([]byte, time.Duration, error) {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil, 0, errors.New("session already expired")
	}
	payload, err := json.Marshal(redisPayload{
		UserID:    session.UserID,
		AuthHash:  session.AuthHash,
		ExpiresAt: session.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode session: %w", err)
	}
	return payload, ttl, nil
}
