package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vanshika/amlwatch/internal/domain"
)

// RedisStore keeps sessions in Redis with a TTL matching the token expiry.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore builds a RedisStore whose sessions default to the given TTL.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

type storedSession struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	WalletID  string    `json:"wallet_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *RedisStore) Save(ctx context.Context, s domain.Session) error {
	if s.Token == "" {
		return errors.New("session token is required")
	}
	ttl, err := ttlFor(s, r.ttl, time.Now())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(storedSession{
		Token:     s.Token,
		Email:     s.Email,
		Role:      string(s.Role),
		WalletID:  s.WalletID,
		ExpiresAt: s.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.rdb.Set(ctx, Key(s.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, token string) (domain.Session, error) {
	payload, err := r.rdb.Get(ctx, Key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(payload, &stored); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return domain.Session{
		Token:     stored.Token,
		Email:     stored.Email,
		Role:      domain.ParseRole(stored.Role),
		WalletID:  stored.WalletID,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	if err := r.rdb.Del(ctx, Key(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
