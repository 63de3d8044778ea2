// Package session keeps server-side sessions for authenticated callers.
//
// Sessions are keyed by a digest of the bearer token the auth service issued;
// the raw token is only ever stored inside the session value.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/vanshika/amlwatch/internal/domain"
)

var (
	// ErrSessionNotFound indicates no live session exists for a token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenExpired indicates the bearer token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidToken indicates the bearer token could not be parsed or verified.
	ErrInvalidToken = errors.New("invalid token")
)

// Store persists sessions.
type Store interface {
	Save(ctx context.Context, s domain.Session) error
	Get(ctx context.Context, token string) (domain.Session, error)
	Delete(ctx context.Context, token string) error
}

const keyPrefix = "session:"

// Key derives the storage key for a bearer token.
func Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// ttlFor returns how long a session should live: until its expiry when one is
// set, otherwise the fallback.
func ttlFor(s domain.Session, fallback time.Duration, now time.Time) (time.Duration, error) {
	if s.ExpiresAt.IsZero() {
		return fallback, nil
	}
	ttl := s.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return 0, ErrTokenExpired
	}
	if fallback > 0 && ttl > fallback {
		return fallback, nil
	}
	return ttl, nil
}
