package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vanshika/amlwatch/internal/domain"
)

// MemoryStore is an in-process Store used in tests and when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	session  domain.Session
	deadline time.Time
}

// NewMemoryStore builds a MemoryStore whose sessions default to the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Save(_ context.Context, s domain.Session) error {
	if s.Token == "" {
		return errors.New("session token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ttl, err := ttlFor(s, m.ttl, now)
	if err != nil {
		return err
	}
	entry := memoryEntry{session: s}
	if ttl > 0 {
		entry.deadline = now.Add(ttl)
	}
	m.entries[Key(s.Token)] = entry
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key(token)
	entry, ok := m.entries[key]
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	if !entry.deadline.IsZero() && !m.now().Before(entry.deadline) {
		delete(m.entries, key)
		return domain.Session{}, ErrSessionNotFound
	}
	return entry.session, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, Key(token))
	return nil
}
