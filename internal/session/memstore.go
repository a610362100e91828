package session

import (
	"context"
	"sync"
	"time"

	"holectl/internal/domain"
)

// MemoryStore is a mutex-guarded single slot, used by the long-running server
// where the token never needs to outlive the process.
type MemoryStore struct {
	mu        sync.Mutex
	tok       domain.SessionToken
	has       bool
	freshness time.Duration
	now       func() time.Time
}

func NewMemoryStore(freshness time.Duration) *MemoryStore {
	return &MemoryStore{freshness: freshness, now: time.Now}
}

func (s *MemoryStore) Load(ctx context.Context) (domain.SessionToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has || s.tok.Age(s.now()) >= s.freshness {
		return domain.SessionToken{}, false
	}
	return s.tok, true
}

func (s *MemoryStore) Save(ctx context.Context, tok domain.SessionToken) error {
	s.mu.Lock()
	s.tok, s.has = tok, true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.tok, s.has = domain.SessionToken{}, false
	s.mu.Unlock()
	return nil
}
