package utils

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StateStore issues single-use OAuth state values to mitigate CSRF.
type StateStore struct {
	cache *Cache
	ttl   time.Duration
}

func NewStateStore(cache *Cache) *StateStore {
	return &StateStore{cache: cache, ttl: 10 * time.Minute}
}

// New creates and remembers a fresh state value.
func (s *StateStore) New(ctx context.Context) string {
	state := uuid.NewString()
	s.cache.Set(ctx, "oauth:state:"+state, []byte("1"), s.ttl)
	return state
}

// Consume validates and removes a state value.
func (s *StateStore) Consume(ctx context.Context, state string) bool {
	if state == "" {
		return false
	}
	return s.cache.Take(ctx, "oauth:state:"+state)
}
