package session

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCapacity = 10000

// MemoryStore keeps sessions in process memory, evicting the least
// recently used conversation once capacity is reached.
type MemoryStore struct {
	cache *lru.Cache[string, State]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[string, State](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Load(_ context.Context, key string) (State, error) {
	state, ok := s.cache.Get(key)
	if !ok {
		return New(), nil
	}
	state.Rates = append(state.Rates[:0:0], state.Rates...)
	return normalize(state), nil
}

func (s *MemoryStore) Save(_ context.Context, key string, state State) error {
	state.Rates = append(state.Rates[:0:0], state.Rates...)
	s.cache.Add(key, state)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
