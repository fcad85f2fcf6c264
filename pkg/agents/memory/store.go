package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryTurnStore keeps turns in process memory.
type InMemoryTurnStore struct {
	sessions map[string][]Turn
	expiry   map[string]time.Time
	mu       sync.RWMutex
}

var _ TurnStore = (*InMemoryTurnStore)(nil)

func NewInMemoryTurnStore() *InMemoryTurnStore {
	return &InMemoryTurnStore{
		sessions: make(map[string][]Turn),
		expiry:   make(map[string]time.Time),
	}
}

func (s *InMemoryTurnStore) Append(_ context.Context, sessionID string, turn Turn, window int, opts ...StoreOption) error {
	options := &StoreOptions{}
	for _, opt := range opts {
		opt(options)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[sessionID], turn)
	if window > 0 && len(turns) > window {
		turns = append([]Turn(nil), turns[len(turns)-window:]...)
	}
	s.sessions[sessionID] = turns

	if options.TTL > 0 {
		s.expiry[sessionID] = time.Now().Add(options.TTL)
	} else {
		delete(s.expiry, sessionID)
	}
	return nil
}

func (s *InMemoryTurnStore) Load(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if exp, ok := s.expiry[sessionID]; ok && time.Now().After(exp) {
		return []Turn{}, nil
	}
	turns := s.sessions[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]Turn{}, turns...), nil
}

func (s *InMemoryTurnStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.expiry, sessionID)
	return nil
}

// CleanExpired removes expired sessions and returns the number of turns dropped.
func (s *InMemoryTurnStore) CleanExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	now := time.Now()
	for id, exp := range s.expiry {
		if now.After(exp) {
			count += int64(len(s.sessions[id]))
			delete(s.sessions, id)
			delete(s.expiry, id)
		}
	}
	return count, nil
}

// Close is a no-op for InMemoryTurnStore
func (s *InMemoryTurnStore) Close() error {
	return nil
}
